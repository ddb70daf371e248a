package sandbox

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/robbyt/go-jsglobals/engines/extism"
	"github.com/robbyt/go-jsglobals/engines/goja/internal/esm"
	"github.com/robbyt/go-jsglobals/engines/risor"
	"github.com/robbyt/go-jsglobals/engines/starlark"
	"github.com/robbyt/go-jsglobals/platform/constants"
	"github.com/robbyt/go-jsglobals/platform/modules"
)

// ErrDynamicLoadDisabled is returned when a snippet loads a module while
// dynamic loading is not allowed for the run.
var ErrDynamicLoadDisabled = errors.New("dynamic module loading is not allowed for this run")

// namespaceFn is the property of the loader that rewritten import
// statements call for a module's namespace object.
const namespaceFn = "__namespace"

// remotePrefix roots the registry paths of http and https modules, as in
// "/@https/cdn.example.com/lib.js".
const remotePrefix = "/@"

// nativePrefix names the native modules registered for Go-valued modules.
const nativePrefix = "jsglobals-native-"

// record is a module known to the registry. name is what the registry
// loads it by: a path for source modules, a generated name for native ones.
type record struct {
	url    string
	name   string
	format modules.Format

	// namespaced is set when the exports object is the namespace.
	namespaced bool
	namespace  *goja.Object
	started    bool
}

// registryPath maps a module URL into the registry's path space.
func registryPath(u string) (string, bool) {
	switch {
	case strings.HasPrefix(u, "file://"):
		return strings.TrimPrefix(u, "file://"), true
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		scheme, rest, _ := strings.Cut(u, "://")
		return remotePrefix + scheme + "/" + rest, true
	}
	return "", false
}

// moduleURL is the inverse of registryPath.
func moduleURL(p string) (string, bool) {
	switch {
	case strings.HasPrefix(p, remotePrefix+"http/"), strings.HasPrefix(p, remotePrefix+"https/"):
		scheme, rest, _ := strings.Cut(strings.TrimPrefix(p, remotePrefix), "/")
		return scheme + "://" + rest, true
	case strings.HasPrefix(p, "/"):
		return "file://" + p, true
	}
	return "", false
}

const dynamicImportGlue = `(function (load) {
	return function (specifier) {
		return new Promise(function (resolve, reject) {
			load(String(specifier), resolve, reject);
		});
	};
})`

// newImporter returns the function behind import() and rewritten import
// statements. Specifiers resolve against referrer.
func (c *Context) newImporter(referrer string) (goja.Value, error) {
	glue, err := c.vm.RunString(dynamicImportGlue)
	if err != nil {
		return nil, err
	}
	wrap, ok := goja.AssertFunction(glue)
	if !ok {
		return nil, fmt.Errorf("import glue is not a function")
	}
	return wrap(goja.Undefined(), c.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		c.load(call.Argument(0).String(), referrer, call.Argument(1), call.Argument(2))
		return goja.Undefined()
	}))
}

// load fetches spec off the loop, then instantiates it on the loop and
// settles the promise through resolve or reject.
func (c *Context) load(spec, referrer string, resolve, reject goja.Value) {
	resolveFn, _ := goja.AssertFunction(resolve)
	rejectFn, _ := goja.AssertFunction(reject)
	fail := func(err error) {
		_, _ = rejectFn(goja.Undefined(), c.vm.NewGoError(err))
	}
	settle := func() {
		ns, err := c.Import(spec, referrer)
		if err != nil {
			fail(err)
			return
		}
		_, _ = resolveFn(goja.Undefined(), ns)
	}

	if !c.run.allowDynamicLoad {
		fail(fmt.Errorf("%w: %q", ErrDynamicLoadDisabled, spec))
		return
	}
	if u, err := c.resolver.Resolve(spec, referrer); err == nil {
		if _, ok := c.records[u.String()]; ok {
			settle()
			return
		}
	}

	ctx := c.runContext()
	c.spawn(func() func() {
		src, err := c.resolver.Fetch(ctx, spec, referrer)
		return func() {
			if err != nil {
				c.metrics.ObserveModuleLoad("unknown", err)
				fail(err)
				return
			}
			c.fetched[src.URL.String()] = src
			settle()
		}
	})
}

// Import loads spec synchronously and returns its namespace object.
func (c *Context) Import(spec, referrer string) (*goja.Object, error) {
	rec, exports, err := c.require(spec, referrer)
	if err != nil {
		return nil, err
	}
	return c.namespace(rec, exports), nil
}

// require resolves spec and loads it through the registry, which caches
// module objects and hands out partial exports to cyclic requires.
func (c *Context) require(spec, referrer string) (*record, goja.Value, error) {
	u, err := c.resolver.Resolve(spec, referrer)
	if err != nil {
		return nil, nil, err
	}
	key := u.String()

	rec, ok := c.records[key]
	if !ok {
		src, ok := c.fetched[key]
		if ok {
			delete(c.fetched, key)
		} else if src, err = c.resolver.Fetch(c.runContext(), spec, referrer); err != nil {
			c.metrics.ObserveModuleLoad("unknown", err)
			return nil, nil, err
		}
		if rec, err = c.register(src); err != nil {
			c.metrics.ObserveModuleLoad(string(src.Format), err)
			return nil, nil, fmt.Errorf("loading %s: %w", key, err)
		}
	}

	first := !rec.started
	rec.started = true
	exports, err := c.withLoader(func() (goja.Value, error) {
		return c.rm.Require(rec.name)
	})
	if first {
		c.metrics.ObserveModuleLoad(string(rec.format), err)
	}
	if err != nil {
		rec.started = false
		return nil, nil, fmt.Errorf("loading %s: %w", key, err)
	}
	if first {
		c.logger.Debug("module instantiated", "url", key, "format", rec.format)
	}
	return rec, exports, nil
}

// withLoader makes the loader a global while fn runs. The registry hands
// the global require to the modules it instantiates.
func (c *Context) withLoader(fn func() (goja.Value, error)) (goja.Value, error) {
	global := c.vm.GlobalObject()
	prev := global.Get(constants.Loader)
	if prev == goja.Value(c.loader) {
		return fn()
	}
	if err := global.Set(constants.Loader, c.loader); err != nil {
		return nil, err
	}
	defer func() {
		if prev == nil {
			_ = global.Delete(constants.Loader)
			return
		}
		_ = global.Set(constants.Loader, prev)
	}()
	return fn()
}

// register records a fetched module. Source formats are served to the
// registry by source; the others become native modules holding their value.
func (c *Context) register(src *modules.Source) (*record, error) {
	key := src.URL.String()
	rec := &record{url: key, format: src.Format}

	if p, ok := registryPath(key); ok && (src.Format == modules.FormatJS || src.Format.IsData()) {
		rec.name = p
		c.fetched[key] = src
		c.records[key] = rec
		return rec, nil
	}

	value, namespaced, err := c.build(src)
	if err != nil {
		return nil, err
	}
	rec.name = fmt.Sprintf("%s%d", nativePrefix, len(c.records))
	rec.namespaced = namespaced
	c.registry.RegisterNativeModule(rec.name, func(_ *goja.Runtime, module *goja.Object) {
		_ = module.Set("exports", value)
	})
	c.records[key] = rec
	return rec, nil
}

// source is the registry's source loader. Paths it has no module for are
// fetched through the resolver, so extension probing sees the same policy.
func (c *Context) source(p string) ([]byte, error) {
	key, ok := moduleURL(p)
	if !ok {
		return nil, require.ModuleFileDoesNotExistError
	}

	src, ok := c.fetched[key]
	if ok {
		delete(c.fetched, key)
	} else {
		fetched, err := c.resolver.Fetch(c.runContext(), key, "")
		if errors.Is(err, modules.ErrNotFound) {
			return nil, require.ModuleFileDoesNotExistError
		}
		if err != nil {
			return nil, err
		}
		src = fetched
	}

	body, namespaced, err := c.script(p, src)
	if err != nil {
		return nil, err
	}
	rec, ok := c.records[key]
	if !ok {
		rec = &record{url: key, name: p, format: src.Format, started: true}
		c.records[key] = rec
	}
	rec.namespaced = namespaced
	return body, nil
}

// script returns the CommonJS text the registry compiles for src. Module
// syntax is rewritten, data is inlined as a literal.
func (c *Context) script(p string, src *modules.Source) ([]byte, bool, error) {
	switch {
	case src.Format == modules.FormatJS:
		body := string(src.Body)
		m, err := esm.Scan(body)
		if err != nil {
			return nil, false, err
		}
		if len(m.Imports) == 0 && len(m.Exports) == 0 {
			return src.Body, false, nil
		}
		body = esm.Rewrite(body, m, esm.Rewriter{
			Namespace: func(_ int, imp esm.Import) string {
				return constants.Loader + "." + namespaceFn + "(" + strconv.Quote(imp.Specifier) + ")"
			},
			Exports: "exports",
		})
		return []byte(body), true, nil

	case src.Format == modules.FormatJSON && path.Ext(p) == ".json":
		return src.Body, false, nil

	case src.Format.IsData():
		value, err := modules.DecodeData(src.Format, src.Body)
		if err != nil {
			return nil, false, err
		}
		literal, err := sonic.Marshal(value)
		if err != nil {
			return nil, false, err
		}
		return []byte("module.exports = " + string(literal) + ";"), false, nil
	}
	return nil, false, fmt.Errorf("%w: %q", modules.ErrFormat, src.Format)
}

// build runs a module whose value comes from Go.
func (c *Context) build(src *modules.Source) (goja.Value, bool, error) {
	ctx := c.runContext()

	switch src.Format {
	case modules.FormatHost:
		return c.vm.ToValue(src.Host), false, nil

	case modules.FormatStarlark:
		globals, err := starlark.New(c.handler).Exec(ctx, path.Base(src.URL.Path), src.Body)
		if err != nil {
			return nil, false, err
		}
		return c.vm.ToValue(globals), false, nil

	case modules.FormatRisor:
		value, err := risor.New(c.handler).Exec(ctx, path.Base(src.URL.Path), src.Body)
		if err != nil {
			return nil, false, err
		}
		return c.vm.ToValue(value), false, nil

	case modules.FormatWasm:
		plugin, err := extism.Load(ctx, c.handler, src.Body, c.cfg.Extism)
		if err != nil {
			return nil, false, err
		}
		c.mu.Lock()
		c.closers = append(c.closers, plugin.Close)
		c.mu.Unlock()
		return c.vm.NewDynamicObject(&pluginObject{c: c, plugin: plugin}), true, nil
	}
	return nil, false, fmt.Errorf("%w: %q", modules.ErrFormat, src.Format)
}

// namespace returns the namespace object of a loaded module. Modules that
// don't export a namespace get one holding their own keys and the value
// itself as default.
func (c *Context) namespace(rec *record, exports goja.Value) *goja.Object {
	if rec.namespace != nil {
		return rec.namespace
	}
	if rec.namespaced {
		ns := exports.ToObject(c.vm)
		rec.namespace = ns
		return ns
	}

	ns := c.vm.NewObject()
	if obj, ok := exports.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn {
			for _, k := range obj.Keys() {
				_ = ns.Set(k, obj.Get(k))
			}
		}
	}
	_ = ns.Set("default", exports)
	rec.namespace = ns
	return ns
}

// newLoader returns the require function snippets and modules see.
// Specifiers resolve against the calling module, or the resolver's base
// for code that isn't a module.
func (c *Context) newLoader() *goja.Object {
	loader := c.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		_, exports, err := c.require(call.Argument(0).String(), c.caller())
		if err != nil {
			panic(c.vm.NewGoError(err))
		}
		return exports
	}).ToObject(c.vm)

	_ = loader.Set(namespaceFn, func(call goja.FunctionCall) goja.Value {
		ns, err := c.Import(call.Argument(0).String(), c.caller())
		if err != nil {
			panic(c.vm.NewGoError(err))
		}
		return ns
	})
	return loader
}

// caller returns the URL of the module calling into the loader.
func (c *Context) caller() string {
	frames := c.vm.CaptureCallStack(2, nil)
	if len(frames) < 2 {
		return ""
	}
	key, ok := moduleURL(frames[1].SrcName())
	if !ok {
		return ""
	}
	if _, known := c.records[key]; !known {
		return ""
	}
	return key
}

// pluginObject exposes the functions of an Extism plugin as properties.
type pluginObject struct {
	c      *Context
	plugin *extism.Plugin
}

func (p *pluginObject) Get(key string) goja.Value {
	vm := p.c.vm
	if key == "default" {
		return vm.NewDynamicObject(p)
	}
	if !p.plugin.Has(key) {
		return nil
	}
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		var input any
		if len(call.Arguments) > 0 {
			input = call.Argument(0).Export()
		}
		out, err := p.plugin.Call(p.c.runContext(), key, input)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(out)
	})
}

func (p *pluginObject) Set(string, goja.Value) bool { return false }

func (p *pluginObject) Has(key string) bool {
	return key == "default" || p.plugin.Has(key)
}

func (p *pluginObject) Delete(string) bool { return false }

func (p *pluginObject) Keys() []string { return nil }
