// Package sandbox builds the isolated goja runtimes snippets run in.
//
// A Context owns one runtime and the event loop driving it, and must be used
// from one goroutine at a time. The runtime is used directly while the loop
// is stopped; Await runs the loop until the awaited promise settles. Callers
// sharing a Context between runs serialize those runs themselves.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"

	"github.com/robbyt/go-jsglobals/engines/extism"
	"github.com/robbyt/go-jsglobals/internal/helpers"
	"github.com/robbyt/go-jsglobals/internal/metrics"
	"github.com/robbyt/go-jsglobals/platform/constants"
	"github.com/robbyt/go-jsglobals/platform/modules"
)

// ErrNotAPromise is returned by Await for values that are not promises.
var ErrNotAPromise = errors.New("value is not a promise")

// ambientModule prefixes the registry names of ambient consoles.
const ambientModule = "jsglobals-ambient-"

// Config configures Build.
type Config struct {
	Handler slog.Handler

	// ReuseAmbientEnvironment lets lookups the seed can't satisfy fall
	// through to the Ambient table.
	ReuseAmbientEnvironment bool

	// ExposeLoader makes a synchronous require available, resolving
	// against the resolver's base location.
	ExposeLoader bool

	CodeGeneration CodeGeneration

	// Ambient is the host facility table. Nil means DefaultAmbient.
	Ambient Ambient

	// Resolver resolves and fetches modules. Nil resolves against the
	// working directory.
	Resolver *modules.Resolver

	// Extism configures plugins loaded from .wasm modules.
	Extism *extism.Settings

	Metrics *metrics.Recorder

	// MaxCallStackSize limits recursion depth, 0 keeps the goja default.
	MaxCallStackSize int
}

type runState struct {
	ctx              context.Context
	allowDynamicLoad bool
}

// Context is an isolated runtime seeded with caller data.
type Context struct {
	vm       *goja.Runtime
	loop     *eventloop.EventLoop
	work     *hostWork
	registry *require.Registry
	rm       *require.RequireModule
	loader   *goja.Object
	cfg      Config
	handler  slog.Handler
	logger   *slog.Logger
	resolver *modules.Resolver
	metrics  *metrics.Recorder
	ambient  Ambient
	globals  map[string]goja.Value
	importer goja.Callable

	records map[string]*record
	fetched map[string]*modules.Source

	mu      sync.Mutex
	closers []func(context.Context) error

	run runState
}

// Build returns a Context for seed. A *Context seed is returned unchanged and
// stays owned by the caller; otherwise seed must be nil or a map[string]any.
func Build(seed any, cfg Config) (*Context, error) {
	switch s := seed.(type) {
	case *Context:
		return s, nil
	case nil:
		return newContext(nil, cfg, false)
	case map[string]any:
		return newContext(s, cfg, false)
	default:
		return nil, fmt.Errorf("unsupported seed type %T", seed)
	}
}

// NewHost returns a Context for the object-export strategy. Ambient
// facilities are plain globals and a CommonJS module scope is available
// through Module.
func NewHost(cfg Config) (*Context, error) {
	return newContext(nil, cfg, true)
}

func newContext(seed map[string]any, cfg Config, host bool) (*Context, error) {
	handler, logger := helpers.SetupLogger(cfg.Handler, "goja", "Sandbox")

	resolver := cfg.Resolver
	if resolver == nil {
		r, err := modules.NewResolver(modules.Config{Handler: handler})
		if err != nil {
			return nil, err
		}
		resolver = r
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Discard()
	}
	ambient := cfg.Ambient
	if ambient == nil {
		ambient = DefaultAmbient(logger)
	}

	c := &Context{
		work:     newHostWork(),
		cfg:      cfg,
		handler:  handler,
		logger:   logger,
		resolver: resolver,
		metrics:  rec,
		ambient:  ambient,
		records:  make(map[string]*record),
		fetched:  make(map[string]*modules.Source),
		run:      runState{ctx: context.Background()},
	}
	c.registry = require.NewRegistry(require.WithLoader(c.source))
	c.loop = eventloop.NewEventLoop(
		eventloop.WithRegistry(c.registry),
		eventloop.EnableConsole(false),
	)
	c.loop.Run(func(vm *goja.Runtime) {
		c.vm = vm
	})

	vm := c.vm
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	if cfg.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(cfg.MaxCallStackSize)
	}
	c.rm = c.registry.Enable(vm)
	if host || cfg.ReuseAmbientEnvironment {
		globals, err := c.ambientGlobals()
		if err != nil {
			return nil, fmt.Errorf("installing ambient facilities: %w", err)
		}
		c.globals = globals
	}
	if err := vm.GlobalObject().Delete(constants.Loader); err != nil {
		return nil, err
	}
	c.loader = c.newLoader()

	if !cfg.CodeGeneration.Strings {
		if err := lockdown(vm); err != nil {
			return nil, fmt.Errorf("locking down code generation: %w", err)
		}
	}
	if cfg.CodeGeneration.Wasm {
		if err := c.installWebAssembly(); err != nil {
			return nil, fmt.Errorf("installing WebAssembly: %w", err)
		}
	}

	importer, err := c.newImporter(resolver.Base().String())
	if err != nil {
		return nil, err
	}
	if err := vm.Set(constants.DynamicImport, importer); err != nil {
		return nil, err
	}
	c.importer, _ = goja.AssertFunction(importer)

	switch {
	case host:
		for name, v := range c.globals {
			if err := vm.Set(name, v); err != nil {
				return nil, err
			}
		}
		if err := vm.Set(constants.Loader, c.loader); err != nil {
			return nil, err
		}
	case cfg.ReuseAmbientEnvironment || cfg.ExposeLoader:
		vm.SetGlobalObject(vm.NewDynamicObject(&scope{
			c:        c,
			builtins: vm.GlobalObject(),
			seed:     seed,
			locals:   make(map[string]goja.Value),
			ambient:  cfg.ReuseAmbientEnvironment,
			loader:   cfg.ExposeLoader,
		}))
	default:
		for name, v := range seed {
			if err := vm.Set(name, v); err != nil {
				return nil, fmt.Errorf("seeding %q: %w", name, err)
			}
		}
	}

	logger.Debug("context built",
		"seedKeys", len(seed),
		"host", host,
		"reuseAmbient", cfg.ReuseAmbientEnvironment,
		"exposeLoader", cfg.ExposeLoader,
	)
	return c, nil
}

// Runtime returns the goja runtime of the context.
func (c *Context) Runtime() *goja.Runtime {
	return c.vm
}

// Ambient returns the ambient table of the context.
func (c *Context) Ambient() Ambient {
	return c.ambient
}

// Resolver returns the module resolver of the context.
func (c *Context) Resolver() *modules.Resolver {
	return c.resolver
}

// Module sets fresh module and exports globals and returns the module object.
func (c *Context) Module() (*goja.Object, error) {
	module := c.vm.NewObject()
	exports := c.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := c.vm.Set("module", module); err != nil {
		return nil, err
	}
	if err := c.vm.Set("exports", exports); err != nil {
		return nil, err
	}
	return module, nil
}

// Begin prepares the context for one run. Canceling ctx interrupts running
// script code. The returned function ends the run.
func (c *Context) Begin(ctx context.Context, allowDynamicLoad bool) func() {
	c.run = runState{ctx: ctx, allowDynamicLoad: allowDynamicLoad}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			c.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-stopped
		c.vm.ClearInterrupt()
		c.run = runState{ctx: context.Background()}
	}
}

func (c *Context) runContext() context.Context {
	if c.run.ctx == nil {
		return context.Background()
	}
	return c.run.ctx
}

// Await drives pending host work until the promise v settles, then returns
// its result. A rejected promise is returned as a *goja.Exception.
func (c *Context) Await(ctx context.Context, v goja.Value) (goja.Value, error) {
	p, ok := Promise(v)
	if !ok {
		return nil, ErrNotAPromise
	}
	if p.State() == goja.PromiseStatePending {
		if err := c.settle(ctx, v, p); err != nil {
			return nil, err
		}
	}

	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	default:
		return nil, rejection(c.vm, p.Result())
	}
}

// Load imports spec the way a dynamic import does, relative to the
// resolver's base, and waits for its namespace object.
func (c *Context) Load(ctx context.Context, spec string) (*goja.Object, error) {
	p, err := c.importer(goja.Undefined(), c.vm.ToValue(spec))
	if err != nil {
		return nil, err
	}
	v, err := c.Await(ctx, p)
	if err != nil {
		return nil, err
	}
	return v.ToObject(c.vm), nil
}

// Promise returns the promise held by v.
func Promise(v goja.Value) (*goja.Promise, bool) {
	if v == nil {
		return nil, false
	}
	p, ok := v.Export().(*goja.Promise)
	return p, ok
}

// rejection turns a rejection reason into the error goja returns for a
// thrown value.
func rejection(vm *goja.Runtime, reason goja.Value) error {
	thrower, err := vm.RunString("(function (e) { throw e; })")
	if err != nil {
		return err
	}
	fn, _ := goja.AssertFunction(thrower)
	_, err = fn(goja.Undefined(), reason)
	return err
}

// Close stops the event loop with its timers and releases wasm runtimes
// and plugins loaded by the context.
func (c *Context) Close(ctx context.Context) error {
	c.loop.Terminate()

	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ambientGlobals converts the ambient table into runtime values. Entries
// that print like a console become a Node-style console object formatting
// its arguments before handing them to the printer.
func (c *Context) ambientGlobals() (map[string]goja.Value, error) {
	globals := make(map[string]goja.Value, len(c.ambient))
	for name, v := range c.ambient {
		printer, ok := v.(console.Printer)
		if !ok {
			globals[name] = c.vm.ToValue(v)
			continue
		}
		module := ambientModule + name
		c.registry.RegisterNativeModule(module, console.RequireWithPrinter(printer))
		obj, err := c.rm.Require(module)
		if err != nil {
			return nil, err
		}
		globals[name] = obj
	}
	return globals, nil
}
