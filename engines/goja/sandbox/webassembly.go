package sandbox

import (
	"context"
	"fmt"
	"math"

	"github.com/dop251/goja"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const webAssemblyGlue = `(function (g, validate, instantiate) {
	g.WebAssembly = {
		validate: validate,
		instantiate: function (bytes) {
			return new Promise(function (resolve) {
				resolve(instantiate(bytes));
			});
		}
	};
})`

// webAssembly implements a WebAssembly object for plain numeric modules.
// Imports are not supported.
type webAssembly struct {
	c       *Context
	runtime wazero.Runtime
}

func (c *Context) installWebAssembly() error {
	w := &webAssembly{c: c, runtime: wazero.NewRuntime(context.Background())}
	c.closers = append(c.closers, w.runtime.Close)

	glue, err := c.vm.RunString(webAssemblyGlue)
	if err != nil {
		return err
	}
	install, ok := goja.AssertFunction(glue)
	if !ok {
		return fmt.Errorf("webassembly glue is not a function")
	}
	_, err = install(
		goja.Undefined(),
		c.vm.GlobalObject(),
		c.vm.ToValue(w.validate),
		c.vm.ToValue(w.instantiate),
	)
	return err
}

func (w *webAssembly) validate(call goja.FunctionCall) goja.Value {
	bytes, err := w.bytes(call.Argument(0))
	if err != nil {
		panic(w.c.vm.NewTypeError(err.Error()))
	}
	ctx := w.c.runContext()
	compiled, err := w.runtime.CompileModule(ctx, bytes)
	if err != nil {
		return w.c.vm.ToValue(false)
	}
	_ = compiled.Close(ctx)
	return w.c.vm.ToValue(true)
}

func (w *webAssembly) instantiate(call goja.FunctionCall) goja.Value {
	vm := w.c.vm
	bytes, err := w.bytes(call.Argument(0))
	if err != nil {
		panic(vm.NewTypeError(err.Error()))
	}

	ctx := w.c.runContext()
	compiled, err := w.runtime.CompileModule(ctx, bytes)
	if err != nil {
		panic(vm.NewGoError(fmt.Errorf("compiling wasm module: %w", err)))
	}
	mod, err := w.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		panic(vm.NewGoError(fmt.Errorf("instantiating wasm module: %w", err)))
	}
	w.c.closers = append(w.c.closers, mod.Close)

	exports := vm.NewObject()
	for name, def := range compiled.ExportedFunctions() {
		fn := mod.ExportedFunction(name)
		_ = exports.Set(name, w.export(fn, def))
	}

	instance := vm.NewObject()
	_ = instance.Set("exports", exports)
	result := vm.NewObject()
	_ = result.Set("instance", instance)
	_ = result.Set("module", vm.NewObject())
	return result
}

func (w *webAssembly) export(fn api.Function, def api.FunctionDefinition) func(goja.FunctionCall) goja.Value {
	vm := w.c.vm
	params := def.ParamTypes()
	results := def.ResultTypes()

	return func(call goja.FunctionCall) goja.Value {
		stack := make([]uint64, len(params))
		for i, t := range params {
			stack[i] = encode(t, call.Argument(i).ToFloat())
		}
		out, err := fn.Call(w.c.runContext(), stack...)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		if len(results) == 0 || len(out) == 0 {
			return goja.Undefined()
		}
		return vm.ToValue(decode(results[0], out[0]))
	}
}

func (w *webAssembly) bytes(v goja.Value) ([]byte, error) {
	switch b := v.Export().(type) {
	case []byte:
		return b, nil
	case goja.ArrayBuffer:
		return b.Bytes(), nil
	case []any:
		out := make([]byte, len(b))
		for i, x := range b {
			n, ok := x.(int64)
			if !ok || n < 0 || n > 255 {
				return nil, fmt.Errorf("byte %d is not in range", i)
			}
			out[i] = byte(n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a buffer source, got %T", b)
	}
}

func encode(t api.ValueType, f float64) uint64 {
	switch t {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(f))
	case api.ValueTypeI64:
		return api.EncodeI64(int64(f))
	case api.ValueTypeF32:
		return api.EncodeF32(float32(f))
	default:
		return api.EncodeF64(f)
	}
}

func decode(t api.ValueType, v uint64) any {
	switch t {
	case api.ValueTypeI32:
		return int64(api.DecodeI32(v))
	case api.ValueTypeI64:
		return int64(v)
	case api.ValueTypeF32:
		return float64(api.DecodeF32(v))
	default:
		return math.Float64frombits(v)
	}
}
