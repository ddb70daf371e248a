// Package normalize converts values returned by the runtime into plain Go data.
//
// Plain objects, whose prototype is Object.prototype or null, become
// map[string]any and arrays become []any, at any depth. Objects with another
// prototype, such as class instances or errors, become an *Instance holding
// the object and its normalized own properties. Go values handed to the
// runtime, maps and slices included, come back as the same Go values.
package normalize

import (
	"reflect"
	"strconv"

	"github.com/dop251/goja"
)

var (
	mapType   = reflect.TypeFor[map[string]any]()
	sliceType = reflect.TypeFor[[]any]()
)

// Function is a script function returned from a run. Arguments are converted
// with the runtime's ToValue and the result is normalized. It must be called
// from the goroutine that owns the runtime, and not concurrently with a run.
type Function func(args ...any) (any, error)

// Instance is an object with a prototype other than Object.prototype. Object
// is left as the runtime holds it, Fields are its own enumerable properties
// normalized like any other value.
type Instance struct {
	Object *goja.Object
	Fields map[string]any
}

type normalizer struct {
	vm          *goja.Runtime
	objectProto *goja.Object
	seen        map[*goja.Object]any
}

// Value converts v. Objects reachable more than once, including through a
// cycle, map to the same Go map or slice.
func Value(vm *goja.Runtime, v goja.Value) any {
	n := &normalizer{
		vm:          vm,
		objectProto: vm.NewObject().Prototype(),
		seen:        make(map[*goja.Object]any),
	}
	return n.value(v)
}

// Bindings converts the object filled by the collection code. Properties
// holding undefined are left out.
func Bindings(vm *goja.Runtime, v goja.Value) map[string]any {
	out := make(map[string]any)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return out
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return out
	}

	n := &normalizer{
		vm:          vm,
		objectProto: vm.NewObject().Prototype(),
		seen:        map[*goja.Object]any{obj: out},
	}
	for _, key := range obj.Keys() {
		prop := obj.Get(key)
		if prop == nil || goja.IsUndefined(prop) {
			continue
		}
		out[key] = n.value(prop)
	}
	return out
}

func (n *normalizer) value(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export()
	}
	if done, ok := n.seen[obj]; ok {
		return done
	}

	if fn, ok := goja.AssertFunction(obj); ok {
		f := n.function(fn)
		n.seen[obj] = f
		return f
	}

	isArray := obj.ClassName() == "Array"
	switch obj.ExportType() {
	case mapType, sliceType:
		if host, ok := hostValue(obj); ok {
			n.seen[obj] = host
			return host
		}
	default:
		if !isArray {
			exported := obj.Export()
			n.seen[obj] = exported
			return exported
		}
	}
	if isArray || obj.ExportType() == sliceType {
		return n.array(obj)
	}

	if proto := obj.Prototype(); proto != nil && proto != n.objectProto {
		return n.instance(obj)
	}
	return n.object(obj)
}

// hostValue returns the Go map or slice obj wraps. A wrapper exports the
// value it holds every time, a script object exports a fresh copy.
func hostValue(obj *goja.Object) (any, bool) {
	first := obj.Export()
	rv := reflect.ValueOf(first)
	if (rv.Kind() != reflect.Map && rv.Kind() != reflect.Slice) || rv.Len() == 0 {
		return nil, false
	}
	again := reflect.ValueOf(obj.Export())
	if again.Kind() != rv.Kind() || again.UnsafePointer() != rv.UnsafePointer() {
		return nil, false
	}
	return first, true
}

func (n *normalizer) instance(obj *goja.Object) *Instance {
	keys := obj.Keys()
	inst := &Instance{Object: obj, Fields: make(map[string]any, len(keys))}
	n.seen[obj] = inst
	for _, key := range keys {
		inst.Fields[key] = n.value(obj.Get(key))
	}
	return inst
}

func (n *normalizer) object(obj *goja.Object) map[string]any {
	keys := obj.Keys()
	out := make(map[string]any, len(keys))
	n.seen[obj] = out
	for _, key := range keys {
		out[key] = n.value(obj.Get(key))
	}
	return out
}

func (n *normalizer) array(obj *goja.Object) []any {
	length := int(obj.Get("length").ToInteger())
	out := make([]any, length)
	n.seen[obj] = out
	for i := range length {
		out[i] = n.value(obj.Get(strconv.Itoa(i)))
	}
	return out
}

func (n *normalizer) function(fn goja.Callable) Function {
	vm := n.vm
	return func(args ...any) (any, error) {
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = vm.ToValue(a)
		}
		res, err := fn(goja.Undefined(), vals...)
		if err != nil {
			return nil, err
		}
		return Value(vm, res), nil
	}
}
