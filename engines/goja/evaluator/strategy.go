package evaluator

import "github.com/robbyt/go-jsglobals/engines/goja/wrapper"

// Strategy is the way a snippet is executed.
type Strategy int

const (
	// Direct runs the snippet inside its context as an immediately invoked
	// function. An async run suspends on the returned promise and on each
	// dynamic load. A sync run never suspends: a promise created by the
	// snippet is returned unsettled.
	Direct Strategy = iota

	// ObjectExport runs the snippet as a CommonJS unit outside the seeded
	// context, passing the seed as JSON encoded parameters. Suspension is the
	// same as Direct.
	ObjectExport

	// NativeModule runs the snippet with module grammar. It suspends while
	// loading each import, in declared order, and while evaluating the
	// module body. It is only used for async runs.
	NativeModule
)

func (s Strategy) String() string {
	return s.Shape().String()
}

// Shape returns the wrapper shape producing the strategy's source.
func (s Strategy) Shape() wrapper.Shape {
	switch s {
	case ObjectExport:
		return wrapper.ObjectExport
	case NativeModule:
		return wrapper.NativeModule
	default:
		return wrapper.Direct
	}
}

// Selection holds what strategy selection depends on.
type Selection struct {
	// PreferObjectExport overrides the default preference, which is to use
	// ObjectExport when native modules are unavailable and the snippet
	// has imports.
	PreferObjectExport *bool

	NativeModules bool
	HasImports    bool
	Async         bool
}

// Select picks the strategy for one run.
func Select(s Selection) Strategy {
	prefer := !s.NativeModules && s.HasImports
	if s.PreferObjectExport != nil {
		prefer = *s.PreferObjectExport
	}

	switch {
	case prefer:
		return ObjectExport
	case s.NativeModules && s.Async:
		return NativeModule
	default:
		return Direct
	}
}
