// Package wrapper produces the source text that is parsed for analysis or
// executed, wrapping a snippet so its bindings can be collected.
package wrapper

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects what the generated source is for.
type Mode int

const (
	// Analysis source is only parsed, it carries no collection code.
	Analysis Mode = iota
	// Execution source collects and surfaces the discovered bindings.
	Execution
)

// Shape is the layout of execution source, one per execution strategy.
type Shape int

const (
	// Direct is an immediately invoked function returning the collected bindings.
	Direct Shape = iota
	// ObjectExport assigns the result of the invoked function to module.exports
	// and receives seed values as destructured parameters.
	ObjectExport
	// NativeModule emits the snippet at module top level followed by a
	// default export of the collected bindings.
	NativeModule
)

func (s Shape) String() string {
	switch s {
	case Direct:
		return "direct"
	case ObjectExport:
		return "object-export"
	case NativeModule:
		return "native-module"
	default:
		return "unknown"
	}
}

// Request describes the source to generate.
type Request struct {
	Code  string
	Mode  Mode
	Async bool

	// Names are the bindings to collect, execution mode only.
	Names []string

	Shape Shape

	// Params are the seed keys destructured by the ObjectExport shape, and
	// Args is the JSON text of the seed passed to it.
	Params []string
	Args   string
}

// Unit is generated source along with the number of lines placed before the
// snippet's first line.
type Unit struct {
	Source     string
	LineOffset int
}

// Wrap generates the source described by r.
func Wrap(r Request) Unit {
	if r.Mode == Execution && r.Shape == NativeModule {
		var b strings.Builder
		b.WriteString(r.Code)
		b.WriteString("\nexport default ")
		b.WriteString(Collect(r.Names))
		b.WriteString(";")
		return Unit{Source: b.String()}
	}

	var b strings.Builder
	if r.Mode == Execution && r.Shape == ObjectExport {
		b.WriteString("module.exports = ")
	}
	b.WriteString("(")
	if r.Async {
		b.WriteString("async ")
	}
	b.WriteString("function(")
	if r.Mode == Execution && r.Shape == ObjectExport && len(r.Params) > 0 {
		fmt.Fprintf(&b, "{ %s } = {}", strings.Join(r.Params, ", "))
	}
	b.WriteString(") {\n")
	b.WriteString(r.Code)
	b.WriteString("\n")
	if r.Mode == Execution {
		b.WriteString("return ")
		b.WriteString(Collect(r.Names))
		b.WriteString(";\n")
	}
	b.WriteString("})(")
	if r.Mode == Execution && r.Shape == ObjectExport {
		b.WriteString(r.Args)
	}
	b.WriteString(");")

	return Unit{Source: b.String(), LineOffset: 1}
}

// Collect returns an object literal holding each name that is defined at the
// end of the snippet. It declares no binding, so any snippet name is free.
func Collect(names []string) string {
	if len(names) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteString("{")
	for _, name := range names {
		fmt.Fprintf(
			&b,
			"\n...(typeof %s !== \"undefined\" ? { [%s]: %s } : {}),",
			name, strconv.Quote(name), name,
		)
	}
	b.WriteString("\n}")
	return b.String()
}
