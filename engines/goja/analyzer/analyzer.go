// Package analyzer discovers the names a snippet binds by walking its syntax tree.
//
// The walk is not scope aware: a declaration nested inside a function body
// or block is reported like a top-level one. The collection code generated
// for execution checks each name with typeof, so over-reported names that
// are not visible at the end of the snippet are dropped from the result.
package analyzer

import (
	"fmt"
	"slices"

	"github.com/dop251/goja/parser"

	"github.com/robbyt/go-jsglobals/engines/goja/internal/esm"
	"github.com/robbyt/go-jsglobals/engines/goja/internal/jserr"
	"github.com/robbyt/go-jsglobals/engines/goja/wrapper"
	"github.com/robbyt/go-jsglobals/platform/constants"
)

// Options control how a snippet is parsed.
type Options struct {
	// ModuleGrammar accepts static import and export statements. Imported
	// names are reported as bindings.
	ModuleGrammar bool

	// Async parses the snippet as the body of an async function, so await
	// is allowed at its top level.
	Async bool

	// IgnoreRegExpErrors skips validation of regular expression literals
	// that goja can't compile.
	IgnoreRegExpErrors bool

	// SourceMaps lets the parser follow sourceMappingURL comments.
	SourceMaps bool

	// Origin labels the snippet in errors.
	Origin string
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{Async: true}
}

// Bindings is the set of names found by Analyze.
type Bindings struct {
	names map[string]struct{}
}

// NewBindings returns a set holding names.
func NewBindings(names ...string) *Bindings {
	b := &Bindings{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		b.Add(n)
	}
	return b
}

// Add records a name. Empty names are ignored.
func (b *Bindings) Add(name string) {
	if name != "" {
		b.names[name] = struct{}{}
	}
}

// Has reports whether name was found.
func (b *Bindings) Has(name string) bool {
	_, ok := b.names[name]
	return ok
}

// Len returns the number of names.
func (b *Bindings) Len() int {
	return len(b.names)
}

// Names returns the names in sorted order.
func (b *Bindings) Names() []string {
	out := make([]string, 0, len(b.names))
	for n := range b.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (b *Bindings) String() string {
	return fmt.Sprintf("analyzer.Bindings%v", b.Names())
}

// Analyze parses code, wrapped the way it is for execution, and returns the
// names it binds. Parse failures are returned as *scripterr.Error values.
func Analyze(code string, opts Options) (*Bindings, error) {
	found := NewBindings()

	if opts.ModuleGrammar {
		rewritten, locals, err := moduleToScript(code)
		if err != nil {
			return nil, jserr.Parse(err, 0, opts.Origin, code)
		}
		for _, name := range locals {
			found.Add(name)
		}
		code = rewritten
	}

	unit := wrapper.Wrap(wrapper.Request{Code: code, Mode: wrapper.Analysis, Async: opts.Async})

	var mode parser.Mode
	if opts.IgnoreRegExpErrors {
		mode |= parser.IgnoreRegExpErrors
	}
	var parserOpts []parser.Option
	if !opts.SourceMaps {
		parserOpts = append(parserOpts, parser.WithDisableSourceMaps)
	}

	name := opts.Origin
	if name == "" {
		name = "snippet.js"
	}
	program, err := parser.ParseFile(nil, name, unit.Source, mode, parserOpts...)
	if err != nil {
		return nil, jserr.Parse(err, unit.LineOffset, opts.Origin, unit.Source)
	}

	w := &walker{found: found}
	w.walk(program)
	return found, nil
}

// moduleToScript replaces import declarations with plain declarations and
// export statements with assignments, so the remainder parses as a script.
func moduleToScript(code string) (string, []string, error) {
	out, m, err := esm.Link(code, constants.ModuleLink, constants.ModuleRecord, constants.DynamicImport)
	if err != nil {
		return "", nil, err
	}

	var locals []string
	for _, imp := range m.Imports {
		locals = append(locals, imp.Locals()...)
	}
	return out, locals, nil
}
