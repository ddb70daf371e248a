// Package esm finds static import and export statements in module source and
// rewrites them into plain statements the goja runtime can execute.
//
// Rewrites keep the number of lines of the source, so positions reported
// for the rewritten text point at the same line of the original.
package esm

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrSyntax is returned when a statement can't be tokenized or parsed.
	ErrSyntax = errors.New("module syntax error")
	// ErrUnsupported is returned for module syntax the rewriter doesn't handle.
	ErrUnsupported = errors.New("unsupported module syntax")
)

// Binding maps a name exported by one module to a local name.
type Binding struct {
	Imported string
	Local    string
}

// Import is one static import declaration.
type Import struct {
	// Start and End are byte offsets of the whole declaration.
	Start int
	End   int

	Specifier string
	Default   string
	Namespace string
	Named     []Binding
}

// Locals returns every name the declaration binds, in source order.
func (i Import) Locals() []string {
	var names []string
	if i.Default != "" {
		names = append(names, i.Default)
	}
	if i.Namespace != "" {
		names = append(names, i.Namespace)
	}
	for _, b := range i.Named {
		names = append(names, b.Local)
	}
	return names
}

// ExportKind tells how an export statement is written.
type ExportKind int

const (
	// ExportDefault is "export default <expression>".
	ExportDefault ExportKind = iota
	// ExportDeclaration is "export" followed by a declaration.
	ExportDeclaration
	// ExportList is "export { a, b as c }".
	ExportList
)

// Export is one export statement. For ExportDefault and ExportDeclaration,
// Start and End only cover the export keywords.
type Export struct {
	Start int
	End   int
	Kind  ExportKind
	Names []Binding
}

// Module lists the imports and exports of a source text.
type Module struct {
	Imports []Import
	Exports []Export

	// Dynamic holds the offsets of the import keyword of import() calls, at
	// any depth.
	Dynamic []int
}

// Scan finds the top-level import and export statements of src.
func Scan(src string) (*Module, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{src: src, toks: toks}
	m := &Module{}
	for p.i = 0; p.i < len(p.toks); p.i++ {
		t := p.toks[p.i]
		if t.kind != tokIdent || p.afterDot() {
			continue
		}
		if p.text(p.i) == "import" && p.text(p.i+1) == "(" {
			m.Dynamic = append(m.Dynamic, t.start)
			continue
		}
		if t.depth != 0 {
			continue
		}

		switch p.text(p.i) {
		case "import":
			if next := p.text(p.i + 1); next == "(" || next == "." {
				continue
			}
			imp, err := p.parseImport()
			if err != nil {
				return nil, err
			}
			m.Imports = append(m.Imports, imp)
		case "export":
			exp, err := p.parseExport()
			if err != nil {
				return nil, err
			}
			m.Exports = append(m.Exports, exp)
		}
	}
	return m, nil
}

// HasImports reports whether src contains static import declarations.
// Sources that can't be tokenized report false and fail later, when parsed.
func HasImports(src string) bool {
	m, err := Scan(src)
	return err == nil && len(m.Imports) > 0
}

// Rewriter describes how Rewrite replaces module statements.
type Rewriter struct {
	// Namespace returns the expression producing the namespace object of the
	// i-th import.
	Namespace func(i int, imp Import) string

	// Exports is the object receiving exported values. When empty, export
	// statements are left untouched.
	Exports string

	// Dynamic replaces the import keyword of import() calls. When empty,
	// they are left untouched.
	Dynamic string
}

// Rewrite replaces the statements found by Scan with plain statements.
func Rewrite(src string, m *Module, rw Rewriter) string {
	type edit struct {
		start, end int
		text       string
	}

	var (
		edits   []edit
		trailer []string
	)
	for i, imp := range m.Imports {
		edits = append(edits, edit{imp.Start, imp.End, importStatement(rw.Namespace(i, imp), imp)})
	}
	if rw.Exports != "" {
		for _, exp := range m.Exports {
			switch exp.Kind {
			case ExportDefault:
				edits = append(edits, edit{exp.Start, exp.End, rw.Exports + ".default ="})
			case ExportDeclaration:
				edits = append(edits, edit{exp.Start, exp.End, ""})
				trailer = append(trailer, assignments(rw.Exports, exp.Names))
			case ExportList:
				edits = append(edits, edit{exp.Start, exp.End, assignments(rw.Exports, exp.Names)})
			}
		}
	}
	if rw.Dynamic != "" {
		for _, start := range m.Dynamic {
			edits = append(edits, edit{start, start + len("import"), rw.Dynamic})
		}
	}
	slices.SortFunc(edits, func(a, b edit) int { return a.start - b.start })

	var b strings.Builder
	last := 0
	for _, e := range edits {
		b.WriteString(src[last:e.start])
		b.WriteString(e.text)
		b.WriteString(strings.Repeat("\n", strings.Count(src[e.start:e.end], "\n")))
		last = e.end
	}
	b.WriteString(src[last:])

	if len(trailer) > 0 {
		b.WriteString("\n;")
		b.WriteString(strings.Join(trailer, " "))
	}
	return b.String()
}

// ToDynamic rewrites every static import of src into an awaited call of the
// dynamic-load function fn, and import() calls into calls of fn. Exports are
// left untouched.
func ToDynamic(src, fn string) (string, error) {
	m, err := Scan(src)
	if err != nil {
		return "", err
	}
	if len(m.Imports) == 0 && len(m.Dynamic) == 0 {
		return src, nil
	}
	return Rewrite(src, m, Rewriter{
		Namespace: func(_ int, imp Import) string {
			return fmt.Sprintf("(await %s(%s))", fn, strconv.Quote(imp.Specifier))
		},
		Dynamic: fn,
	}), nil
}

// Link rewrites module source into a script body. The i-th import binds
// from link[i], exports are assigned to the properties of record and import()
// calls are sent to dynamic.
func Link(src, link, record, dynamic string) (string, *Module, error) {
	m, err := Scan(src)
	if err != nil {
		return "", nil, err
	}
	out := Rewrite(src, m, Rewriter{
		Namespace: func(i int, _ Import) string {
			return link + "[" + strconv.Itoa(i) + "]"
		},
		Exports: record,
		Dynamic: dynamic,
	})
	return out, m, nil
}

func importStatement(ns string, imp Import) string {
	switch {
	case imp.Namespace != "":
		parts := []string{fmt.Sprintf("const %s = %s;", imp.Namespace, ns)}
		if imp.Default != "" || len(imp.Named) > 0 {
			parts = append(parts, fmt.Sprintf("const %s = %s;", pattern(imp), imp.Namespace))
		}
		return strings.Join(parts, " ")
	case imp.Default != "" || len(imp.Named) > 0:
		return fmt.Sprintf("const %s = %s;", pattern(imp), ns)
	default:
		return ns + ";"
	}
}

// pattern builds the object pattern binding the default and named imports.
func pattern(imp Import) string {
	var parts []string
	if imp.Default != "" {
		parts = append(parts, "default: "+imp.Default)
	}
	for _, b := range imp.Named {
		switch {
		case b.Imported == b.Local:
			parts = append(parts, b.Local)
		case isIdentifier(b.Imported):
			parts = append(parts, b.Imported+": "+b.Local)
		default:
			parts = append(parts, strconv.Quote(b.Imported)+": "+b.Local)
		}
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func assignments(target string, names []Binding) string {
	parts := make([]string, 0, len(names))
	for _, b := range names {
		parts = append(parts, fmt.Sprintf("%s[%s] = %s;", target, strconv.Quote(b.Imported), b.Local))
	}
	return strings.Join(parts, " ")
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !isIdentStart(r) || !isIdentPart(r) || r == '\\' {
			return false
		}
	}
	return true
}
