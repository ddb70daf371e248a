package analyzer

import (
	"reflect"

	"github.com/dop251/goja/ast"
)

var astPkgPath = reflect.TypeFor[ast.Identifier]().PkgPath()

// walker visits every node of a goja syntax tree. Children are found through
// the exported fields of ast types; what a node contributes is decided by
// the switch in visit.
type walker struct {
	found *Bindings
}

func (w *walker) walk(root any) {
	w.children(reflect.ValueOf(root))
}

func (w *walker) visit(n ast.Node) {
	switch n := n.(type) {
	case *ast.FunctionDeclaration:
		if n.Function != nil && n.Function.Name != nil {
			w.found.Add(n.Function.Name.Name.String())
		}
	case *ast.VariableStatement:
		w.declarators(n.List)
	case *ast.LexicalDeclaration:
		w.declarators(n.List)
	case *ast.ForLoopInitializerVarDeclList:
		w.declarators(n.List)
	case *ast.ForIntoVar:
		if n.Binding != nil {
			w.target(n.Binding.Target)
		}
	case *ast.ForDeclaration:
		w.target(n.Target)
	}
	w.children(reflect.ValueOf(n))
}

func (w *walker) declarators(list []*ast.Binding) {
	for _, b := range list {
		if b != nil {
			w.target(b.Target)
		}
	}
}

// target adds the names bound by a declarator. Nested patterns, defaults,
// rest elements and computed keys are not followed.
func (w *walker) target(t ast.BindingTarget) {
	switch t := t.(type) {
	case *ast.Identifier:
		w.found.Add(t.Name.String())
	case *ast.ArrayPattern:
		for _, el := range t.Elements {
			if id, ok := el.(*ast.Identifier); ok {
				w.found.Add(id.Name.String())
			}
		}
	case *ast.ObjectPattern:
		for _, prop := range t.Properties {
			switch p := prop.(type) {
			case *ast.PropertyShort:
				w.found.Add(p.Name.Name.String())
			case *ast.PropertyKeyed:
				if p.Computed {
					continue
				}
				if id, ok := p.Value.(*ast.Identifier); ok {
					w.found.Add(id.Name.String())
				}
			}
		}
	}
}

// children visits the nodes held by the fields of v.
func (w *walker) children(v reflect.Value) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range v.NumField() {
			if t.Field(i).IsExported() {
				w.field(v.Field(i))
			}
		}
	case reflect.Slice:
		for i := range v.Len() {
			w.field(v.Index(i))
		}
	}
}

func (w *walker) field(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() || !isAST(v.Type()) && !isAST(v.Elem().Type()) {
			return
		}
		if n, ok := v.Interface().(ast.Node); ok {
			w.visit(n)
			return
		}
		w.children(v)
	case reflect.Struct:
		if !isAST(v.Type()) {
			return
		}
		if v.CanAddr() {
			if n, ok := v.Addr().Interface().(ast.Node); ok {
				w.visit(n)
				return
			}
		}
		w.children(v)
	case reflect.Slice:
		if isAST(v.Type().Elem()) {
			w.children(v)
		}
	}
}

// isAST reports whether t, or the type it points to, is declared in goja's ast package.
func isAST(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return t.PkgPath() == astPkgPath
}
