package esm

import (
	"fmt"
	"strconv"
	"strings"
)

// continuesExpr lists punctuators that carry an expression over a line break.
var continuesExpr = map[string]bool{
	",": true, ".": true, "?.": true, "=": true, "+": true, "-": true, "*": true,
	"/": true, "%": true, "&": true, "|": true, "^": true, "?": true, ":": true,
	"<": true, ">": true, "(": true, "[": true, "!": true,
}

type parser struct {
	src  string
	toks []token
	i    int
}

func (p *parser) text(i int) string {
	if i < 0 || i >= len(p.toks) {
		return ""
	}
	return p.src[p.toks[i].start:p.toks[i].end]
}

func (p *parser) afterDot() bool {
	prev := p.text(p.i - 1)
	return prev == "." || prev == "?."
}

func (p *parser) ident(i int) (string, bool) {
	if i >= len(p.toks) || p.toks[i].kind != tokIdent {
		return "", false
	}
	return p.text(i), true
}

func (p *parser) errorf(i int, format string, args ...any) error {
	line := 1
	if i < len(p.toks) {
		line += strings.Count(p.src[:p.toks[i].start], "\n")
	}
	return fmt.Errorf("%w: line %d: %s", ErrSyntax, line, fmt.Sprintf(format, args...))
}

// parseImport parses the declaration starting at p.i and leaves p.i on its
// last token.
func (p *parser) parseImport() (Import, error) {
	imp := Import{Start: p.toks[p.i].start}
	j := p.i + 1

	if j < len(p.toks) && p.toks[j].kind == tokString {
		spec, err := unquote(p.text(j))
		if err != nil {
			return imp, p.errorf(j, "bad module specifier")
		}
		imp.Specifier = spec
		return imp, p.finishImport(&imp, j)
	}

	if name, ok := p.ident(j); ok && name != "from" {
		imp.Default = name
		j++
		if p.text(j) == "," {
			j++
		}
	}

	switch p.text(j) {
	case "*":
		if p.text(j+1) != "as" {
			return imp, p.errorf(j, "expected 'as' after '*'")
		}
		name, ok := p.ident(j + 2)
		if !ok {
			return imp, p.errorf(j+2, "expected namespace name")
		}
		imp.Namespace = name
		j += 3
	case "{":
		named, next, err := p.parseSpecifiers(j, true)
		if err != nil {
			return imp, err
		}
		imp.Named = named
		j = next
	}

	if p.text(j) != "from" {
		return imp, p.errorf(j, "expected 'from' in import declaration")
	}
	j++
	if j >= len(p.toks) || p.toks[j].kind != tokString {
		return imp, p.errorf(j, "expected module specifier")
	}
	spec, err := unquote(p.text(j))
	if err != nil {
		return imp, p.errorf(j, "bad module specifier")
	}
	imp.Specifier = spec
	return imp, p.finishImport(&imp, j)
}

// finishImport consumes optional import attributes and the semicolon after
// the specifier at index j.
func (p *parser) finishImport(imp *Import, j int) error {
	if t := p.text(j + 1); (t == "with" || t == "assert") && p.text(j+2) == "{" {
		j += 2
		for j < len(p.toks) && (p.text(j) != "}" || p.toks[j].depth != 0) {
			j++
		}
		if j >= len(p.toks) {
			return p.errorf(j, "unterminated import attributes")
		}
	}
	if p.text(j+1) == ";" {
		j++
	}
	imp.End = p.toks[j].end
	p.i = j
	return nil
}

// parseSpecifiers reads "{ a, b as c }" starting at the brace at index j. For
// imports the name after "as" is the local one, for exports the exported one.
func (p *parser) parseSpecifiers(j int, isImport bool) ([]Binding, int, error) {
	var out []Binding
	j++
	for p.text(j) != "}" {
		if j >= len(p.toks) {
			return nil, j, p.errorf(j, "unterminated specifier list")
		}

		var name string
		switch p.toks[j].kind {
		case tokIdent:
			name = p.text(j)
		case tokString:
			s, err := unquote(p.text(j))
			if err != nil {
				return nil, j, p.errorf(j, "bad specifier name")
			}
			name = s
		default:
			return nil, j, p.errorf(j, "unexpected %q in specifier list", p.text(j))
		}
		b := Binding{Imported: name, Local: name}
		j++

		if p.text(j) == "as" {
			alias := p.text(j + 1)
			if j+1 >= len(p.toks) || (p.toks[j+1].kind != tokIdent && isImport) {
				return nil, j, p.errorf(j+1, "expected name after 'as'")
			}
			if p.toks[j+1].kind == tokString {
				s, err := unquote(alias)
				if err != nil {
					return nil, j, p.errorf(j+1, "bad specifier name")
				}
				alias = s
			}
			if isImport {
				b.Local = alias
			} else {
				b.Imported = alias
			}
			j += 2
		}
		if isImport && !isIdentifier(b.Local) {
			return nil, j, p.errorf(j, "string import %q needs a local name", b.Imported)
		}
		out = append(out, b)

		if p.text(j) == "," {
			j++
		}
	}
	return out, j + 1, nil
}

// parseExport parses the statement starting at p.i. Declarations keep their
// body in place, so p.i is left on the last export keyword.
func (p *parser) parseExport() (Export, error) {
	exp := Export{Start: p.toks[p.i].start, End: p.toks[p.i].end}
	j := p.i + 1

	switch p.text(j) {
	case "default":
		exp.End = p.toks[j].end
		p.i = j
		if name, ok := p.declaredName(j + 1); ok {
			exp.Kind = ExportDeclaration
			exp.Names = []Binding{{Imported: "default", Local: name}}
			return exp, nil
		}
		exp.Kind = ExportDefault
		return exp, nil

	case "{":
		names, next, err := p.parseSpecifiers(j, false)
		if err != nil {
			return exp, err
		}
		if p.text(next) == "from" {
			return exp, fmt.Errorf("%w: re-exports are not supported", ErrUnsupported)
		}
		last := next - 1
		if p.text(next) == ";" {
			last = next
		}
		exp.Kind = ExportList
		exp.Names = names
		exp.End = p.toks[last].end
		p.i = last
		return exp, nil

	case "*":
		return exp, fmt.Errorf("%w: re-exports are not supported", ErrUnsupported)

	case "const", "let", "var":
		names, err := p.declaredVariables(j)
		if err != nil {
			return exp, err
		}
		exp.Kind = ExportDeclaration
		exp.Names = names
		return exp, nil
	}

	name, ok := p.declaredName(j)
	if !ok {
		return exp, p.errorf(j, "unexpected %q after export", p.text(j))
	}
	exp.Kind = ExportDeclaration
	exp.Names = []Binding{{Imported: name, Local: name}}
	return exp, nil
}

// declaredName returns the name of a function or class declaration at j.
func (p *parser) declaredName(j int) (string, bool) {
	if p.text(j) == "async" && p.text(j+1) == "function" {
		j++
	}
	switch p.text(j) {
	case "function":
		j++
		if p.text(j) == "*" {
			j++
		}
	case "class":
		j++
	default:
		return "", false
	}
	name, ok := p.ident(j)
	if !ok || name == "extends" {
		return "", false
	}
	return name, true
}

// declaredVariables collects the names of "const a = 1, b = 2" at j.
func (p *parser) declaredVariables(j int) ([]Binding, error) {
	var names []Binding
	expectName := true
	for k := j + 1; k < len(p.toks); k++ {
		t := p.toks[k]
		if t.depth != 0 {
			continue
		}
		text := p.text(k)

		if expectName {
			if text == "{" || text == "[" {
				return nil, fmt.Errorf("%w: destructuring export declarations are not supported", ErrUnsupported)
			}
			name, ok := p.ident(k)
			if !ok {
				return nil, p.errorf(k, "expected variable name")
			}
			names = append(names, Binding{Imported: name, Local: name})
			expectName = false
			continue
		}

		if text == ";" {
			break
		}
		if t.newline && endsExpr(p, k-1) && !continuesExpr[text] && text != "in" && text != "instanceof" {
			break
		}
		if text == "," {
			expectName = true
		}
	}
	return names, nil
}

func endsExpr(p *parser, i int) bool {
	switch p.toks[i].kind {
	case tokPunct:
		t := p.text(i)
		return t == ")" || t == "]" || t == "}"
	default:
		return true
	}
}

// unquote decodes a JavaScript string literal.
func unquote(lit string) (string, error) {
	if len(lit) < 2 {
		return "", ErrSyntax
	}
	inner := lit[1 : len(lit)-1]
	if !strings.Contains(inner, `\`) {
		return inner, nil
	}
	if lit[0] == '\'' {
		inner = strings.ReplaceAll(inner, `\'`, `'`)
		inner = strings.ReplaceAll(inner, `"`, `\"`)
		inner = strings.ReplaceAll(inner, `\\"`, `\"`)
	}
	return strconv.Unquote(`"` + inner + `"`)
}
