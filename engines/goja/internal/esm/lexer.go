package esm

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokTemplate
	tokRegExp
	tokPunct
)

type token struct {
	kind  tokenKind
	start int
	end   int
	// depth is the bracket nesting level at the start of the token.
	depth int
	// newline is set when a line terminator separates the token from the previous one.
	newline bool
}

// regexAfter lists keywords after which a slash starts a regular expression.
var regexAfter = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

// headKeywords open a parenthesized head; a slash after its closing paren
// starts the statement body.
var headKeywords = map[string]bool{"if": true, "while": true, "for": true, "with": true}

type lexer struct {
	src string
	in  *parse.Input
	js  *js.Lexer

	// regexps holds the regular expression literals of src in source order,
	// as found by the parser. parsed is false when src did not parse.
	regexps []string
	parsed  bool

	depth  int
	tokens []token
	sawNL  bool

	prev     tokenKind
	prevText string
	hasPrev  bool
	heads    []bool
	headEnd  bool
}

// lex splits src into tokens, skipping comments and whitespace.
func lex(src string) ([]token, error) {
	in := parse.NewInputString(src)
	l := &lexer{src: src, in: in, js: js.NewLexer(in)}
	l.regexps, l.parsed = regExps(src)
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

// regExps parses src as a module and returns its regular expression
// literals in source order.
func regExps(src string) ([]string, bool) {
	ast, err := js.Parse(parse.NewInputString(src), js.Options{})
	if err != nil {
		return nil, false
	}
	v := &regExpVisitor{}
	js.Walk(v, ast)
	return v.found, true
}

type regExpVisitor struct {
	found []string
}

func (v *regExpVisitor) Enter(n js.INode) js.IVisitor {
	if lit, ok := n.(*js.LiteralExpr); ok && lit.TokenType == js.RegExpToken {
		v.found = append(v.found, string(lit.Data))
	}
	return v
}

func (v *regExpVisitor) Exit(js.INode) {}

func (l *lexer) run() error {
	for {
		tt, data := l.js.Next()
		switch tt {
		case js.ErrorToken:
			if err := l.js.Err(); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: %s", ErrSyntax, syntaxMessage(err))
			}
			return nil

		case js.WhitespaceToken, js.CommentToken:

		case js.LineTerminatorToken, js.CommentLineTerminatorToken:
			l.sawNL = true

		case js.DivToken, js.DivEqToken:
			if !l.startsRegExp(l.in.Offset() - len(data)) {
				l.emit(tokPunct, data)
				continue
			}
			tt, data = l.js.RegExp()
			if tt == js.ErrorToken {
				return fmt.Errorf("%w: unterminated regular expression", ErrSyntax)
			}
			l.emit(tokRegExp, data)

		case js.StringToken:
			l.emit(tokString, data)
		case js.TemplateToken:
			l.emit(tokTemplate, data)
		case js.TemplateStartToken:
			l.emit(tokTemplate, data)
			l.depth++
			l.after(tokPunct, "${")
		case js.TemplateMiddleToken:
			l.after(tokPunct, "${")
		case js.TemplateEndToken:
			l.depth--
			l.sawNL = false
			l.after(tokTemplate, "")

		case js.OpenBraceToken, js.OpenBracketToken:
			l.emit(tokPunct, data)
			l.depth++
		case js.OpenParenToken:
			l.heads = append(l.heads, l.hasPrev && l.prev == tokIdent && headKeywords[l.prevText])
			l.emit(tokPunct, data)
			l.depth++
		case js.CloseBraceToken, js.CloseBracketToken:
			l.depth--
			l.emit(tokPunct, data)
		case js.CloseParenToken:
			l.depth--
			l.emit(tokPunct, data)
			if n := len(l.heads); n > 0 {
				l.headEnd = l.heads[n-1]
				l.heads = l.heads[:n-1]
			}

		default:
			switch {
			case js.IsNumeric(tt):
				l.emit(tokNumber, data)
			case js.IsIdentifierName(tt) || tt == js.PrivateIdentifierToken:
				l.emit(tokIdent, data)
			default:
				l.emit(tokPunct, data)
			}
		}
	}
}

func (l *lexer) emit(kind tokenKind, data []byte) {
	end := l.in.Offset()
	l.tokens = append(l.tokens, token{
		kind:    kind,
		start:   end - len(data),
		end:     end,
		depth:   l.depth,
		newline: l.sawNL,
	})
	l.sawNL = false
	l.after(kind, string(data))
}

// after records the last significant token for slash decisions.
func (l *lexer) after(kind tokenKind, text string) {
	l.prev, l.prevText, l.hasPrev = kind, text, true
	if text != ")" {
		l.headEnd = false
	}
}

// startsRegExp reports whether the slash at offset starts a regular
// expression. The parser's literals decide when src parsed; otherwise the
// previous token does.
func (l *lexer) startsRegExp(offset int) bool {
	if l.parsed {
		if len(l.regexps) > 0 && strings.HasPrefix(l.src[offset:], l.regexps[0]) {
			l.regexps = l.regexps[1:]
			return true
		}
		return false
	}

	if !l.hasPrev {
		return true
	}
	switch l.prev {
	case tokIdent:
		return regexAfter[l.prevText]
	case tokNumber, tokString, tokTemplate, tokRegExp:
		return false
	}
	switch l.prevText {
	case ")":
		return l.headEnd
	case "]", "++", "--":
		return false
	}
	return true
}

// syntaxMessage drops the source excerpt tdewolff appends to its errors.
func syntaxMessage(err error) string {
	var pe *parse.Error
	if errors.As(err, &pe) {
		return fmt.Sprintf("line %d: %s", pe.Line, pe.Message)
	}
	return err.Error()
}

func isIdentStart(r rune) bool {
	return r == '$' || r == '_' || r == '\\' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '\u200c' || r == '\u200d'
}
