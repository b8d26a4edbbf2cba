package dsl

import (
	"strings"
	"unicode"
)

type lexer struct {
	src    []rune
	pos    int
	line   int
	col    int
	tokens []Token
}

// Lex splits source text into tokens. Newlines and semicolons become
// TokSep; comments (#, // and /* */) and other whitespace are dropped.
func Lex(src string) ([]Token, error) {
	l := &lexer{src: []rune(src), line: 1, col: 1}
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

func (l *lexer) peek(offset int) rune {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) here() Position {
	return Position{Line: l.line, Column: l.col}
}

func (l *lexer) emit(kind TokenKind, value string, pos Position) {
	l.tokens = append(l.tokens, Token{Kind: kind, Value: value, Pos: pos})
}

func (l *lexer) run() error {
	for l.pos < len(l.src) {
		r := l.peek(0)
		pos := l.here()

		switch {
		case r == '\n' || r == ';':
			l.advance()
			l.emit(TokSep, string(r), pos)
		case unicode.IsSpace(r):
			l.advance()
		case r == '#':
			l.skipLine()
		case r == '/' && l.peek(1) == '/':
			l.skipLine()
		case r == '/' && l.peek(1) == '*':
			if err := l.skipBlockComment(pos); err != nil {
				return err
			}
		case r == '{' && l.peek(1) != '{':
			l.advance()
			l.emit(TokLBrace, "{", pos)
		case r == '}':
			l.advance()
			l.emit(TokRBrace, "}", pos)
		case r == '(':
			l.advance()
			l.emit(TokLParen, "(", pos)
		case r == ')':
			l.advance()
			l.emit(TokRParen, ")", pos)
		case r == '"' || r == '\'':
			if err := l.lexString(pos); err != nil {
				return err
			}
		case r == '=' || r == '!' || r == '<' || r == '>':
			if err := l.lexCompare(pos); err != nil {
				return err
			}
		case r == '&' || r == '|':
			if l.peek(1) != r {
				return errorf(pos, "unexpected %q, did you mean %q", r, string([]rune{r, r}))
			}
			l.advance()
			l.advance()
			if r == '&' {
				l.emit(TokAnd, "&&", pos)
			} else {
				l.emit(TokOr, "||", pos)
			}
		default:
			if err := l.lexWord(pos); err != nil {
				return err
			}
		}
	}
	l.emit(TokEOF, "", l.here())
	return nil
}

func (l *lexer) skipLine() {
	for l.pos < len(l.src) && l.peek(0) != '\n' {
		l.advance()
	}
}

func (l *lexer) skipBlockComment(start Position) error {
	l.advance()
	l.advance()
	for l.pos < len(l.src) {
		if l.peek(0) == '*' && l.peek(1) == '/' {
			l.advance()
			l.advance()
			return nil
		}
		l.advance()
	}
	return errorf(start, "unterminated block comment")
}

func (l *lexer) lexCompare(pos Position) error {
	r := l.advance()
	if l.peek(0) == '=' {
		l.advance()
		l.emit(TokCompare, string(r)+"=", pos)
		return nil
	}
	switch r {
	case '<', '>':
		l.emit(TokCompare, string(r), pos)
	case '=':
		// single '=' is accepted as equality
		l.emit(TokCompare, "==", pos)
	default:
		return errorf(pos, "unexpected %q, did you mean \"!=\"", r)
	}
	return nil
}

func (l *lexer) lexString(pos Position) error {
	quote := l.advance()
	var sb strings.Builder
	template := false

	for {
		if l.pos >= len(l.src) || l.peek(0) == '\n' {
			return errorf(pos, "unterminated string")
		}
		r := l.peek(0)
		if r == quote {
			l.advance()
			break
		}

		if quote == '\'' {
			sb.WriteRune(l.advance())
			continue
		}

		switch {
		case r == '\\':
			escPos := l.here()
			l.advance()
			if l.pos >= len(l.src) {
				return errorf(pos, "unterminated string")
			}
			switch e := l.advance(); e {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case '\\', '"', '\'':
				sb.WriteRune(e)
			default:
				return errorf(escPos, "unknown escape sequence \\%c", e)
			}
		case r == '{' && l.peek(1) == '{':
			name, err := l.lexTemplateRef()
			if err != nil {
				return err
			}
			sb.WriteString("{{" + name + "}}")
			template = true
		default:
			sb.WriteRune(l.advance())
		}
	}

	l.tokens = append(l.tokens, Token{Kind: TokString, Value: sb.String(), Pos: pos, Template: template, Quote: quote})
	return nil
}

// lexTemplateRef consumes "{{ name }}" and returns name
func (l *lexer) lexTemplateRef() (string, error) {
	pos := l.here()
	l.advance()
	l.advance()
	l.skipInlineSpace()
	name := l.lexIdent()
	if name == "" {
		return "", errorf(pos, "expected variable name after '{{'")
	}
	l.skipInlineSpace()
	if l.peek(0) != '}' || l.peek(1) != '}' {
		return "", errorf(pos, "expected '}}' to close {{%s", name)
	}
	l.advance()
	l.advance()
	return name, nil
}

func (l *lexer) skipInlineSpace() {
	for l.pos < len(l.src) && (l.peek(0) == ' ' || l.peek(0) == '\t') {
		l.advance()
	}
}

func (l *lexer) lexIdent() string {
	if !isIdentStart(l.peek(0)) {
		return ""
	}
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.peek(0)) {
		l.advance()
	}
	return string(l.src[start:l.pos])
}

// lexWord reads a bare word. $name and {{name}} references may appear
// anywhere inside it; a word that is exactly one reference becomes TokVar.
func (l *lexer) lexWord(pos Position) error {
	var sb strings.Builder
	refs := 0
	only := ""

	for l.pos < len(l.src) {
		r := l.peek(0)
		if endsWord(r) || (r == '=' && l.peek(1) == '=') {
			break
		}

		if r == '{' {
			if l.peek(1) != '{' {
				break
			}
			name, err := l.lexTemplateRef()
			if err != nil {
				return err
			}
			sb.WriteString("{{" + name + "}}")
			refs++
			only = name
			continue
		}

		if r == '$' {
			refPos := l.here()
			l.advance()
			name := l.lexIdent()
			if name == "" {
				return errorf(refPos, "expected variable name after '$'")
			}
			sb.WriteString("{{" + name + "}}")
			refs++
			only = name
			continue
		}

		sb.WriteRune(l.advance())
	}

	word := sb.String()
	if word == "" {
		return errorf(pos, "unexpected %q", l.peek(0))
	}

	if refs == 1 && word == "{{"+only+"}}" {
		l.emit(TokVar, only, pos)
		return nil
	}
	l.tokens = append(l.tokens, Token{Kind: TokWord, Value: word, Pos: pos, Template: refs > 0})
	return nil
}

func endsWord(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case ';', '}', '(', ')', '"', '\'', '<', '>', '!', '&', '|':
		return true
	}
	return false
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}
