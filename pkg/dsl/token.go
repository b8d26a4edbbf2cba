package dsl

import "fmt"

// TokenKind classifies lexer output
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokSep
	TokWord
	TokString
	TokVar
	TokLBrace
	TokRBrace
	TokLParen
	TokRParen
	TokCompare
	TokAnd
	TokOr
)

var tokenNames = map[TokenKind]string{
	TokEOF:     "end of input",
	TokSep:     "separator",
	TokWord:    "word",
	TokString:  "string",
	TokVar:     "variable",
	TokLBrace:  "'{'",
	TokRBrace:  "'}'",
	TokLParen:  "'('",
	TokRParen:  "')'",
	TokCompare: "comparison",
	TokAnd:     "'&&'",
	TokOr:      "'||'",
}

func (k TokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Token is a lexeme with its source position. For TokVar, Value is the
// variable name. Template is set on words and double-quoted strings that
// contain {{name}} references.
type Token struct {
	Kind     TokenKind
	Value    string
	Pos      Position
	Template bool
	Quote    rune
}

func (t Token) describe() string {
	switch t.Kind {
	case TokEOF, TokSep:
		return t.Kind.String()
	case TokVar:
		return "$" + t.Value
	case TokString:
		return fmt.Sprintf("string %q", t.Value)
	}
	return fmt.Sprintf("%q", t.Value)
}
