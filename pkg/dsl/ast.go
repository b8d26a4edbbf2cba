package dsl

import (
	"regexp"
)

// Position is a 1-based line and column in the source text
type Position struct {
	Line   int
	Column int
}

// Pos returns the position itself so that embedding types satisfy Node
func (p Position) Pos() Position {
	return p
}

// Node is any element of the syntax tree
type Node interface {
	Pos() Position
}

// Program is the root of a parsed source file
type Program struct {
	Blocks []Block
}

// Block is a top-level pipeline declaration
type Block interface {
	Node
	Commands() []Command
	withCommands([]Command) Block
}

// AffectBlock declares a pipeline over a given media type
type AffectBlock struct {
	Position
	MediaType string
	Body      []Command
}

// ConvertBlock is a pipeline with implicit $input and $output bindings
type ConvertBlock struct {
	Position
	Body []Command
}

func (b *AffectBlock) Commands() []Command  { return b.Body }
func (b *ConvertBlock) Commands() []Command { return b.Body }

func (b *AffectBlock) withCommands(cmds []Command) Block {
	return &AffectBlock{Position: b.Position, MediaType: b.MediaType, Body: cmds}
}

func (b *ConvertBlock) withCommands(cmds []Command) Block {
	return &ConvertBlock{Position: b.Position, Body: cmds}
}

// WithCommands returns a copy of b with a different body
func WithCommands(b Block, cmds []Command) Block {
	return b.withCommands(cmds)
}

// Command is one statement in a block body
type Command interface {
	Node
	Keyword() string
}

type (
	Input struct {
		Position
		Path Expr
	}

	Save struct {
		Position
		Path Expr
	}

	Resize struct {
		Position
		Width  Expr
		Height Expr
	}

	// Encode selects a codec; Param is optional and may be nil
	Encode struct {
		Position
		Codec Expr
		Param Expr
	}

	// Filter applies a named filter; Value is optional and may be nil
	Filter struct {
		Position
		Name  Expr
		Value Expr
	}

	Crop struct {
		Position
		X      Expr
		Y      Expr
		Width  Expr
		Height Expr
	}

	// Rotate turns the frame by Angle degrees; Flip is optional
	Rotate struct {
		Position
		Angle Expr
		Flip  Expr
	}

	If struct {
		Position
		Condition Expr
		Then      []Command
		Else      []Command
	}

	// PassThrough is a backend option command such as videoCodec or noAudio
	PassThrough struct {
		Position
		Name string
		Args []Expr
	}
)

func (*Input) Keyword() string         { return "input" }
func (*Save) Keyword() string          { return "save" }
func (*Resize) Keyword() string        { return "resize" }
func (*Encode) Keyword() string        { return "encode" }
func (*Filter) Keyword() string        { return "filter" }
func (*Crop) Keyword() string          { return "crop" }
func (*Rotate) Keyword() string        { return "rotate" }
func (*If) Keyword() string            { return "if" }
func (c *PassThrough) Keyword() string { return c.Name }

// Expr is an argument or condition expression
type Expr interface {
	Node
	expr()
}

type (
	// Literal is a constant. Quoted records whether it came from a
	// string literal.
	Literal struct {
		Position
		Value  string
		Quoted bool
	}

	// Variable is a $name or {{name}} reference
	Variable struct {
		Position
		Name string
	}

	// Template is text with embedded {{name}} references
	Template struct {
		Position
		Raw    string
		Quoted bool
	}

	// Property reads a metadata field at execution time
	Property struct {
		Position
		Name string
	}

	Comparison struct {
		Position
		Left     Expr
		Operator string
		Right    Expr
	}

	// Logical joins two conditions with "and" or "or"
	Logical struct {
		Position
		Operator string
		Left     Expr
		Right    Expr
	}
)

func (*Literal) expr()    {}
func (*Variable) expr()   {}
func (*Template) expr()   {}
func (*Property) expr()   {}
func (*Comparison) expr() {}
func (*Logical) expr()    {}

var templateRef = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// Vars returns the variable names referenced by the template in order
func (t *Template) Vars() []string {
	var names []string
	for _, m := range templateRef.FindAllStringSubmatch(t.Raw, -1) {
		names = append(names, m[1])
	}
	return names
}

// Expand substitutes every reference using lookup. The first name lookup
// rejects is returned with ok=false.
func (t *Template) Expand(lookup func(string) (string, bool)) (string, string, bool) {
	missing := ""
	out := templateRef.ReplaceAllStringFunc(t.Raw, func(ref string) string {
		name := ref[2 : len(ref)-2]
		v, ok := lookup(name)
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", missing, false
	}
	return out, "", true
}

// LiteralValue returns the constant value of e. It reports false for nil
// and for expressions that still need resolving.
func LiteralValue(e Expr) (string, bool) {
	lit, ok := e.(*Literal)
	if !ok || lit == nil {
		return "", false
	}
	return lit.Value, true
}
