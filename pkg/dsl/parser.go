package dsl

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/chicogong/affect/pkg/schemas"
)

// arity bounds the argument count of a command; max < 0 means unbounded
type arity struct {
	min, max int
	usage    string
}

var commandArity = map[string]arity{
	"input":          {1, 1, "input <path>"},
	"save":           {1, 1, "save <path>"},
	"resize":         {1, 2, "resize <width> <height> | resize <W>x<H>"},
	"encode":         {1, 2, "encode <codec> [param]"},
	"filter":         {1, 2, "filter <name> [value]"},
	"crop":           {2, 4, "crop <x> <y> <width> <height> | crop <width> <height>"},
	"rotate":         {1, 2, "rotate <angle> [flip]"},
	"videoCodec":     {1, 1, "videoCodec <codec>"},
	"videoBitrate":   {1, 1, "videoBitrate <rate>"},
	"audioCodec":     {1, 1, "audioCodec <codec>"},
	"audioBitrate":   {1, 1, "audioBitrate <rate>"},
	"format":         {1, 1, "format <name>"},
	"size":           {1, 1, "size <WxH>"},
	"fps":            {1, 1, "fps <rate>"},
	"noVideo":        {0, 0, "noVideo"},
	"noAudio":        {0, 0, "noAudio"},
	"audioChannels":  {1, 1, "audioChannels <n>"},
	"audioFrequency": {1, 1, "audioFrequency <hz>"},
	"outputOptions":  {1, -1, "outputOptions <arg>..."},
}

// keywords maps normalized spellings to canonical command names
var keywords = map[string]string{"if": "if"}

func init() {
	for name := range commandArity {
		keywords[normalizeKeyword(name)] = name
	}
}

func normalizeKeyword(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, "-", "")
}

var sizePattern = regexp.MustCompile(`^(\d+|auto)[xX](\d+|auto)$`)

type parser struct {
	toks []Token
	i    int
}

// Parse turns source text into a Program or returns a *SyntaxError
func Parse(src string) (*Program, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	prog, err := p.parseProgram()
	if err != nil {
		return nil, err
	}
	return prog, nil
}

func (p *parser) peek() Token {
	return p.toks[p.i]
}

func (p *parser) next() Token {
	t := p.toks[p.i]
	if t.Kind != TokEOF {
		p.i++
	}
	return t
}

func (p *parser) skipSeps() {
	for p.peek().Kind == TokSep {
		p.i++
	}
}

func (p *parser) isWord(t Token, word string) bool {
	return t.Kind == TokWord && !t.Template && strings.EqualFold(t.Value, word)
}

func (p *parser) expect(kind TokenKind, context string) (Token, error) {
	t := p.next()
	if t.Kind != kind {
		return t, errorf(t.Pos, "expected %s %s, got %s", kind, context, t.describe())
	}
	return t, nil
}

func (p *parser) parseProgram() (*Program, error) {
	prog := &Program{}
	for {
		p.skipSeps()
		t := p.peek()
		if t.Kind == TokEOF {
			return prog, nil
		}

		var (
			block Block
			err   error
		)
		switch {
		case p.isWord(t, "affect"):
			block, err = p.parseAffect()
		case p.isWord(t, "convert"):
			block, err = p.parseConvert()
		default:
			return nil, errorf(t.Pos, "expected block header 'affect' or 'convert', got %s", t.describe())
		}
		if err != nil {
			return nil, err
		}
		prog.Blocks = append(prog.Blocks, block)
	}
}

func (p *parser) parseAffect() (Block, error) {
	head := p.next()
	block := &AffectBlock{Position: head.Pos, MediaType: string(schemas.MediaTypeAuto)}

	if t := p.peek(); t.Kind == TokWord {
		p.next()
		block.MediaType = strings.ToLower(t.Value)
	}
	if _, err := p.expect(TokLBrace, "to open the affect block"); err != nil {
		return nil, err
	}

	body, err := p.parseBody(head.Pos)
	if err != nil {
		return nil, err
	}
	block.Body = body
	return block, nil
}

func (p *parser) parseConvert() (Block, error) {
	head := p.next()
	if _, err := p.expect(TokLBrace, "to open the convert block"); err != nil {
		return nil, err
	}
	body, err := p.parseBody(head.Pos)
	if err != nil {
		return nil, err
	}
	return &ConvertBlock{Position: head.Pos, Body: body}, nil
}

// parseBody reads commands up to and including the closing brace
func (p *parser) parseBody(open Position) ([]Command, error) {
	var cmds []Command
	for {
		p.skipSeps()
		t := p.peek()
		switch t.Kind {
		case TokRBrace:
			p.next()
			return cmds, nil
		case TokEOF:
			return nil, errorf(open, "unterminated block, expected '}'")
		}

		cmd, err := p.parseCommand()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
}

func (p *parser) parseCommand() (Command, error) {
	t := p.next()
	if t.Kind != TokWord || t.Template {
		return nil, errorf(t.Pos, "expected a command, got %s", t.describe())
	}

	name, ok := keywords[normalizeKeyword(t.Value)]
	if !ok {
		if strings.EqualFold(t.Value, "else") {
			return nil, errorf(t.Pos, "'else' without a preceding 'if'")
		}
		return nil, errorf(t.Pos, "unknown command %q", t.Value)
	}
	if name == "if" {
		return p.parseIf(t.Pos)
	}

	var args []Expr
	for {
		a := p.peek()
		if a.Kind == TokSep || a.Kind == TokRBrace || a.Kind == TokEOF {
			break
		}
		expr, err := p.parseArg()
		if err != nil {
			return nil, errorf(a.Pos, "unexpected %s in arguments of %s", a.describe(), name)
		}
		args = append(args, expr)
	}

	ar := commandArity[name]
	if len(args) < ar.min || (ar.max >= 0 && len(args) > ar.max) {
		return nil, errorf(t.Pos, "%s takes %s, got %d argument(s); usage: %s", name, describeArity(ar), len(args), ar.usage)
	}

	return buildCommand(t.Pos, name, args)
}

func describeArity(ar arity) string {
	switch {
	case ar.max < 0:
		return "at least " + strconv.Itoa(ar.min) + " argument(s)"
	case ar.min == ar.max:
		return strconv.Itoa(ar.min) + " argument(s)"
	}
	return strconv.Itoa(ar.min) + " to " + strconv.Itoa(ar.max) + " arguments"
}

func optional(args []Expr, i int) Expr {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func buildCommand(pos Position, name string, args []Expr) (Command, error) {
	switch name {
	case "input":
		return &Input{Position: pos, Path: args[0]}, nil
	case "save":
		return &Save{Position: pos, Path: args[0]}, nil
	case "resize":
		if len(args) == 1 {
			w, h, ok := splitSize(args[0])
			if !ok {
				return nil, errorf(pos, "resize with one argument expects <W>x<H>, e.g. 1280x720")
			}
			return &Resize{Position: pos, Width: w, Height: h}, nil
		}
		return &Resize{Position: pos, Width: args[0], Height: args[1]}, nil
	case "encode":
		return &Encode{Position: pos, Codec: args[0], Param: optional(args, 1)}, nil
	case "filter":
		return &Filter{Position: pos, Name: args[0], Value: optional(args, 1)}, nil
	case "crop":
		switch len(args) {
		case 2:
			center := func() Expr { return &Literal{Position: pos, Value: string(schemas.SentinelCenter)} }
			return &Crop{Position: pos, X: center(), Y: center(), Width: args[0], Height: args[1]}, nil
		case 4:
			return &Crop{Position: pos, X: args[0], Y: args[1], Width: args[2], Height: args[3]}, nil
		}
		return nil, errorf(pos, "crop takes 2 or 4 arguments, got %d; usage: %s", len(args), commandArity["crop"].usage)
	case "rotate":
		return &Rotate{Position: pos, Angle: args[0], Flip: optional(args, 1)}, nil
	}
	return &PassThrough{Position: pos, Name: name, Args: args}, nil
}

func splitSize(e Expr) (Expr, Expr, bool) {
	lit, ok := e.(*Literal)
	if !ok || lit.Quoted {
		return nil, nil, false
	}
	m := sizePattern.FindStringSubmatch(lit.Value)
	if m == nil {
		return nil, nil, false
	}
	return &Literal{Position: lit.Position, Value: m[1]}, &Literal{Position: lit.Position, Value: m[2]}, true
}

func (p *parser) parseArg() (Expr, error) {
	t := p.next()
	switch t.Kind {
	case TokVar:
		return &Variable{Position: t.Pos, Name: t.Value}, nil
	case TokWord, TokString:
		return literalOrTemplate(t), nil
	}
	return nil, errorf(t.Pos, "unexpected %s", t.describe())
}

func literalOrTemplate(t Token) Expr {
	quoted := t.Kind == TokString
	if t.Template {
		return &Template{Position: t.Pos, Raw: t.Value, Quoted: quoted}
	}
	return &Literal{Position: t.Pos, Value: t.Value, Quoted: quoted}
}

func (p *parser) parseIf(pos Position) (Command, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	open, err := p.expect(TokLBrace, "after if condition")
	if err != nil {
		return nil, err
	}
	then, err := p.parseBody(open.Pos)
	if err != nil {
		return nil, err
	}
	node := &If{Position: pos, Condition: cond, Then: then}

	mark := p.i
	p.skipSeps()
	if !p.isWord(p.peek(), "else") {
		p.i = mark
		return node, nil
	}
	p.next()

	if t := p.peek(); p.isWord(t, "if") {
		p.next()
		nested, err := p.parseIf(t.Pos)
		if err != nil {
			return nil, err
		}
		node.Else = []Command{nested}
		return node, nil
	}

	open, err = p.expect(TokLBrace, "after else")
	if err != nil {
		return nil, err
	}
	if node.Else, err = p.parseBody(open.Pos); err != nil {
		return nil, err
	}
	if node.Else == nil {
		node.Else = []Command{}
	}
	return node, nil
}

func (p *parser) isOr(t Token) bool {
	return t.Kind == TokOr || p.isWord(t, "or")
}

func (p *parser) isAnd(t Token) bool {
	return t.Kind == TokAnd || p.isWord(t, "and")
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isOr(p.peek()) {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Position: op.Pos, Operator: schemas.OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.isAnd(p.peek()) {
		op := p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Position: op.Pos, Operator: schemas.OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.peek().Kind == TokLParen {
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen, "to close the condition"); err != nil {
			return nil, err
		}
		return e, nil
	}

	left, err := p.parseOperand(true)
	if err != nil {
		return nil, err
	}
	op := p.next()
	if op.Kind != TokCompare {
		return nil, errorf(op.Pos, "expected a comparison operator (==, !=, >, >=, <, <=), got %s", op.describe())
	}
	right, err := p.parseOperand(false)
	if err != nil {
		return nil, err
	}
	return &Comparison{Position: left.Pos(), Left: left, Operator: op.Value, Right: right}, nil
}

// parseOperand reads one side of a comparison. A bare word on the left is
// a property unless it is numeric; on the right it is a property only when
// it names a known metadata field.
func (p *parser) parseOperand(left bool) (Expr, error) {
	t := p.next()
	switch t.Kind {
	case TokVar:
		return &Variable{Position: t.Pos, Name: t.Value}, nil
	case TokString:
		return literalOrTemplate(t), nil
	case TokWord:
		if t.Template {
			return literalOrTemplate(t), nil
		}
		name := strings.ToLower(t.Value)
		if schemas.IsProperty(name) {
			return &Property{Position: t.Pos, Name: name}, nil
		}
		if _, numeric := schemas.ParseNumber(t.Value); left && !numeric {
			return &Property{Position: t.Pos, Name: t.Value}, nil
		}
		return &Literal{Position: t.Pos, Value: t.Value}, nil
	}
	return nil, errorf(t.Pos, "expected a property or value in condition, got %s", t.describe())
}
