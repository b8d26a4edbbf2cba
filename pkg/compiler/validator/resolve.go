package validator

import (
	"github.com/chicogong/affect/pkg/dsl"
)

// Context variable names bound implicitly by convert blocks
const (
	VarInput  = "input"
	VarOutput = "output"
)

// Resolve replaces every variable and template in prog with a literal from
// vars and then validates the result. The input program is not modified.
// Resolution is total: the first variable missing from vars fails the
// whole call with *UnresolvedVariableError.
func Resolve(prog *dsl.Program, vars map[string]string) (*dsl.Program, error) {
	r := &resolver{vars: vars}

	out := &dsl.Program{Blocks: make([]dsl.Block, 0, len(prog.Blocks))}
	for _, b := range prog.Blocks {
		cmds := b.Commands()
		if cb, ok := b.(*dsl.ConvertBlock); ok {
			cmds = r.convertDefaults(cb)
		}

		resolved, err := r.commands(cmds)
		if err != nil {
			return nil, err
		}
		out.Blocks = append(out.Blocks, dsl.WithCommands(b, resolved))
	}

	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

type resolver struct {
	vars map[string]string
}

// convertDefaults binds $input when the block has no input and $output
// when the block has no save and the context provides an output
func (r *resolver) convertDefaults(b *dsl.ConvertBlock) []dsl.Command {
	var hasInput, hasSave bool
	for _, c := range b.Body {
		switch c.(type) {
		case *dsl.Input:
			hasInput = true
		case *dsl.Save:
			hasSave = true
		}
	}

	cmds := make([]dsl.Command, 0, len(b.Body)+2)
	if !hasInput {
		cmds = append(cmds, &dsl.Input{Position: b.Position, Path: &dsl.Variable{Position: b.Position, Name: VarInput}})
	}
	cmds = append(cmds, b.Body...)
	if _, ok := r.vars[VarOutput]; ok && !hasSave {
		cmds = append(cmds, &dsl.Save{Position: b.Position, Path: &dsl.Variable{Position: b.Position, Name: VarOutput}})
	}
	return cmds
}

func (r *resolver) commands(cmds []dsl.Command) ([]dsl.Command, error) {
	if cmds == nil {
		return nil, nil
	}
	out := make([]dsl.Command, 0, len(cmds))
	for _, c := range cmds {
		rc, err := r.command(c)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func (r *resolver) command(c dsl.Command) (dsl.Command, error) {
	var err error
	e := func(x dsl.Expr) dsl.Expr {
		if err != nil || x == nil {
			return x
		}
		var v dsl.Expr
		v, err = r.expr(x)
		return v
	}

	var out dsl.Command
	switch c := c.(type) {
	case *dsl.Input:
		out = &dsl.Input{Position: c.Position, Path: e(c.Path)}
	case *dsl.Save:
		out = &dsl.Save{Position: c.Position, Path: e(c.Path)}
	case *dsl.Resize:
		out = &dsl.Resize{Position: c.Position, Width: e(c.Width), Height: e(c.Height)}
	case *dsl.Encode:
		out = &dsl.Encode{Position: c.Position, Codec: e(c.Codec), Param: e(c.Param)}
	case *dsl.Filter:
		out = &dsl.Filter{Position: c.Position, Name: e(c.Name), Value: e(c.Value)}
	case *dsl.Crop:
		out = &dsl.Crop{Position: c.Position, X: e(c.X), Y: e(c.Y), Width: e(c.Width), Height: e(c.Height)}
	case *dsl.Rotate:
		out = &dsl.Rotate{Position: c.Position, Angle: e(c.Angle), Flip: e(c.Flip)}
	case *dsl.PassThrough:
		args := make([]dsl.Expr, len(c.Args))
		for i, a := range c.Args {
			args[i] = e(a)
		}
		out = &dsl.PassThrough{Position: c.Position, Name: c.Name, Args: args}
	case *dsl.If:
		cond := e(c.Condition)
		if err != nil {
			return nil, err
		}
		var then, els []dsl.Command
		if then, err = r.commands(c.Then); err != nil {
			return nil, err
		}
		if els, err = r.commands(c.Else); err != nil {
			return nil, err
		}
		if c.Else != nil && els == nil {
			els = []dsl.Command{}
		}
		return &dsl.If{Position: c.Position, Condition: cond, Then: then, Else: els}, nil
	default:
		return nil, invalid(c, "unsupported command %q", c.Keyword())
	}

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *resolver) expr(x dsl.Expr) (dsl.Expr, error) {
	switch x := x.(type) {
	case *dsl.Variable:
		v, ok := r.vars[x.Name]
		if !ok {
			return nil, unresolved(x, x.Name)
		}
		return &dsl.Literal{Position: x.Position, Value: v, Quoted: true}, nil
	case *dsl.Template:
		v, missing, ok := x.Expand(func(name string) (string, bool) {
			v, ok := r.vars[name]
			return v, ok
		})
		if !ok {
			return nil, unresolved(x, missing)
		}
		return &dsl.Literal{Position: x.Position, Value: v, Quoted: true}, nil
	case *dsl.Comparison:
		left, err := r.expr(x.Left)
		if err != nil {
			return nil, err
		}
		right, err := r.expr(x.Right)
		if err != nil {
			return nil, err
		}
		return &dsl.Comparison{Position: x.Position, Left: left, Operator: x.Operator, Right: right}, nil
	case *dsl.Logical:
		left, err := r.expr(x.Left)
		if err != nil {
			return nil, err
		}
		right, err := r.expr(x.Right)
		if err != nil {
			return nil, err
		}
		return &dsl.Logical{Position: x.Position, Operator: x.Operator, Left: left, Right: right}, nil
	}
	return x, nil
}
