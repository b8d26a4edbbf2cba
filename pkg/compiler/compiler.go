// Package compiler turns resolved programs into backend-agnostic operation
// lists and renders them as JSON artifacts or Go source.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chicogong/affect/pkg/compiler/validator"
	"github.com/chicogong/affect/pkg/dsl"
	"github.com/chicogong/affect/pkg/schemas"
)

// CompileSource parses, resolves and compiles source text in one call
func CompileSource(src string, vars map[string]string) ([]*schemas.ExecutionContext, error) {
	prog, err := dsl.Parse(src)
	if err != nil {
		return nil, err
	}
	resolved, err := validator.Resolve(prog, vars)
	if err != nil {
		return nil, err
	}
	return Compile(resolved)
}

// Compile turns a resolved program into one execution context per block.
// It is deterministic and performs no I/O. Nothing is returned when any
// block fails.
func Compile(prog *dsl.Program) ([]*schemas.ExecutionContext, error) {
	if err := validator.Validate(prog); err != nil {
		return nil, err
	}

	out := make([]*schemas.ExecutionContext, 0, len(prog.Blocks))
	for i, b := range prog.Blocks {
		ectx, err := compileBlock(b)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
		out = append(out, ectx)
	}
	return out, nil
}

// CompileBlock compiles a single resolved block
func CompileBlock(b dsl.Block) (*schemas.ExecutionContext, error) {
	if err := validator.Validate(&dsl.Program{Blocks: []dsl.Block{b}}); err != nil {
		return nil, err
	}
	return compileBlock(b)
}

func compileBlock(b dsl.Block) (*schemas.ExecutionContext, error) {
	ectx := &schemas.ExecutionContext{MediaType: schemas.MediaTypeAuto}
	if ab, ok := b.(*dsl.AffectBlock); ok {
		mt, err := schemas.ParseMediaType(ab.MediaType)
		if err != nil {
			return nil, err
		}
		ectx.MediaType = mt
	}

	ops, err := compileCommands(b.Commands())
	if err != nil {
		return nil, err
	}
	ectx.Operations = ops

	for _, op := range ops {
		switch op.Type {
		case schemas.OpInput:
			ectx.Input = op.Path
		case schemas.OpSave:
			ectx.Output = op.Path
		}
	}
	return ectx, nil
}

func compileCommands(cmds []dsl.Command) ([]schemas.Operation, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	ops := make([]schemas.Operation, 0, len(cmds))
	for _, c := range cmds {
		op, err := compileCommand(c)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// value reads a literal; Validate has already rejected anything else
func value(e dsl.Expr) string {
	v, _ := dsl.LiteralValue(e)
	return v
}

func dim(e dsl.Expr, allowCenter bool) (*schemas.Dim, error) {
	return schemas.ParseDim(strings.ToLower(value(e)), allowCenter)
}

func compileCommand(c dsl.Command) (schemas.Operation, error) {
	var err error
	d := func(e dsl.Expr, allowCenter bool) *schemas.Dim {
		if err != nil {
			return nil
		}
		var v *schemas.Dim
		v, err = dim(e, allowCenter)
		return v
	}

	var op schemas.Operation
	switch c := c.(type) {
	case *dsl.Input:
		op = schemas.Operation{Type: schemas.OpInput, Path: value(c.Path)}
	case *dsl.Save:
		op = schemas.Operation{Type: schemas.OpSave, Path: value(c.Path)}
	case *dsl.Resize:
		op = schemas.Operation{Type: schemas.OpResize, Width: d(c.Width, false), Height: d(c.Height, false)}
	case *dsl.Crop:
		op = schemas.Operation{
			Type:   schemas.OpCrop,
			X:      d(c.X, true),
			Y:      d(c.Y, true),
			Width:  d(c.Width, false),
			Height: d(c.Height, false),
		}
	case *dsl.Encode:
		op = schemas.Operation{Type: schemas.OpEncode, Codec: value(c.Codec), Param: value(c.Param)}
	case *dsl.Filter:
		op = schemas.Operation{Type: schemas.OpFilter, Name: value(c.Name), Value: value(c.Value)}
	case *dsl.Rotate:
		angle, perr := strconv.ParseFloat(value(c.Angle), 64)
		if perr != nil {
			return op, fmt.Errorf("rotate angle: %w", perr)
		}
		op = schemas.Operation{Type: schemas.OpRotate, Angle: angle, Flip: strings.ToLower(value(c.Flip))}
	case *dsl.PassThrough:
		op = schemas.Operation{Type: schemas.OpType(c.Name)}
		if op.Type == schemas.OpOutputOptions {
			for _, a := range c.Args {
				op.Args = append(op.Args, value(a))
			}
		} else if len(c.Args) > 0 {
			op.Value = value(c.Args[0])
		}
	case *dsl.If:
		cond, cerr := compileCondition(c.Condition)
		if cerr != nil {
			return op, cerr
		}
		then, terr := compileCommands(c.Then)
		if terr != nil {
			return op, terr
		}
		els, eerr := compileCommands(c.Else)
		if eerr != nil {
			return op, eerr
		}
		op = schemas.Operation{Type: schemas.OpIf, Condition: &cond, ThenOperations: then, ElseOperations: els}
	default:
		return op, fmt.Errorf("unsupported command %q", c.Keyword())
	}
	return op, err
}

func compileCondition(e dsl.Expr) (schemas.Condition, error) {
	switch x := e.(type) {
	case *dsl.Logical:
		left, err := compileCondition(x.Left)
		if err != nil {
			return schemas.Condition{}, err
		}
		right, err := compileCondition(x.Right)
		if err != nil {
			return schemas.Condition{}, err
		}
		c := schemas.Condition{Operator: x.Operator}
		c.Conditions = append(c.Conditions, flatten(left, x.Operator)...)
		c.Conditions = append(c.Conditions, flatten(right, x.Operator)...)
		return c, nil

	case *dsl.Comparison:
		left, err := compileOperand(x.Left)
		if err != nil {
			return schemas.Condition{}, err
		}
		right, err := compileOperand(x.Right)
		if err != nil {
			return schemas.Condition{}, err
		}
		return schemas.Condition{Operator: x.Operator, Left: left, Right: right}, nil
	}
	return schemas.Condition{}, fmt.Errorf("unsupported condition expression %T", e)
}

// flatten merges nested conditions that share op into their parent
func flatten(c schemas.Condition, op string) []schemas.Condition {
	if c.Operator == op {
		return c.Conditions
	}
	return []schemas.Condition{c}
}

func compileOperand(e dsl.Expr) (*schemas.Operand, error) {
	switch x := e.(type) {
	case *dsl.Property:
		return schemas.PropertyOperand(x.Name), nil
	case *dsl.Literal:
		return schemas.LiteralOperand(x.Value), nil
	}
	return nil, fmt.Errorf("unsupported operand %T", e)
}
