package validator

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/chicogong/affect/pkg/dsl"
	"github.com/chicogong/affect/pkg/schemas"
	"github.com/chicogong/affect/pkg/storage"
)

var sizeValue = regexp.MustCompile(`^\d+x\d+$`)

// Validate checks a resolved program. It reports the first problem found as
// *ValidationError, or *UnresolvedVariableError if a variable survived
// resolution. Validate does no I/O.
func Validate(prog *dsl.Program) error {
	if prog == nil || len(prog.Blocks) == 0 {
		return invalid(nil, "program has no affect or convert blocks")
	}
	for _, b := range prog.Blocks {
		if err := validateBlock(b); err != nil {
			return err
		}
	}
	return nil
}

func validateBlock(b dsl.Block) error {
	if ab, ok := b.(*dsl.AffectBlock); ok {
		if _, err := schemas.ParseMediaType(ab.MediaType); err != nil {
			return invalid(b, "%v", err)
		}
	}

	cmds := b.Commands()
	if len(cmds) == 0 {
		return invalid(b, "block has no input")
	}
	if _, ok := cmds[0].(*dsl.Input); !ok {
		for _, c := range cmds {
			if _, isInput := c.(*dsl.Input); isInput {
				return invalid(c, "input must be the first command of the block")
			}
		}
		return invalid(b, "block has no input")
	}

	for i, c := range cmds {
		switch c.(type) {
		case *dsl.Input:
			if i > 0 {
				return invalid(c, "duplicate input, a block reads exactly one input")
			}
		case *dsl.Save:
			if i != len(cmds)-1 {
				return invalid(c, "save must be the last command of the block")
			}
		}
		if err := validateCommand(c, false); err != nil {
			return err
		}
	}
	return nil
}

func validateCommands(cmds []dsl.Command, nested bool) error {
	for _, c := range cmds {
		if err := validateCommand(c, nested); err != nil {
			return err
		}
	}
	return nil
}

func validateCommand(c dsl.Command, nested bool) error {
	switch c := c.(type) {
	case *dsl.Input:
		if nested {
			return invalid(c, "input is not allowed inside if")
		}
		return validatePath(c, c.Path, false)

	case *dsl.Save:
		if nested {
			return invalid(c, "save is not allowed inside if")
		}
		return validatePath(c, c.Path, true)

	case *dsl.Resize:
		w, err := dim(c, "width", c.Width, false)
		if err != nil {
			return err
		}
		h, err := dim(c, "height", c.Height, false)
		if err != nil {
			return err
		}
		if w.IsAuto() && h.IsAuto() {
			return invalid(c, "resize needs at least one fixed dimension")
		}

	case *dsl.Crop:
		for _, f := range []struct {
			name        string
			e           dsl.Expr
			allowCenter bool
		}{
			{"x", c.X, true},
			{"y", c.Y, true},
			{"width", c.Width, false},
			{"height", c.Height, false},
		} {
			if _, err := dim(c, f.name, f.e, f.allowCenter); err != nil {
				return err
			}
		}

	case *dsl.Encode:
		if err := nonEmpty(c, "codec", c.Codec); err != nil {
			return err
		}
		if c.Param != nil {
			return nonEmpty(c, "param", c.Param)
		}

	case *dsl.Filter:
		if err := nonEmpty(c, "name", c.Name); err != nil {
			return err
		}
		if c.Value != nil {
			return nonEmpty(c, "value", c.Value)
		}

	case *dsl.Rotate:
		v, err := literal(c.Angle)
		if err != nil {
			return err
		}
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return invalid(c, "rotate angle %q is not a number", v)
		}
		if c.Flip != nil {
			f, err := literal(c.Flip)
			if err != nil {
				return err
			}
			switch strings.ToLower(f) {
			case schemas.FlipHorizontal, schemas.FlipVertical:
			default:
				return invalid(c, "rotate flip must be %s or %s, got %q", schemas.FlipHorizontal, schemas.FlipVertical, f)
			}
		}

	case *dsl.PassThrough:
		return validatePassThrough(c)

	case *dsl.If:
		if err := validateCondition(c.Condition); err != nil {
			return err
		}
		if err := validateCommands(c.Then, true); err != nil {
			return err
		}
		return validateCommands(c.Else, true)

	default:
		return invalid(c, "unsupported command %q", c.Keyword())
	}
	return nil
}

func literal(e dsl.Expr) (string, error) {
	switch x := e.(type) {
	case *dsl.Variable:
		return "", unresolved(x, x.Name)
	case *dsl.Template:
		if vars := x.Vars(); len(vars) > 0 {
			return "", unresolved(x, vars[0])
		}
	}
	v, ok := dsl.LiteralValue(e)
	if !ok {
		if e == nil {
			return "", invalid(nil, "missing argument")
		}
		return "", invalid(e, "expected a literal value")
	}
	return v, nil
}

func nonEmpty(c dsl.Command, field string, e dsl.Expr) error {
	v, err := literal(e)
	if err != nil {
		return err
	}
	if strings.TrimSpace(v) == "" {
		return invalid(c, "%s %s must not be empty", c.Keyword(), field)
	}
	return nil
}

func dim(c dsl.Command, field string, e dsl.Expr, allowCenter bool) (*schemas.Dim, error) {
	v, err := literal(e)
	if err != nil {
		return nil, err
	}
	d, perr := schemas.ParseDim(strings.ToLower(v), allowCenter)
	if perr != nil {
		return nil, invalid(c, "%s %s: %v", c.Keyword(), field, perr)
	}
	return d, nil
}

func validatePath(c dsl.Command, e dsl.Expr, output bool) error {
	p, err := literal(e)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p) == "" {
		return invalid(c, "%s path must not be empty", c.Keyword())
	}
	if !strings.Contains(p, "://") {
		return nil
	}

	scheme, _, perr := storage.ParseURI(p)
	if perr != nil {
		return invalid(c, "%s path %q: %v", c.Keyword(), p, perr)
	}
	if !storage.IsAllowedScheme(scheme) {
		return invalid(c, "%s path %q: scheme %q not allowed", c.Keyword(), p, scheme)
	}
	if output && (scheme == "http" || scheme == "https") {
		return invalid(c, "cannot save to %s URI %q", scheme, p)
	}
	return nil
}

func validatePassThrough(c *dsl.PassThrough) error {
	values := make([]string, len(c.Args))
	for i, a := range c.Args {
		v, err := literal(a)
		if err != nil {
			return err
		}
		values[i] = v
	}

	switch c.Name {
	case "noVideo", "noAudio":
		return nil
	case "outputOptions":
		for _, v := range values {
			if v == "" {
				return invalid(c, "outputOptions arguments must not be empty")
			}
		}
		return nil
	}

	if len(values) != 1 || strings.TrimSpace(values[0]) == "" {
		return invalid(c, "%s needs one non-empty value", c.Name)
	}
	v := values[0]

	switch c.Name {
	case "audioChannels", "audioFrequency":
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			return invalid(c, "%s must be a positive integer, got %q", c.Name, v)
		}
	case "fps":
		if f, ok := schemas.ParseNumber(v); !ok || f <= 0 {
			return invalid(c, "fps must be a positive number, got %q", v)
		}
	case "size":
		if !sizeValue.MatchString(v) {
			return invalid(c, "size must look like 1280x720, got %q", v)
		}
	}
	return nil
}

func validateCondition(e dsl.Expr) error {
	switch x := e.(type) {
	case *dsl.Logical:
		if x.Operator != schemas.OpAnd && x.Operator != schemas.OpOr {
			return invalid(x, "unknown logical operator %q", x.Operator)
		}
		if err := validateCondition(x.Left); err != nil {
			return err
		}
		return validateCondition(x.Right)

	case *dsl.Comparison:
		if !schemas.IsComparison(x.Operator) {
			return invalid(x, "unknown comparison operator %q", x.Operator)
		}
		for _, side := range []dsl.Expr{x.Left, x.Right} {
			if err := validateOperand(side); err != nil {
				return err
			}
		}
		return nil

	case nil:
		return invalid(nil, "if requires a condition")
	}
	return invalid(e, "if condition must be a comparison")
}

func validateOperand(e dsl.Expr) error {
	if p, ok := e.(*dsl.Property); ok {
		if !schemas.IsProperty(p.Name) {
			return invalid(p, "unknown property %q (known: %s)", p.Name, strings.Join(schemas.Properties, ", "))
		}
		return nil
	}
	_, err := literal(e)
	return err
}
