package compiler

import (
	"bytes"
	"fmt"
	"go/format"
	"strconv"
	"strings"

	"github.com/chicogong/affect/pkg/schemas"
)

// RenderOptions controls generated source
type RenderOptions struct {
	// Package is the package clause of the generated file
	Package string
	// FuncName is the exported entry point that runs every pipeline
	FuncName string
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.Package == "" {
		o.Package = "pipeline"
	}
	if o.FuncName == "" {
		o.FuncName = "Run"
	}
	return o
}

var opConstNames = map[schemas.OpType]string{
	schemas.OpInput:          "OpInput",
	schemas.OpSave:           "OpSave",
	schemas.OpResize:         "OpResize",
	schemas.OpEncode:         "OpEncode",
	schemas.OpFilter:         "OpFilter",
	schemas.OpCrop:           "OpCrop",
	schemas.OpRotate:         "OpRotate",
	schemas.OpIf:             "OpIf",
	schemas.OpVideoCodec:     "OpVideoCodec",
	schemas.OpVideoBitrate:   "OpVideoBitrate",
	schemas.OpAudioCodec:     "OpAudioCodec",
	schemas.OpAudioBitrate:   "OpAudioBitrate",
	schemas.OpFormat:         "OpFormat",
	schemas.OpSize:           "OpSize",
	schemas.OpFPS:            "OpFPS",
	schemas.OpNoVideo:        "OpNoVideo",
	schemas.OpNoAudio:        "OpNoAudio",
	schemas.OpAudioChannels:  "OpAudioChannels",
	schemas.OpAudioFrequency: "OpAudioFrequency",
	schemas.OpOutputOptions:  "OpOutputOptions",
}

var mediaConstNames = map[schemas.MediaType]string{
	schemas.MediaTypeAuto:  "MediaTypeAuto",
	schemas.MediaTypeVideo: "MediaTypeVideo",
	schemas.MediaTypeAudio: "MediaTypeAudio",
	schemas.MediaTypeImage: "MediaTypeImage",
}

// Render generates gofmt-formatted Go source that drives a backend through
// the same call sequence the execution engine performs. Operations appear
// in their compiled order.
func Render(pipelines []*schemas.ExecutionContext, opts RenderOptions) ([]byte, error) {
	opts = opts.withDefaults()

	r := &renderer{}
	r.line("// Code generated by affect. DO NOT EDIT.")
	r.line("")
	r.line("package %s", opts.Package)
	r.line("")
	r.line("import (")
	r.line("%q", "context")
	r.line("")
	r.line("%q", "github.com/chicogong/affect/pkg/backend")
	r.line("%q", "github.com/chicogong/affect/pkg/schemas")
	r.line(")")
	r.line("")
	r.line("// %s executes every compiled pipeline in order against b", opts.FuncName)
	r.line("func %s(ctx context.Context, b backend.Backend) error {", opts.FuncName)
	for i := range pipelines {
		r.line("if err := run%d(ctx, b); err != nil {", i)
		r.line("return err")
		r.line("}")
	}
	r.line("return nil")
	r.line("}")

	for i, p := range pipelines {
		if err := r.pipeline(i, p); err != nil {
			return nil, err
		}
	}

	src, err := format.Source(r.buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("render: generated source is malformed: %w", err)
	}
	return src, nil
}

type renderer struct {
	buf   bytes.Buffer
	conds int
}

func (r *renderer) line(format string, args ...interface{}) {
	fmt.Fprintf(&r.buf, format, args...)
	r.buf.WriteByte('\n')
}

func (r *renderer) pipeline(i int, p *schemas.ExecutionContext) error {
	mt, ok := mediaConstNames[p.MediaType]
	if !ok {
		return fmt.Errorf("render: unknown media type %q", p.MediaType)
	}

	r.line("")
	r.line("func run%d(ctx context.Context, b backend.Backend) error {", i)
	r.line("mediaType := schemas.%s", mt)
	r.line("cmd, err := b.CreateCommand(%q, mediaType)", p.Input)
	r.line("if err != nil {")
	r.line("return err")
	r.line("}")

	if hasConditional(p.Operations) {
		r.line("var meta *schemas.Metadata")
		r.line("metadata := func() (*schemas.Metadata, error) {")
		r.line("if meta == nil {")
		r.line("m, err := b.GetMetadata(ctx, %q)", p.Input)
		r.line("if err != nil {")
		r.line("return nil, err")
		r.line("}")
		r.line("meta = m")
		r.line("}")
		r.line("return meta, nil")
		r.line("}")
	}

	if err := r.operations(p.Operations); err != nil {
		return err
	}

	r.line("return b.Execute(ctx, cmd, %q)", p.Output)
	r.line("}")
	return nil
}

func hasConditional(ops []schemas.Operation) bool {
	for _, op := range ops {
		if op.Type == schemas.OpIf {
			return true
		}
	}
	return false
}

func (r *renderer) operations(ops []schemas.Operation) error {
	for _, op := range ops {
		switch op.Type {
		case schemas.OpInput, schemas.OpSave:
			// bound by CreateCommand and Execute
			r.line("// %s %q", op.Type, op.Path)
		case schemas.OpIf:
			if err := r.conditional(op); err != nil {
				return err
			}
		default:
			lit, err := goOperation(op)
			if err != nil {
				return err
			}
			r.line("if cmd, err = b.ApplyOperation(cmd, %s, mediaType); err != nil {", lit)
			r.line("return err")
			r.line("}")
		}
	}
	return nil
}

func (r *renderer) conditional(op schemas.Operation) error {
	if op.Condition == nil {
		return fmt.Errorf("render: if operation without condition")
	}
	r.conds++
	n := r.conds

	r.line("// if %s", op.Condition.String())
	r.line("{")
	r.line("m, err := metadata()")
	r.line("if err != nil {")
	r.line("return err")
	r.line("}")
	r.line("cond%d := %s", n, goCondition(*op.Condition))
	r.line("ok, err := cond%d.Evaluate(m)", n)
	r.line("if err != nil {")
	r.line("return err")
	r.line("}")
	r.line("if ok {")
	if err := r.operations(op.ThenOperations); err != nil {
		return err
	}
	if len(op.ElseOperations) > 0 {
		r.line("} else {")
		if err := r.operations(op.ElseOperations); err != nil {
			return err
		}
	}
	r.line("}")
	r.line("}")
	return nil
}

func goDim(d *schemas.Dim) string {
	switch {
	case d.IsAuto():
		return "schemas.Auto()"
	case d.IsCenter():
		return "schemas.Center()"
	}
	return fmt.Sprintf("schemas.Px(%d)", d.Value)
}

func goOperation(op schemas.Operation) (string, error) {
	name, ok := opConstNames[op.Type]
	if !ok {
		return "", fmt.Errorf("render: unknown operation %q", op.Type)
	}

	fields := []string{"Type: schemas." + name}
	str := func(field, v string) {
		if v != "" {
			fields = append(fields, field+": "+strconv.Quote(v))
		}
	}
	dims := func(field string, d *schemas.Dim) {
		if d != nil {
			fields = append(fields, field+": "+goDim(d))
		}
	}

	dims("X", op.X)
	dims("Y", op.Y)
	dims("Width", op.Width)
	dims("Height", op.Height)
	str("Codec", op.Codec)
	str("Param", op.Param)
	str("Name", op.Name)
	str("Value", op.Value)
	if len(op.Args) > 0 {
		quoted := make([]string, len(op.Args))
		for i, a := range op.Args {
			quoted[i] = strconv.Quote(a)
		}
		fields = append(fields, "Args: []string{"+strings.Join(quoted, ", ")+"}")
	}
	if op.Type == schemas.OpRotate {
		fields = append(fields, "Angle: "+strconv.FormatFloat(op.Angle, 'g', -1, 64))
	}
	str("Flip", op.Flip)

	return "schemas.Operation{" + strings.Join(fields, ", ") + "}", nil
}

func goOperand(o *schemas.Operand) string {
	if o.IsProperty() {
		return fmt.Sprintf("schemas.PropertyOperand(%q)", o.Property)
	}
	return fmt.Sprintf("schemas.LiteralOperand(%q)", o.Literal)
}

func goCondition(c schemas.Condition) string {
	if len(c.Conditions) > 0 {
		subs := make([]string, len(c.Conditions))
		for i, sub := range c.Conditions {
			subs[i] = goCondition(sub)
		}
		return fmt.Sprintf("schemas.Condition{Operator: %q, Conditions: []schemas.Condition{%s}}", c.Operator, strings.Join(subs, ", "))
	}
	return fmt.Sprintf("schemas.Condition{Operator: %q, Left: %s, Right: %s}", c.Operator, goOperand(c.Left), goOperand(c.Right))
}
