package dsl

import (
	"strings"
)

// Format renders a program in canonical source form. Parsing the output
// yields a program that formats identically.
func Format(prog *Program) string {
	var sb strings.Builder
	for i, b := range prog.Blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch b := b.(type) {
		case *AffectBlock:
			sb.WriteString("affect " + b.MediaType + " {\n")
		case *ConvertBlock:
			sb.WriteString("convert {\n")
		}
		formatCommands(&sb, b.Commands(), 1)
		sb.WriteString("}\n")
	}
	return sb.String()
}

func formatCommands(sb *strings.Builder, cmds []Command, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, c := range cmds {
		sb.WriteString(indent)
		if ifc, ok := c.(*If); ok {
			formatIf(sb, ifc, depth)
			sb.WriteString("\n")
			continue
		}
		sb.WriteString(FormatCommand(c))
		sb.WriteString("\n")
	}
}

func formatIf(sb *strings.Builder, c *If, depth int) {
	indent := strings.Repeat("  ", depth)
	sb.WriteString("if " + FormatExpr(c.Condition) + " {\n")
	formatCommands(sb, c.Then, depth+1)
	sb.WriteString(indent + "}")
	if c.Else == nil {
		return
	}
	if len(c.Else) == 1 {
		if nested, ok := c.Else[0].(*If); ok {
			sb.WriteString(" else ")
			formatIf(sb, nested, depth)
			return
		}
	}
	sb.WriteString(" else {\n")
	formatCommands(sb, c.Else, depth+1)
	sb.WriteString(indent + "}")
}

// FormatCommand renders a single non-if command on one line
func FormatCommand(c Command) string {
	parts := []string{c.Keyword()}
	add := func(exprs ...Expr) {
		for _, e := range exprs {
			if e != nil {
				parts = append(parts, FormatExpr(e))
			}
		}
	}

	switch c := c.(type) {
	case *Input:
		add(c.Path)
	case *Save:
		add(c.Path)
	case *Resize:
		add(c.Width, c.Height)
	case *Encode:
		add(c.Codec, c.Param)
	case *Filter:
		add(c.Name, c.Value)
	case *Crop:
		add(c.X, c.Y, c.Width, c.Height)
	case *Rotate:
		add(c.Angle, c.Flip)
	case *PassThrough:
		add(c.Args...)
	case *If:
		var sb strings.Builder
		formatIf(&sb, c, 0)
		return sb.String()
	}
	return strings.Join(parts, " ")
}

// FormatExpr renders an expression in source form
func FormatExpr(e Expr) string {
	switch e := e.(type) {
	case *Literal:
		return formatLiteral(e.Value, e.Quoted)
	case *Variable:
		return "$" + e.Name
	case *Template:
		if e.Quoted {
			return `"` + escape(e.Raw) + `"`
		}
		return e.Raw
	case *Property:
		return e.Name
	case *Comparison:
		return FormatExpr(e.Left) + " " + e.Operator + " " + FormatExpr(e.Right)
	case *Logical:
		return formatOperand(e.Left) + " " + e.Operator + " " + formatOperand(e.Right)
	}
	return ""
}

func formatOperand(e Expr) string {
	if _, ok := e.(*Logical); ok {
		return "(" + FormatExpr(e) + ")"
	}
	return FormatExpr(e)
}

func formatLiteral(v string, quoted bool) string {
	if !quoted && isBareWord(v) {
		return v
	}
	if strings.Contains(v, "{{") && !strings.ContainsAny(v, "'\n") {
		return "'" + v + "'"
	}
	return `"` + escape(v) + `"`
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)
	return r.Replace(s)
}

// isBareWord reports whether v lexes back as a single plain word
func isBareWord(v string) bool {
	if v == "" || strings.Contains(v, "==") || strings.Contains(v, "{") || strings.Contains(v, "$") {
		return false
	}
	if strings.HasPrefix(v, "#") || strings.HasPrefix(v, "//") || strings.HasPrefix(v, "/*") || strings.HasPrefix(v, "=") {
		return false
	}
	for _, r := range v {
		if endsWord(r) {
			return false
		}
	}
	return true
}
