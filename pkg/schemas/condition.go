package schemas

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Comparison and logical operators
const (
	OpEq  = "=="
	OpNe  = "!="
	OpGt  = ">"
	OpGte = ">="
	OpLt  = "<"
	OpLte = "<="
	OpAnd = "and"
	OpOr  = "or"
)

// IsComparison reports whether op compares two operands
func IsComparison(op string) bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Operand is one side of a comparison: a metadata property or a literal
type Operand struct {
	Property string `json:"property,omitempty"`
	Literal  string `json:"literal,omitempty"`
}

// PropertyOperand reads a metadata property at execution time
func PropertyOperand(name string) *Operand {
	return &Operand{Property: name}
}

// LiteralOperand is a constant value
func LiteralOperand(v string) *Operand {
	return &Operand{Literal: v}
}

// IsProperty reports whether the operand reads metadata
func (o *Operand) IsProperty() bool {
	return o != nil && o.Property != ""
}

// String returns the DSL spelling of the operand
func (o *Operand) String() string {
	if o.IsProperty() {
		return o.Property
	}
	if _, ok := ParseNumber(o.Literal); ok {
		return o.Literal
	}
	return strconv.Quote(o.Literal)
}

func (o *Operand) resolve(meta *Metadata) (string, error) {
	if !o.IsProperty() {
		return o.Literal, nil
	}
	v, ok := meta.Property(o.Property)
	if !ok {
		return "", fmt.Errorf("unknown property %q", o.Property)
	}
	return v, nil
}

// Condition is a resolved boolean expression. Comparisons set Left and
// Right; and/or set Conditions.
type Condition struct {
	Operator   string      `json:"operator"`
	Left       *Operand    `json:"left,omitempty"`
	Right      *Operand    `json:"right,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// Clone returns a deep copy of the condition
func (c Condition) Clone() Condition {
	out := Condition{Operator: c.Operator}
	if c.Left != nil {
		l := *c.Left
		out.Left = &l
	}
	if c.Right != nil {
		r := *c.Right
		out.Right = &r
	}
	if c.Conditions != nil {
		out.Conditions = make([]Condition, len(c.Conditions))
		for i, sub := range c.Conditions {
			out.Conditions[i] = sub.Clone()
		}
	}
	return out
}

// Properties returns every property name referenced by the condition
func (c Condition) Properties() []string {
	var names []string
	if c.Left.IsProperty() {
		names = append(names, c.Left.Property)
	}
	if c.Right.IsProperty() {
		names = append(names, c.Right.Property)
	}
	for _, sub := range c.Conditions {
		names = append(names, sub.Properties()...)
	}
	return names
}

// String renders the condition in DSL syntax
func (c Condition) String() string {
	if c.Operator == OpAnd || c.Operator == OpOr {
		parts := make([]string, len(c.Conditions))
		for i, sub := range c.Conditions {
			s := sub.String()
			if len(sub.Conditions) > 0 {
				s = "(" + s + ")"
			}
			parts[i] = s
		}
		return strings.Join(parts, " "+c.Operator+" ")
	}
	return c.Left.String() + " " + c.Operator + " " + c.Right.String()
}

// Evaluate computes the condition against a metadata snapshot.
// Operands compare numerically when both parse as numbers, otherwise as
// strings, where only equality operators are allowed.
func (c Condition) Evaluate(meta *Metadata) (bool, error) {
	switch c.Operator {
	case OpAnd:
		for _, sub := range c.Conditions {
			ok, err := sub.Evaluate(meta)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OpOr:
		for _, sub := range c.Conditions {
			ok, err := sub.Evaluate(meta)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	if !IsComparison(c.Operator) {
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
	if c.Left == nil || c.Right == nil {
		return false, fmt.Errorf("comparison %q is missing an operand", c.Operator)
	}

	left, err := c.Left.resolve(meta)
	if err != nil {
		return false, err
	}
	right, err := c.Right.resolve(meta)
	if err != nil {
		return false, err
	}

	ln, lok := ParseNumber(left)
	rn, rok := ParseNumber(right)
	if lok && rok {
		return compareNumbers(ln, rn, c.Operator), nil
	}

	switch c.Operator {
	case OpEq:
		return strings.EqualFold(left, right), nil
	case OpNe:
		return !strings.EqualFold(left, right), nil
	}
	return false, fmt.Errorf("operator %s needs numeric operands, got %q and %q", c.Operator, left, right)
}

func compareNumbers(l, r float64, op string) bool {
	switch op {
	case OpEq:
		return l == r
	case OpNe:
		return l != r
	case OpGt:
		return l > r
	case OpGte:
		return l >= r
	case OpLt:
		return l < r
	case OpLte:
		return l <= r
	}
	return false
}

var siSuffixes = map[byte]float64{
	'k': 1e3,
	'K': 1e3,
	'M': 1e6,
	'G': 1e9,
}

// ParseNumber parses a plain number, a number with an SI suffix (2000k,
// 5M, 1G) or a duration (90s, 00:01:30, PT1M30S) as seconds. NaN and
// infinities are not numbers here.
func ParseNumber(s string) (float64, bool) {
	f, ok := parseNumber(s)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	if mult, ok := siSuffixes[s[len(s)-1]]; ok {
		if f, err := strconv.ParseFloat(s[:len(s)-1], 64); err == nil {
			return f * mult, true
		}
	}
	if d, err := ParseDuration(s); err == nil {
		return d.Seconds(), true
	}
	return 0, false
}
