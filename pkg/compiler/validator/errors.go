package validator

import (
	"fmt"

	"github.com/chicogong/affect/pkg/dsl"
)

// UnresolvedVariableError reports a variable with no entry in the context
type UnresolvedVariableError struct {
	Name   string
	Line   int
	Column int
}

func (e *UnresolvedVariableError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("unresolved variable %q", e.Name)
	}
	return fmt.Sprintf("unresolved variable %q at %d:%d", e.Name, e.Line, e.Column)
}

// ValidationError reports a structurally invalid program
type ValidationError struct {
	Line    int
	Column  int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Line == 0 {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error at %d:%d: %s", e.Line, e.Column, e.Message)
}

func invalid(n dsl.Node, format string, args ...interface{}) *ValidationError {
	e := &ValidationError{Message: fmt.Sprintf(format, args...)}
	if n != nil {
		pos := n.Pos()
		e.Line, e.Column = pos.Line, pos.Column
	}
	return e
}

func unresolved(n dsl.Node, name string) *UnresolvedVariableError {
	pos := n.Pos()
	return &UnresolvedVariableError{Name: name, Line: pos.Line, Column: pos.Column}
}
