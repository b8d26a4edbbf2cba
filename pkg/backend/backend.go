// Package backend defines the capability interface media processors
// implement and the registry used to pick one for a pipeline.
package backend

import (
	"context"
	"fmt"

	"github.com/chicogong/affect/pkg/schemas"
)

// Command is a backend-specific handle accumulating applied operations.
// Handles are never shared; every ApplyOperation returns the handle to use
// next.
type Command interface {
	// String renders the command for logs and dry runs
	String() string
}

// OutputRenderer is implemented by commands whose rendering depends on the
// output they write
type OutputRenderer interface {
	CommandLine(output string) string
}

// Describe renders cmd as it would run when writing output
func Describe(cmd Command, output string) string {
	if r, ok := cmd.(OutputRenderer); ok {
		return r.CommandLine(output)
	}
	return cmd.String()
}

// Backend is the capability interface of a media processor. Implementations
// are stateless and safe for concurrent use; all per-run state lives in the
// Command handle.
type Backend interface {
	// Name returns the unique backend identifier
	Name() string

	// SupportedTypes lists the media types the backend processes
	SupportedTypes() []schemas.MediaType

	// SupportedFormats lists the file extensions the backend reads
	SupportedFormats() []string

	// CanHandle reports whether op can be applied for media type mt
	CanHandle(op schemas.Operation, mt schemas.MediaType) bool

	// SupportsFormat reports whether the file at path can be read as mt
	SupportsFormat(path string, mt schemas.MediaType) bool

	// CreateCommand starts a command reading input
	CreateCommand(input string, mt schemas.MediaType) (Command, error)

	// ApplyOperation returns cmd extended with op
	ApplyOperation(cmd Command, op schemas.Operation, mt schemas.MediaType) (Command, error)

	// GetMetadata probes input
	GetMetadata(ctx context.Context, input string) (*schemas.Metadata, error)

	// Execute runs cmd. An empty output runs the command without
	// persisting a file.
	Execute(ctx context.Context, cmd Command, output string) error
}

// NoBackendError is returned when no registered backend accepts an input
type NoBackendError struct {
	MediaType schemas.MediaType
	Input     string
}

func (e *NoBackendError) Error() string {
	return fmt.Sprintf("no backend supports %s input %q", e.MediaType, e.Input)
}

// UnsupportedOperationError is returned by ApplyOperation for operations a
// backend cannot express
type UnsupportedOperationError struct {
	Backend   string
	Operation schemas.OpType
	MediaType schemas.MediaType
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("backend %s cannot apply %s to %s", e.Backend, e.Operation, e.MediaType)
}

// Supports reports whether b accepts input as media type mt
func Supports(b Backend, input string, mt schemas.MediaType) bool {
	mt = schemas.ResolveMediaType(mt, input)
	typeOK := false
	for _, t := range b.SupportedTypes() {
		if t == mt {
			typeOK = true
			break
		}
	}
	return typeOK && b.SupportsFormat(input, mt)
}
