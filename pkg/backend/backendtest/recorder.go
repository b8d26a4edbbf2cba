// Package backendtest provides an in-memory backend that records every call
// for use in tests.
package backendtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chicogong/affect/pkg/backend"
	"github.com/chicogong/affect/pkg/schemas"
)

// Command is the handle produced by Recorder. Applying an operation returns
// a new Command; earlier handles are left untouched.
type Command struct {
	Input      string
	MediaType  schemas.MediaType
	Operations []schemas.Operation
}

func (c *Command) String() string {
	parts := []string{"record", c.Input}
	for _, op := range c.Operations {
		parts = append(parts, string(op.Type))
	}
	return strings.Join(parts, " ")
}

func (c *Command) with(op schemas.Operation) *Command {
	ops := make([]schemas.Operation, len(c.Operations), len(c.Operations)+1)
	copy(ops, c.Operations)
	return &Command{Input: c.Input, MediaType: c.MediaType, Operations: append(ops, op.Clone())}
}

// Execution is one terminal Execute call
type Execution struct {
	Input      string
	Output     string
	Operations []schemas.Operation
}

// Recorder is a configurable fake backend. Zero values accept every media
// type and format. It is safe for concurrent use.
type Recorder struct {
	BackendName string
	Types       []schemas.MediaType
	Formats     []string

	// Metadata is returned by GetMetadata, keyed by input with "" as the
	// fallback
	Metadata    map[string]*schemas.Metadata
	MetadataErr error

	// FailOps makes ApplyOperation fail for the given operation types
	FailOps map[schemas.OpType]error

	// ExecuteFunc replaces the default Execute behaviour when set
	ExecuteFunc func(ctx context.Context, cmd *Command, output string) error

	mu         sync.Mutex
	calls      []string
	probes     int
	executions []Execution
}

var _ backend.Backend = (*Recorder)(nil)

// New creates a recorder named name
func New(name string) *Recorder {
	return &Recorder{BackendName: name}
}

func (r *Recorder) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *Recorder) Name() string {
	if r.BackendName == "" {
		return "recorder"
	}
	return r.BackendName
}

func (r *Recorder) SupportedTypes() []schemas.MediaType {
	if len(r.Types) == 0 {
		return []schemas.MediaType{schemas.MediaTypeVideo, schemas.MediaTypeAudio, schemas.MediaTypeImage}
	}
	return r.Types
}

func (r *Recorder) SupportedFormats() []string {
	return r.Formats
}

func (r *Recorder) CanHandle(op schemas.Operation, mt schemas.MediaType) bool {
	_, fails := r.FailOps[op.Type]
	return !fails
}

func (r *Recorder) SupportsFormat(path string, mt schemas.MediaType) bool {
	if len(r.Formats) == 0 {
		return true
	}
	ext := strings.TrimPrefix(schemas.Extension(path), ".")
	for _, f := range r.Formats {
		if f == ext {
			return true
		}
	}
	return false
}

func (r *Recorder) CreateCommand(input string, mt schemas.MediaType) (backend.Command, error) {
	r.record("create " + input)
	return &Command{Input: input, MediaType: mt}, nil
}

func (r *Recorder) ApplyOperation(cmd backend.Command, op schemas.Operation, mt schemas.MediaType) (backend.Command, error) {
	c, ok := cmd.(*Command)
	if !ok {
		return nil, fmt.Errorf("recorder: foreign command %T", cmd)
	}
	r.record("apply " + string(op.Type))
	if err := r.FailOps[op.Type]; err != nil {
		return nil, err
	}
	return c.with(op), nil
}

func (r *Recorder) GetMetadata(ctx context.Context, input string) (*schemas.Metadata, error) {
	r.mu.Lock()
	r.probes++
	r.calls = append(r.calls, "metadata "+input)
	r.mu.Unlock()

	if r.MetadataErr != nil {
		return nil, r.MetadataErr
	}
	if m, ok := r.Metadata[input]; ok {
		return m, nil
	}
	if m, ok := r.Metadata[""]; ok {
		return m, nil
	}
	return &schemas.Metadata{}, nil
}

func (r *Recorder) Execute(ctx context.Context, cmd backend.Command, output string) error {
	c, ok := cmd.(*Command)
	if !ok {
		return fmt.Errorf("recorder: foreign command %T", cmd)
	}
	r.record("execute " + output)

	if r.ExecuteFunc != nil {
		if err := r.ExecuteFunc(ctx, c, output); err != nil {
			return err
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.executions = append(r.executions, Execution{Input: c.Input, Output: output, Operations: c.Operations})
	r.mu.Unlock()
	return nil
}

// Calls returns the call log in order
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Probes returns how many times GetMetadata was called
func (r *Recorder) Probes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probes
}

// Executions returns the successful Execute calls
func (r *Recorder) Executions() []Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Execution(nil), r.executions...)
}
