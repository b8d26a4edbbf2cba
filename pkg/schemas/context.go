package schemas

import (
	"encoding/json"
	"errors"
)

// ExecutionContext is the per-run bundle handed to the execution engine.
// It owns its operation list; use Clone before reusing it for another run.
type ExecutionContext struct {
	Input      string      `json:"input"`
	Output     string      `json:"output,omitempty"`
	MediaType  MediaType   `json:"media_type"`
	Operations []Operation `json:"operations"`
}

// HasOutput reports whether the run persists a file
func (c *ExecutionContext) HasOutput() bool {
	return c.Output != ""
}

// Clone returns a deep copy of the context
func (c *ExecutionContext) Clone() *ExecutionContext {
	return &ExecutionContext{
		Input:      c.Input,
		Output:     c.Output,
		MediaType:  c.MediaType,
		Operations: CloneOperations(c.Operations),
	}
}

// WithPaths returns a copy bound to different input and output paths.
// Input and Save operations are rewritten to match.
func (c *ExecutionContext) WithPaths(input, output string) *ExecutionContext {
	out := c.Clone()
	out.Input = input
	out.Output = output
	for i := range out.Operations {
		switch out.Operations[i].Type {
		case OpInput:
			out.Operations[i].Path = input
		case OpSave:
			out.Operations[i].Path = output
		}
	}
	return out
}

// Result is the outcome of one execution. It is not modified after it is
// returned.
type Result struct {
	Success bool
	Output  string
	Error   error
}

// Succeeded builds a successful result
func Succeeded(output string) *Result {
	return &Result{Success: true, Output: output}
}

// Failed builds a failed result
func Failed(err error) *Result {
	return &Result{Error: err}
}

type resultJSON struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MarshalJSON renders the error as its message
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{Success: r.Success, Output: r.Output}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the error as an opaque error value
func (r *Result) UnmarshalJSON(b []byte) error {
	var in resultJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = Result{Success: in.Success, Output: in.Output}
	if in.Error != "" {
		r.Error = errors.New(in.Error)
	}
	return nil
}
