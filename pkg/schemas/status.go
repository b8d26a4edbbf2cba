package schemas

import "time"

// JobState represents the current state of a batch job
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether the state is final
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// Progress reports how many items of a batch have finished
type Progress struct {
	Percent int `json:"percent"`
	Current int `json:"current"`
	Total   int `json:"total"`
}

// NewProgress computes percent as round(current/total*100)
func NewProgress(current, total int) Progress {
	p := Progress{Current: current, Total: total}
	if total > 0 {
		p.Percent = (current*200 + total) / (total * 2)
	}
	return p
}

// JobStatus is the externally visible status of a batch job
type JobStatus struct {
	JobID       string       `json:"job_id"`
	Status      JobState     `json:"status"`
	Progress    *Progress    `json:"progress,omitempty"`
	Error       *ErrorInfo   `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Results     []ItemResult `json:"results,omitempty"`
}

// ItemResult is the stored outcome of one batch item
type ItemResult struct {
	Input   string `json:"input"`
	Output  string `json:"output,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
