// Package store provides job state persistence
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chicogong/affect/pkg/schemas"
)

var (
	// ErrJobNotFound is returned when a job does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when attempting to create a job that already exists
	ErrJobExists = errors.New("job already exists")

	// ErrInvalidJobID is returned for invalid job IDs
	ErrInvalidJobID = errors.New("invalid job ID")
)

// Store is the interface for job state persistence
type Store interface {
	// CreateJob creates a new job with initial state
	CreateJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// UpdateJob replaces an existing job
	UpdateJob(ctx context.Context, job *Job) error

	// DeleteJob deletes a job by ID
	DeleteJob(ctx context.Context, jobID string) error

	// ListJobs lists jobs with optional filtering
	ListJobs(ctx context.Context, filter *ListFilter) ([]*Job, error)

	// UpdateJobStatus updates job status and progress
	UpdateJobStatus(ctx context.Context, jobID string, status schemas.JobState, progress *schemas.Progress) error

	// UpdateJobError records an error for a job
	UpdateJobError(ctx context.Context, jobID string, err *schemas.ErrorInfo) error

	// SetJobResults stores the per-item outcomes of a finished job
	SetJobResults(ctx context.Context, jobID string, results []schemas.ItemResult) error

	// Close closes the store and releases resources
	Close() error
}

// JobSpec is what a client submitted: one program applied to many items
type JobSpec struct {
	Source      string            `json:"source"`
	Vars        map[string]string `json:"vars,omitempty"`
	Items       []JobItem         `json:"items"`
	Parallel    bool              `json:"parallel,omitempty"`
	Concurrency int               `json:"concurrency,omitempty"`
}

// JobItem binds $input and $output for one run of the program
type JobItem struct {
	Input  string            `json:"input"`
	Output string            `json:"output,omitempty"`
	Vars   map[string]string `json:"vars,omitempty"`
}

// Job represents a complete job record in the store
type Job struct {
	JobID   string    `json:"job_id"`
	Created time.Time `json:"created_at"`
	Updated time.Time `json:"updated_at"`

	// Owner is the user that submitted the job, empty when unauthenticated
	Owner string   `json:"owner,omitempty"`
	Spec  *JobSpec `json:"spec"`

	Status      schemas.JobState   `json:"status"`
	Progress    *schemas.Progress  `json:"progress,omitempty"`
	Error       *schemas.ErrorInfo `json:"error,omitempty"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`

	Results []schemas.ItemResult `json:"results,omitempty"`
}

// ListFilter defines filtering criteria for listing jobs
type ListFilter struct {
	Status []schemas.JobState `json:"status,omitempty"`
	Owner  string             `json:"owner,omitempty"`

	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`  // Max results (0 = no limit)
	Offset int `json:"offset,omitempty"` // Skip N results

	// SortBy is created, updated or status; SortOrder is asc or desc.
	// Without SortBy jobs come newest first.
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
}

// ToJobStatus converts a Job to schemas.JobStatus
func (j *Job) ToJobStatus() *schemas.JobStatus {
	return &schemas.JobStatus{
		JobID:       j.JobID,
		Status:      j.Status,
		Progress:    j.Progress,
		Error:       j.Error,
		CreatedAt:   j.Created,
		UpdatedAt:   j.Updated,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Results:     j.Results,
	}
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status.Terminal()
}

// IsPending returns true if the job is pending execution
func (j *Job) IsPending() bool {
	return j.Status == schemas.JobStatePending
}

// stamp applies the timestamp side effects of a status change
func stamp(j *Job, status schemas.JobState, now time.Time) {
	j.Status = status
	j.Updated = now
	if status == schemas.JobStateRunning && j.StartedAt == nil {
		t := now
		j.StartedAt = &t
	}
	if status.Terminal() && j.CompletedAt == nil {
		t := now
		j.CompletedAt = &t
	}
}

// Open creates a store for a configured driver
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		s, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
