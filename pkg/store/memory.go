package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chicogong/affect/pkg/schemas"
)

// MemoryStore is an in-memory implementation of Store
// Thread-safe for concurrent access
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
	}
}

// CreateJob creates a new job
func (m *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	if job.JobID == "" {
		return ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.JobID]; exists {
		return ErrJobExists
	}

	m.jobs[job.JobID] = copyJob(job)
	return nil
}

// GetJob retrieves a job by ID
func (m *MemoryStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, ErrInvalidJobID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}
	return copyJob(job), nil
}

// UpdateJob updates an existing job
func (m *MemoryStore) UpdateJob(ctx context.Context, job *Job) error {
	if job.JobID == "" {
		return ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.JobID]; !exists {
		return ErrJobNotFound
	}

	job.Updated = time.Now()
	m.jobs[job.JobID] = copyJob(job)
	return nil
}

// DeleteJob deletes a job by ID
func (m *MemoryStore) DeleteJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[jobID]; !exists {
		return ErrJobNotFound
	}

	delete(m.jobs, jobID)
	return nil
}

// ListJobs lists jobs with optional filtering
func (m *MemoryStore) ListJobs(ctx context.Context, filter *ListFilter) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*Job
	for _, job := range m.jobs {
		if matchesFilter(job, filter) {
			jobs = append(jobs, copyJob(job))
		}
	}

	sortJobs(jobs, filter)
	return paginateJobs(jobs, filter), nil
}

// UpdateJobStatus updates job status and progress
func (m *MemoryStore) UpdateJobStatus(ctx context.Context, jobID string, status schemas.JobState, progress *schemas.Progress) error {
	if jobID == "" {
		return ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	stamp(job, status, time.Now())
	if progress != nil {
		p := *progress
		job.Progress = &p
	}
	return nil
}

// UpdateJobError records an error for a job
func (m *MemoryStore) UpdateJobError(ctx context.Context, jobID string, err *schemas.ErrorInfo) error {
	if jobID == "" {
		return ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	if err != nil {
		e := *err
		job.Error = &e
	}
	job.Updated = time.Now()
	return nil
}

// SetJobResults stores per-item results
func (m *MemoryStore) SetJobResults(ctx context.Context, jobID string, results []schemas.ItemResult) error {
	if jobID == "" {
		return ErrInvalidJobID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	job.Results = append([]schemas.ItemResult(nil), results...)
	job.Updated = time.Now()
	return nil
}

// Close closes the store (no-op for memory store)
func (m *MemoryStore) Close() error {
	return nil
}

// Helper functions shared by the store implementations

func copyJob(job *Job) *Job {
	if job == nil {
		return nil
	}

	c := *job
	if job.Spec != nil {
		spec := *job.Spec
		spec.Vars = copyVars(job.Spec.Vars)
		spec.Items = make([]JobItem, len(job.Spec.Items))
		for i, it := range job.Spec.Items {
			it.Vars = copyVars(it.Vars)
			spec.Items[i] = it
		}
		c.Spec = &spec
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		c.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	if job.Progress != nil {
		p := *job.Progress
		c.Progress = &p
	}
	if job.Error != nil {
		e := *job.Error
		c.Error = &e
	}
	if job.Results != nil {
		c.Results = append([]schemas.ItemResult(nil), job.Results...)
	}
	return &c
}

func copyVars(vars map[string]string) map[string]string {
	if vars == nil {
		return nil
	}
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func matchesFilter(job *Job, filter *ListFilter) bool {
	if filter == nil {
		return true
	}

	if filter.Owner != "" && job.Owner != filter.Owner {
		return false
	}

	if len(filter.Status) > 0 {
		found := false
		for _, status := range filter.Status {
			if job.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.CreatedAfter != nil && job.Created.Before(*filter.CreatedAfter) {
		return false
	}
	if filter.CreatedBefore != nil && job.Created.After(*filter.CreatedBefore) {
		return false
	}

	return true
}

func sortJobs(jobs []*Job, filter *ListFilter) {
	if filter == nil || filter.SortBy == "" {
		sort.Slice(jobs, func(i, j int) bool {
			return jobs[i].Created.After(jobs[j].Created)
		})
		return
	}

	descending := filter.SortOrder == "desc"

	switch filter.SortBy {
	case "created":
		sort.Slice(jobs, func(i, j int) bool {
			if descending {
				return jobs[i].Created.After(jobs[j].Created)
			}
			return jobs[i].Created.Before(jobs[j].Created)
		})
	case "updated":
		sort.Slice(jobs, func(i, j int) bool {
			if descending {
				return jobs[i].Updated.After(jobs[j].Updated)
			}
			return jobs[i].Updated.Before(jobs[j].Updated)
		})
	case "status":
		sort.Slice(jobs, func(i, j int) bool {
			if descending {
				return jobs[i].Status > jobs[j].Status
			}
			return jobs[i].Status < jobs[j].Status
		})
	}
}

func paginateJobs(jobs []*Job, filter *ListFilter) []*Job {
	if filter == nil {
		return jobs
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return []*Job{}
		}
		jobs = jobs[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(jobs) {
		jobs = jobs[:filter.Limit]
	}

	return jobs
}
