// Package api provides HTTP handlers for compiling affect programs and
// running them as background batch jobs
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chicogong/affect/pkg/auth"
	"github.com/chicogong/affect/pkg/batch"
	"github.com/chicogong/affect/pkg/compiler"
	"github.com/chicogong/affect/pkg/dsl"
	"github.com/chicogong/affect/pkg/metrics"
	"github.com/chicogong/affect/pkg/schemas"
	"github.com/chicogong/affect/pkg/store"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Server holds the API server dependencies
type Server struct {
	store   store.Store
	runner  *batch.Runner
	logger  *zap.Logger
	metrics *metrics.Collector
	auth    *auth.AuthMiddleware

	metricsHandler http.Handler

	// ctx is cancelled by Close and parents every job
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// mu orders progress writes against cancellation
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records HTTP and compile metrics on c and serves h at /metrics
func WithMetrics(c *metrics.Collector, h http.Handler) Option {
	return func(s *Server) {
		s.metrics = c
		s.metricsHandler = h
	}
}

// WithAuth protects the /api routes. Submitting, compiling and cancelling
// need the admin or submitter role.
func WithAuth(m *auth.AuthMiddleware) Option {
	return func(s *Server) {
		s.auth = m
	}
}

// NewServer creates a new API server. Jobs run on runner.
func NewServer(s store.Store, runner *batch.Runner, opts ...Option) *Server {
	ctx, stop := context.WithCancel(context.Background())
	srv := &Server{
		store:   s,
		runner:  runner,
		logger:  zap.NewNop(),
		ctx:     ctx,
		stop:    stop,
		cancels: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.logger = srv.logger.With(zap.String("component", "api"))
	return srv
}

// CompileRequest represents the request body for compiling a program
type CompileRequest struct {
	Source string            `json:"source"`
	Vars   map[string]string `json:"vars,omitempty"`

	// Go requests generated Go source alongside the operations
	Go      bool   `json:"go,omitempty"`
	Package string `json:"package,omitempty"`
}

// CompileResponse carries the compiled pipelines
type CompileResponse struct {
	Pipelines []*schemas.ExecutionContext `json:"pipelines"`
	GoSource  string                      `json:"go_source,omitempty"`
}

// CreateJobRequest represents the request body for creating a job
type CreateJobRequest struct {
	Spec *store.JobSpec `json:"spec"`
}

// CreateJobResponse represents the response for creating a job
type CreateJobResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HandleCompile handles POST /api/v1/compile
func (s *Server) HandleCompile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	if !s.canSubmit(r) {
		s.sendError(w, http.StatusForbidden, "forbidden", "Insufficient permissions")
		return
	}

	var req CompileRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		s.sendError(w, http.StatusBadRequest, "missing_source", "Program source is required")
		return
	}

	pipelines, err := compiler.CompileSource(req.Source, req.Vars)
	s.metrics.RecordCompile(err == nil)
	if err != nil {
		s.sendError(w, http.StatusUnprocessableEntity, "compile_error", err.Error())
		return
	}

	resp := CompileResponse{Pipelines: pipelines}
	if req.Go {
		src, err := compiler.Render(pipelines, compiler.RenderOptions{Package: req.Package})
		if err != nil {
			s.sendError(w, http.StatusUnprocessableEntity, "render_error", err.Error())
			return
		}
		resp.GoSource = string(src)
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// HandleCreateJob handles POST /api/v1/jobs
func (s *Server) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	if !s.canSubmit(r) {
		s.sendError(w, http.StatusForbidden, "forbidden", "Insufficient permissions")
		return
	}

	var req CreateJobRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Spec == nil {
		s.sendError(w, http.StatusBadRequest, "missing_spec", "Job spec is required")
		return
	}
	if err := validateSpec(req.Spec); err != nil {
		s.sendError(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("Invalid job spec: %v", err))
		return
	}

	now := time.Now()
	job := &store.Job{
		JobID:   uuid.NewString(),
		Created: now,
		Updated: now,
		Status:  schemas.JobStatePending,
		Spec:    req.Spec,
	}
	if id, ok := auth.FromContext(r.Context()); ok {
		job.Owner = id.UserID
	}

	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.sendError(w, http.StatusInternalServerError, "store_error", fmt.Sprintf("Failed to create job: %v", err))
		return
	}

	s.start(job.JobID, req.Spec)

	s.sendJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:     job.JobID,
		Status:    string(schemas.JobStatePending),
		CreatedAt: job.Created,
	})
}

// HandleGetJob handles GET /api/v1/jobs/{id}
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, job.ToJobStatus())
}

// HandleListJobs handles GET /api/v1/jobs
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	filter, err := parseListFilter(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}
	if id, ok := auth.FromContext(r.Context()); ok && !seesAll(id) {
		filter.Owner = id.UserID
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "store_error", fmt.Sprintf("Failed to list jobs: %v", err))
		return
	}

	statuses := make([]*schemas.JobStatus, len(jobs))
	for i, job := range jobs {
		statuses[i] = job.ToJobStatus()
	}
	s.sendJSON(w, http.StatusOK, statuses)
}

// HandleDeleteJob handles DELETE /api/v1/jobs/{id} by cancelling the job
func (s *Server) HandleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	if !s.canSubmit(r) {
		s.sendError(w, http.StatusForbidden, "forbidden", "Insufficient permissions")
		return
	}

	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if job.IsTerminal() {
		s.sendError(w, http.StatusBadRequest, "job_terminal", "Job is already in terminal state")
		return
	}

	if err := s.cancel(r.Context(), job.JobID); err != nil {
		s.sendError(w, http.StatusInternalServerError, "store_error", fmt.Sprintf("Failed to cancel job: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth handles GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	s.mu.Lock()
	running := len(s.cancels)
	s.mu.Unlock()

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"time":         time.Now(),
		"running_jobs": running,
	})
}

// Recover fails jobs that a previous process left unfinished. It is meant
// to run once before the server accepts requests.
func (s *Server) Recover(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx, &store.ListFilter{
		Status: []schemas.JobState{schemas.JobStatePending, schemas.JobStateRunning},
	})
	if err != nil {
		return 0, fmt.Errorf("list unfinished jobs: %w", err)
	}
	for _, job := range jobs {
		if err := s.store.UpdateJobError(ctx, job.JobID, &schemas.ErrorInfo{
			Code:    "INTERRUPTED",
			Message: "server stopped before the job finished",
		}); err != nil {
			return 0, err
		}
		if err := s.store.UpdateJobStatus(ctx, job.JobID, schemas.JobStateFailed, nil); err != nil {
			return 0, err
		}
		s.logger.Warn("Marked interrupted job as failed", zap.String("job_id", job.JobID))
	}
	return len(jobs), nil
}

// Close cancels running jobs and waits for them to record their outcome.
// The store is left open.
func (s *Server) Close() error {
	s.stop()
	s.wg.Wait()
	return nil
}

// Wait blocks until every started job has finished
func (s *Server) Wait() {
	s.wg.Wait()
}

// start runs a stored job in the background
func (s *Server) start(jobID string, spec *store.JobSpec) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, jobID)
			s.mu.Unlock()
			cancel()
		}()
		s.processJob(ctx, jobID, spec)
	}()
}

// cancel stops a job and marks it cancelled. Holding mu keeps a late
// progress update from reviving the job.
func (s *Server) cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.cancels[jobID]; ok {
		cancel()
	}
	return s.store.UpdateJobStatus(ctx, jobID, schemas.JobStateCancelled, nil)
}

// processJob compiles the job's program for every item and runs the batch
func (s *Server) processJob(ctx context.Context, jobID string, spec *store.JobSpec) {
	logger := s.logger.With(zap.String("job_id", jobID))
	// store writes outlive cancellation of the job itself
	bg := context.Background()

	m := &batch.Manifest{
		Source:      spec.Source,
		Vars:        spec.Vars,
		Parallel:    spec.Parallel,
		Concurrency: spec.Concurrency,
	}
	for _, it := range spec.Items {
		m.Items = append(m.Items, batch.ManifestItem{Input: it.Input, Output: it.Output, Vars: it.Vars})
	}
	items := m.Build(spec.Source)

	if !s.update(ctx, jobID, schemas.NewProgress(0, len(items))) {
		return
	}
	logger.Info("Job started", zap.Int("items", len(items)))

	opts := m.Options()
	opts.OnProgress = func(p schemas.Progress) {
		s.update(ctx, jobID, p)
	}
	results := s.runner.Run(ctx, items, opts)

	itemResults := make([]schemas.ItemResult, len(results))
	failed := 0
	for i, res := range results {
		itemResults[i] = schemas.ItemResult{Input: items[i].Input, Success: res.Success}
		if res.Success {
			itemResults[i].Output = res.Output
			continue
		}
		failed++
		if res.Error != nil {
			itemResults[i].Error = res.Error.Error()
		}
	}
	if err := s.store.SetJobResults(bg, jobID, itemResults); err != nil {
		logger.Error("Failed to store job results", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		logger.Info("Job cancelled", zap.Int("failed", failed))
		if s.ctx.Err() != nil {
			// shutdown rather than a client request
			_ = s.store.UpdateJobStatus(bg, jobID, schemas.JobStateCancelled, nil)
		}
		return
	}

	if failed > 0 {
		_ = s.store.UpdateJobError(bg, jobID, &schemas.ErrorInfo{
			Code:    "ITEMS_FAILED",
			Message: fmt.Sprintf("%d of %d items failed", failed, len(results)),
		})
		if err := s.store.UpdateJobStatus(bg, jobID, schemas.JobStateFailed, nil); err != nil {
			logger.Error("Failed to update job status", zap.Error(err))
		}
		logger.Warn("Job failed", zap.Int("failed", failed), zap.Int("items", len(results)))
		return
	}

	done := schemas.NewProgress(len(results), len(results))
	if err := s.store.UpdateJobStatus(bg, jobID, schemas.JobStateCompleted, &done); err != nil {
		logger.Error("Failed to update job status", zap.Error(err))
	}
	logger.Info("Job completed", zap.Int("items", len(results)))
}

// update records progress on a running job unless it was cancelled
func (s *Server) update(ctx context.Context, jobID string, p schemas.Progress) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	if err := s.store.UpdateJobStatus(context.Background(), jobID, schemas.JobStateRunning, &p); err != nil {
		s.logger.Warn("Failed to update job progress", zap.String("job_id", jobID), zap.Error(err))
	}
	return true
}

// lookup loads the job named by the URL and writes the error response when
// it is missing or belongs to someone else
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*store.Job, bool) {
	jobID := extractJobID(r.URL.Path)
	if jobID == "" {
		s.sendError(w, http.StatusBadRequest, "invalid_job_id", "Job ID is required")
		return nil, false
	}

	job, err := s.store.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrJobNotFound) || (err == nil && !visible(r, job)) {
		s.sendError(w, http.StatusNotFound, "job_not_found", fmt.Sprintf("Job %s not found", jobID))
		return nil, false
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "store_error", fmt.Sprintf("Failed to get job: %v", err))
		return nil, false
	}
	return job, true
}

// canSubmit reports whether the caller may compile, submit or cancel.
// Without auth everyone may.
func (s *Server) canSubmit(r *http.Request) bool {
	if s.auth == nil {
		return true
	}
	id, ok := auth.FromContext(r.Context())
	return ok && (id.Role == auth.RoleAdmin || id.Role == auth.RoleSubmitter)
}

// seesAll reports whether id may read every job rather than only its own
func seesAll(id auth.Identity) bool {
	return id.Role == auth.RoleAdmin || id.Role == auth.RoleViewer
}

func visible(r *http.Request, job *store.Job) bool {
	id, ok := auth.FromContext(r.Context())
	if !ok || seesAll(id) {
		return true
	}
	return job.Owner == id.UserID
}

func validateSpec(spec *store.JobSpec) error {
	if strings.TrimSpace(spec.Source) == "" {
		return errors.New("source is required")
	}
	if len(spec.Items) == 0 {
		return errors.New("at least one item is required")
	}
	if spec.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	for i, it := range spec.Items {
		if it.Input == "" {
			return fmt.Errorf("item %d: input is required", i+1)
		}
	}
	// variables are bound per item, so only the syntax is checked here
	if _, err := dsl.Parse(spec.Source); err != nil {
		return err
	}
	return nil
}

// Helper methods

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	s.sendJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
		Code:    status,
	})
}

func parseListFilter(r *http.Request) (*store.ListFilter, error) {
	q := r.URL.Query()
	filter := &store.ListFilter{
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}

	if statusStr := q.Get("status"); statusStr != "" {
		for _, st := range strings.Split(statusStr, ",") {
			filter.Status = append(filter.Status, schemas.JobState(strings.TrimSpace(st)))
		}
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", p.name)
		}
		*p.dst = n
	}
	return filter, nil
}

// extractJobID extracts job ID from URL path like "/api/v1/jobs/{id}"
func extractJobID(path string) string {
	const prefix = "/api/v1/jobs/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.Trim(path[len(prefix):], "/")
}
