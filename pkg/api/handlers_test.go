package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chicogong/affect/pkg/auth"
	"github.com/chicogong/affect/pkg/backend"
	"github.com/chicogong/affect/pkg/backend/backendtest"
	"github.com/chicogong/affect/pkg/batch"
	"github.com/chicogong/affect/pkg/executor"
	"github.com/chicogong/affect/pkg/metrics"
	"github.com/chicogong/affect/pkg/schemas"
	"github.com/chicogong/affect/pkg/store"
)

const muteProgram = `convert { noAudio }`

func newTestServer(t *testing.T, rec *backendtest.Recorder, opts ...Option) (*Server, store.Store) {
	t.Helper()
	if rec == nil {
		rec = backendtest.New("rec")
	}
	s := store.NewMemoryStore()
	exec := executor.New(executor.WithRegistry(backend.NewRegistry(rec)))
	server := NewServer(s, batch.NewRunner(exec), opts...)
	t.Cleanup(func() {
		server.Close()
		s.Close()
	})
	return server, s
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.HandleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	decode(t, w, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestHandleCompile(t *testing.T) {
	server, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/compile", jsonBody(t, CompileRequest{
		Source: `affect video { input $input; resize 1280 auto; save $output }`,
		Vars:   map[string]string{"input": "talk.mp4", "output": "talk-720.mp4"},
		Go:     true,
	}))
	w := httptest.NewRecorder()
	server.HandleCompile(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CompileResponse
	decode(t, w, &resp)
	require.Len(t, resp.Pipelines, 1)
	p := resp.Pipelines[0]
	assert.Equal(t, "talk.mp4", p.Input)
	assert.Equal(t, "talk-720.mp4", p.Output)
	assert.Equal(t, schemas.MediaTypeVideo, p.MediaType)
	require.Len(t, p.Operations, 3)
	assert.Equal(t, schemas.OpResize, p.Operations[1].Type)
	assert.Equal(t, schemas.Px(1280), p.Operations[1].Width)
	assert.Contains(t, resp.GoSource, "package pipeline")
}

func TestHandleCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"invalid json", "{", http.StatusBadRequest, "invalid_request"},
		{"unknown field", `{"program":"x"}`, http.StatusBadRequest, "invalid_request"},
		{"missing source", `{"source":"  "}`, http.StatusBadRequest, "missing_source"},
		{"no input", `{"source":"affect video { resize 10 10 }"}`, http.StatusUnprocessableEntity, "compile_error"},
		{"unresolved variable", `{"source":"affect video { input $input }"}`, http.StatusUnprocessableEntity, "compile_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTestServer(t, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/compile", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			server.HandleCompile(w, req)

			assert.Equal(t, tt.code, w.Code)
			var resp ErrorResponse
			decode(t, w, &resp)
			assert.Equal(t, tt.want, resp.Error)
		})
	}
}

func TestHandleCreateJob(t *testing.T) {
	rec := backendtest.New("rec")
	server, s := newTestServer(t, rec)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", jsonBody(t, CreateJobRequest{
		Spec: &store.JobSpec{
			Source: muteProgram,
			Items: []store.JobItem{
				{Input: "a.mp4", Output: "a-muted.mp4"},
				{Input: "b.mp4", Output: "b-muted.mp4"},
			},
			Parallel: true,
		},
	}))
	w := httptest.NewRecorder()
	server.HandleCreateJob(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp CreateJobResponse
	decode(t, w, &resp)
	if resp.JobID == "" {
		t.Fatal("Expected non-empty JobID")
	}
	if resp.Status != string(schemas.JobStatePending) {
		t.Errorf("Expected status pending, got %s", resp.Status)
	}

	server.Wait()

	job, err := s.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, schemas.JobStateCompleted, job.Status)
	require.NotNil(t, job.Progress)
	assert.Equal(t, 100, job.Progress.Percent)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, []schemas.ItemResult{
		{Input: "a.mp4", Output: "a-muted.mp4", Success: true},
		{Input: "b.mp4", Output: "b-muted.mp4", Success: true},
	}, job.Results)
	assert.Len(t, rec.Executions(), 2)
}

func TestHandleCreateJobPartialFailure(t *testing.T) {
	rec := backendtest.New("rec")
	rec.ExecuteFunc = func(ctx context.Context, cmd *backendtest.Command, output string) error {
		if strings.HasPrefix(cmd.Input, "bad") {
			return errors.New("corrupt input")
		}
		return nil
	}
	server, s := newTestServer(t, rec)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", jsonBody(t, CreateJobRequest{
		Spec: &store.JobSpec{
			Source: `affect audio { input $input; audioBitrate $bitrate; save $output }`,
			Items: []store.JobItem{
				{Input: "good.wav", Output: "good.mp3", Vars: map[string]string{"bitrate": "128"}},
				{Input: "bad.wav", Output: "bad.mp3", Vars: map[string]string{"bitrate": "128"}},
				{Input: "odd.wav", Output: "odd.mp3"},
			},
		},
	}))
	w := httptest.NewRecorder()
	server.HandleCreateJob(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp CreateJobResponse
	decode(t, w, &resp)
	server.Wait()

	job, err := s.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, schemas.JobStateFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "ITEMS_FAILED", job.Error.Code)
	require.Len(t, job.Results, 3)
	assert.True(t, job.Results[0].Success)
	assert.False(t, job.Results[1].Success)
	assert.Contains(t, job.Results[1].Error, "corrupt input")
	assert.Equal(t, "bad.wav", job.Results[1].Input)
	assert.Contains(t, job.Results[2].Error, `unresolved variable "bitrate"`)
	assert.Equal(t, "2 of 3 items failed", job.Error.Message)
}

func TestHandleCreateJobInvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "invalid json", "invalid_request"},
		{"missing spec", `{}`, "missing_spec"},
		{"missing source", `{"spec":{"items":[{"input":"a.mp4"}]}}`, "validation_error"},
		{"no items", `{"spec":{"source":"convert { noAudio }"}}`, "validation_error"},
		{"item without input", `{"spec":{"source":"convert { noAudio }","items":[{"output":"b.mp4"}]}}`, "validation_error"},
		{"negative concurrency", `{"spec":{"source":"convert { noAudio }","items":[{"input":"a.mp4"}],"concurrency":-1}}`, "validation_error"},
		{"syntax error", `{"spec":{"source":"affect video {","items":[{"input":"a.mp4"}]}}`, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, s := newTestServer(t, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			server.HandleCreateJob(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
			var resp ErrorResponse
			decode(t, w, &resp)
			assert.Equal(t, tt.want, resp.Error)

			jobs, err := s.ListJobs(context.Background(), nil)
			require.NoError(t, err)
			assert.Empty(t, jobs)
		})
	}
}

func TestHandleGetJob(t *testing.T) {
	server, s := newTestServer(t, nil)

	job := &store.Job{
		JobID:   "test-job-123",
		Created: time.Now(),
		Updated: time.Now(),
		Status:  schemas.JobStatePending,
		Spec:    &store.JobSpec{Source: muteProgram},
	}
	require.NoError(t, s.CreateJob(context.Background(), job))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/test-job-123", nil)
	w := httptest.NewRecorder()
	server.HandleGetJob(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var resp schemas.JobStatus
	decode(t, w, &resp)
	if resp.JobID != job.JobID {
		t.Errorf("Expected JobID %s, got %s", job.JobID, resp.JobID)
	}
	if resp.Status != schemas.JobStatePending {
		t.Errorf("Expected status pending, got %s", resp.Status)
	}
}

func TestHandleGetJobNotFound(t *testing.T) {
	server, _ := newTestServer(t, nil)

	for _, path := range []string{"/api/v1/jobs/nonexistent", "/api/v1/jobs/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		server.HandleGetJob(w, req)

		if w.Code != http.StatusNotFound && w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 404 or 400, got %d", path, w.Code)
		}
	}
}

func TestHandleListJobs(t *testing.T) {
	server, s := newTestServer(t, nil)

	statuses := []schemas.JobState{
		schemas.JobStatePending,
		schemas.JobStateRunning,
		schemas.JobStateCompleted,
	}
	base := time.Now().Add(-time.Minute)
	for i, status := range statuses {
		job := &store.Job{
			JobID:   "list-job-" + string(rune(i+'0')),
			Created: base.Add(time.Duration(i) * time.Second),
			Updated: base,
			Status:  status,
			Spec:    &store.JobSpec{Source: muteProgram},
		}
		require.NoError(t, s.CreateJob(context.Background(), job))
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"list-job-2", "list-job-1", "list-job-0"}},
		{"?status=pending", []string{"list-job-0"}},
		{"?status=pending,completed", []string{"list-job-2", "list-job-0"}},
		{"?sort_by=created&sort_order=asc&limit=2", []string{"list-job-0", "list-job-1"}},
		{"?offset=2", []string{"list-job-0"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs"+tt.query, nil)
			w := httptest.NewRecorder()
			server.HandleListJobs(w, req)
			require.Equal(t, http.StatusOK, w.Code)

			var resp []*schemas.JobStatus
			decode(t, w, &resp)
			ids := make([]string, len(resp))
			for i, st := range resp {
				ids[i] = st.JobID
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	t.Run("bad limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?limit=-1", nil)
		w := httptest.NewRecorder()
		server.HandleListJobs(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleDeleteJob(t *testing.T) {
	started := make(chan struct{})
	rec := backendtest.New("rec")
	rec.ExecuteFunc = func(ctx context.Context, cmd *backendtest.Command, output string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	server, s := newTestServer(t, rec)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", jsonBody(t, CreateJobRequest{
		Spec: &store.JobSpec{Source: muteProgram, Items: []store.JobItem{{Input: "long.mp4", Output: "out.mp4"}}},
	}))
	w := httptest.NewRecorder()
	server.HandleCreateJob(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	var created CreateJobResponse
	decode(t, w, &created)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started executing")
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+created.JobID, nil)
	w = httptest.NewRecorder()
	server.HandleDeleteJob(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}

	server.Wait()

	job, err := s.GetJob(context.Background(), created.JobID)
	require.NoError(t, err)
	assert.Equal(t, schemas.JobStateCancelled, job.Status)
	require.Len(t, job.Results, 1)
	assert.False(t, job.Results[0].Success)
}

func TestHandleDeleteJobTerminal(t *testing.T) {
	server, s := newTestServer(t, nil)

	job := &store.Job{
		JobID:   "terminal-job",
		Created: time.Now(),
		Updated: time.Now(),
		Status:  schemas.JobStateCompleted,
		Spec:    &store.JobSpec{Source: muteProgram},
	}
	require.NoError(t, s.CreateJob(context.Background(), job))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/terminal-job", nil)
	w := httptest.NewRecorder()
	server.HandleDeleteJob(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestRecover(t *testing.T) {
	server, s := newTestServer(t, nil)
	ctx := context.Background()

	for id, st := range map[string]schemas.JobState{
		"left-running": schemas.JobStateRunning,
		"left-pending": schemas.JobStatePending,
		"finished":     schemas.JobStateCompleted,
	} {
		require.NoError(t, s.CreateJob(ctx, &store.Job{JobID: id, Created: time.Now(), Status: st}))
	}

	n, err := server.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	job, err := s.GetJob(ctx, "left-running")
	require.NoError(t, err)
	assert.Equal(t, schemas.JobStateFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "INTERRUPTED", job.Error.Code)

	job, err = s.GetJob(ctx, "finished")
	require.NoError(t, err)
	assert.Equal(t, schemas.JobStateCompleted, job.Status)
}

func TestHandler_Auth(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	server, s := newTestServer(t, nil, WithAuth(auth.NewAuthMiddleware(jwtManager, nil, false)))
	h := server.Handler()

	token := func(user, role string) string {
		tok, err := jwtManager.Generate(user, "", role)
		require.NoError(t, err)
		return "Bearer " + tok
	}
	do := func(method, path, authz string, body io.Reader) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, body)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}
	spec := func() io.Reader {
		return jsonBody(t, CreateJobRequest{Spec: &store.JobSpec{Source: muteProgram, Items: []store.JobItem{{Input: "a.mp4", Output: "b.mp4"}}}})
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/jobs", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(http.MethodPost, "/api/v1/jobs", token("vera", auth.RoleViewer), spec()).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/health", "", nil).Code)

	w := do(http.MethodPost, "/api/v1/jobs", token("alice", auth.RoleSubmitter), spec())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created CreateJobResponse
	decode(t, w, &created)
	server.Wait()

	job, err := s.GetJob(context.Background(), created.JobID)
	require.NoError(t, err)
	assert.Equal(t, "alice", job.Owner)

	path := "/api/v1/jobs/" + created.JobID
	assert.Equal(t, http.StatusOK, do(http.MethodGet, path, token("alice", auth.RoleSubmitter), nil).Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, path, token("bob", auth.RoleSubmitter), nil).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, path, token("root", auth.RoleAdmin), nil).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, path, token("vera", auth.RoleViewer), nil).Code)

	var listed []*schemas.JobStatus
	w = do(http.MethodGet, "/api/v1/jobs", token("bob", auth.RoleSubmitter), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &listed)
	assert.Empty(t, listed)
}

func TestHandler_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("affect_test", reg, nil)
	server, _ := newTestServer(t, nil, WithMetrics(collector, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	h := server.Handler()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/compile",
		strings.NewReader(`{"source":"convert { noAudio }","vars":{"input":"a.mp4"}}`)))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `affect_test_http_requests_total{method="GET",path="/health",status="200"} 1`)
	assert.Contains(t, body, `affect_test_compiles_total{status="success"} 1`)
}

func TestRecovery(t *testing.T) {
	server, _ := newTestServer(t, nil)
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), server.Recovery)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, "internal_server_error", resp.Error)
}
