package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chicogong/affect/pkg/schemas"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id       TEXT PRIMARY KEY,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	status       TEXT NOT NULL,
	owner        TEXT NOT NULL DEFAULT '',
	spec         TEXT NOT NULL DEFAULT 'null',
	progress     TEXT NOT NULL DEFAULT 'null',
	error        TEXT NOT NULL DEFAULT 'null',
	results      TEXT NOT NULL DEFAULT 'null',
	started_at   INTEGER,
	completed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner);
`

const jobColumns = `job_id, created_at, updated_at, status, owner, spec, progress, error, results, started_at, completed_at`

// SQLiteStore implements Store on SQLite through the pure Go
// modernc.org/sqlite driver. Times are stored as Unix nanoseconds and
// structured fields as JSON.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at path and creates the
// schema
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serialises writers and keeps :memory: databases whole
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateJob creates a new job
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	if job.JobID == "" {
		return ErrInvalidJobID
	}

	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO NOTHING`, args...)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobExists
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, ErrInvalidJobID
	}
	return getJob(ctx, s.db, jobID)
}

// UpdateJob replaces an existing job
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *Job) error {
	if job.JobID == "" {
		return ErrInvalidJobID
	}
	job.Updated = time.Now()
	return putJob(ctx, s.db, job)
}

// DeleteJob deletes a job by ID
func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrInvalidJobID
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

var sortColumns = map[string]string{
	"created": "created_at",
	"updated": "updated_at",
	"status":  "status",
}

// ListJobs lists jobs with optional filtering
func (s *SQLiteStore) ListJobs(ctx context.Context, filter *ListFilter) ([]*Job, error) {
	var (
		where []string
		args  []any
	)
	order := "created_at DESC"
	limit, offset := -1, 0

	if filter != nil {
		if len(filter.Status) > 0 {
			marks := make([]string, len(filter.Status))
			for i, st := range filter.Status {
				marks[i] = "?"
				args = append(args, string(st))
			}
			where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
		}
		if filter.Owner != "" {
			where = append(where, "owner = ?")
			args = append(args, filter.Owner)
		}
		if filter.CreatedAfter != nil {
			where = append(where, "created_at >= ?")
			args = append(args, filter.CreatedAfter.UnixNano())
		}
		if filter.CreatedBefore != nil {
			where = append(where, "created_at <= ?")
			args = append(args, filter.CreatedBefore.UnixNano())
		}
		if col, ok := sortColumns[filter.SortBy]; ok {
			dir := "ASC"
			if filter.SortOrder == "desc" {
				dir = "DESC"
			}
			order = col + " " + dir
		}
		if filter.Limit > 0 {
			limit = filter.Limit
		}
		if filter.Offset > 0 {
			offset = filter.Offset
		}
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + order + ", job_id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus updates job status and progress
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status schemas.JobState, progress *schemas.Progress) error {
	return s.modify(ctx, jobID, func(job *Job) {
		stamp(job, status, time.Now())
		if progress != nil {
			p := *progress
			job.Progress = &p
		}
	})
}

// UpdateJobError records an error for a job
func (s *SQLiteStore) UpdateJobError(ctx context.Context, jobID string, errInfo *schemas.ErrorInfo) error {
	return s.modify(ctx, jobID, func(job *Job) {
		if errInfo != nil {
			e := *errInfo
			job.Error = &e
		}
		job.Updated = time.Now()
	})
}

// SetJobResults stores per-item results
func (s *SQLiteStore) SetJobResults(ctx context.Context, jobID string, results []schemas.ItemResult) error {
	return s.modify(ctx, jobID, func(job *Job) {
		job.Results = append([]schemas.ItemResult(nil), results...)
		job.Updated = time.Now()
	})
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// modify applies fn to a job inside a transaction
func (s *SQLiteStore) modify(ctx context.Context, jobID string, fn func(*Job)) error {
	if jobID == "" {
		return ErrInvalidJobID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	job, err := getJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	fn(job)
	if err := putJob(ctx, tx, job); err != nil {
		return err
	}
	return tx.Commit()
}

func getJob(ctx context.Context, q querier, jobID string) (*Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func putJob(ctx context.Context, q querier, job *Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	// job_id moves to the end for the WHERE clause
	res, err := q.ExecContext(ctx,
		`UPDATE jobs SET created_at = ?, updated_at = ?, status = ?, owner = ?, spec = ?, progress = ?,
		 error = ?, results = ?, started_at = ?, completed_at = ? WHERE job_id = ?`,
		append(args[1:], args[0])...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// jobArgs returns column values in jobColumns order
func jobArgs(job *Job) ([]any, error) {
	enc := func(name string, v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", name, err)
		}
		return string(b), nil
	}

	spec, err := enc("spec", job.Spec)
	if err != nil {
		return nil, err
	}
	progress, err := enc("progress", job.Progress)
	if err != nil {
		return nil, err
	}
	errInfo, err := enc("error", job.Error)
	if err != nil {
		return nil, err
	}
	results, err := enc("results", job.Results)
	if err != nil {
		return nil, err
	}

	return []any{
		job.JobID,
		job.Created.UnixNano(),
		job.Updated.UnixNano(),
		string(job.Status),
		job.Owner,
		spec, progress, errInfo, results,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		job                              Job
		created, updated                 int64
		status, owner                    string
		spec, progress, errInfo, results string
		started, completed               sql.NullInt64
	)
	if err := sc.Scan(&job.JobID, &created, &updated, &status, &owner, &spec, &progress, &errInfo, &results, &started, &completed); err != nil {
		return nil, err
	}

	job.Created = time.Unix(0, created)
	job.Updated = time.Unix(0, updated)
	job.Status = schemas.JobState(status)
	job.Owner = owner
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)

	for _, f := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"spec", spec, &job.Spec},
		{"progress", progress, &job.Progress},
		{"error", errInfo, &job.Error},
		{"results", results, &job.Results},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode %s of job %s: %w", f.name, job.JobID, err)
		}
	}
	return &job, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}
