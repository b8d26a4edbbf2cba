// Package batch runs many independent executions sequentially or with
// bounded parallelism.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chicogong/affect/pkg/metrics"
	"github.com/chicogong/affect/pkg/schemas"
)

// DefaultConcurrency caps parallel batches when no limit is configured
const DefaultConcurrency = 4

// Item is one unit of a batch. Operations are shared read-only between
// items compiled from the same program; each run gets its own clone.
type Item struct {
	Input      string
	Output     string
	MediaType  schemas.MediaType
	Operations []schemas.Operation

	// Timeout bounds the item's execution when positive
	Timeout time.Duration

	// Err is set when the item could not be prepared. It is reported as the
	// item's result without executing anything.
	Err error
}

// FromContext builds an item from a compiled context
func FromContext(ectx *schemas.ExecutionContext) Item {
	return Item{
		Input:      ectx.Input,
		Output:     ectx.Output,
		MediaType:  ectx.MediaType,
		Operations: ectx.Operations,
	}
}

// Context returns a fresh execution context for the item
func (it Item) Context() *schemas.ExecutionContext {
	return (&schemas.ExecutionContext{
		MediaType:  it.MediaType,
		Operations: it.Operations,
	}).WithPaths(it.Input, it.Output)
}

// Executor runs one execution context. *executor.Executor satisfies it.
type Executor interface {
	Run(ctx context.Context, ectx *schemas.ExecutionContext) *schemas.Result
}

// ProgressFunc receives progress updates. Calls never overlap.
type ProgressFunc func(schemas.Progress)

// Options controls one batch run
type Options struct {
	Parallel bool

	// Concurrency overrides the runner's limit for parallel runs when
	// positive. A negative value removes the limit.
	Concurrency int

	OnProgress ProgressFunc
}

// Runner schedules batch items onto an executor
type Runner struct {
	exec        Executor
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Collector
}

// Option configures a Runner
type Option func(*Runner)

// WithConcurrency sets the default parallel limit. n <= 0 means unbounded.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		r.concurrency = n
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Runner) {
		r.metrics = c
	}
}

// NewRunner creates a runner over exec
func NewRunner(exec Executor, opts ...Option) *Runner {
	r := &Runner{
		exec:        exec,
		concurrency: DefaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "batch"))
	return r
}

// Run executes every item and returns one result per item in input order.
// A failing item never stops the others. Cancelling ctx fails the items
// that have not finished.
func (r *Runner) Run(ctx context.Context, items []Item, opts Options) []*schemas.Result {
	results := make([]*schemas.Result, len(items))
	if len(items) == 0 {
		return results
	}

	mode := "sequential"
	if opts.Parallel {
		mode = "parallel"
	}
	start := time.Now()
	logger := r.logger.With(
		zap.String("batch_id", uuid.NewString()),
		zap.String("mode", mode),
		zap.Int("items", len(items)),
	)
	logger.Info("batch started")

	tracker := &progressTracker{total: len(items), fn: opts.OnProgress}

	if opts.Parallel {
		var g errgroup.Group
		if limit := r.limit(opts); limit > 0 {
			g.SetLimit(limit)
		}
		for i := range items {
			i := i
			g.Go(func() error {
				results[i] = r.runItem(ctx, items[i])
				r.metrics.RecordBatchItem(mode, results[i].Success)
				tracker.done()
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range items {
			results[i] = r.runItem(ctx, items[i])
			r.metrics.RecordBatchItem(mode, results[i].Success)
			tracker.done()
		}
	}

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	r.metrics.RecordBatch(mode, time.Since(start))
	logger.Info("batch finished",
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results
}

func (r *Runner) limit(opts Options) int {
	switch {
	case opts.Concurrency > 0:
		return opts.Concurrency
	case opts.Concurrency < 0:
		return 0
	default:
		return r.concurrency
	}
}

// runItem isolates one item: its errors and panics become its result
func (r *Runner) runItem(ctx context.Context, it Item) (res *schemas.Result) {
	defer func() {
		if p := recover(); p != nil {
			res = schemas.Failed(fmt.Errorf("batch item %s: panic: %v", it.Input, p))
		}
		if !res.Success {
			r.logger.Warn("batch item failed", zap.String("input", it.Input), zap.Error(res.Error))
		}
	}()

	if it.Err != nil {
		return schemas.Failed(it.Err)
	}
	if err := ctx.Err(); err != nil {
		return schemas.Failed(err)
	}
	if it.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, it.Timeout)
		defer cancel()
	}

	res = r.exec.Run(ctx, it.Context())
	if res == nil {
		res = schemas.Failed(fmt.Errorf("batch item %s: executor returned no result", it.Input))
	}
	return res
}

// progressTracker serialises progress updates so percent never goes
// backwards and 100 is reported once
type progressTracker struct {
	mu      sync.Mutex
	current int
	total   int
	fn      ProgressFunc
}

func (t *progressTracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current++
	if t.fn != nil {
		t.fn(schemas.NewProgress(t.current, t.total))
	}
}
