// Package executor interprets compiled operation lists against media
// backends.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chicogong/affect/pkg/backend"
	"github.com/chicogong/affect/pkg/metrics"
	"github.com/chicogong/affect/pkg/schemas"
)

// Execution stages reported by BackendExecutionError
const (
	StageCreate    = "create"
	StageApply     = "apply"
	StageMetadata  = "metadata"
	StageCondition = "condition"
	StageExecute   = "execute"
	StageStorage   = "storage"
)

// BackendExecutionError wraps a failure raised while driving a backend
type BackendExecutionError struct {
	Backend   string
	Stage     string
	Operation schemas.OpType
	Err       error
}

func (e *BackendExecutionError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("backend %s: %s %s: %v", e.Backend, e.Stage, e.Operation, e.Err)
	}
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Stage, e.Err)
}

func (e *BackendExecutionError) Unwrap() error {
	return e.Err
}

// Executor runs execution contexts. It holds no per-run state and is safe
// for concurrent use.
type Executor struct {
	registry *backend.Registry
	storage  *StorageManager
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// Option configures an Executor
type Option func(*Executor)

// WithRegistry sets the registry Run selects backends from
func WithRegistry(r *backend.Registry) Option {
	return func(e *Executor) {
		e.registry = r
	}
}

// WithStorageManager enables staging of remote inputs and outputs in Run
func WithStorageManager(sm *StorageManager) Option {
	return func(e *Executor) {
		e.storage = sm
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) {
		e.metrics = c
	}
}

// New creates an executor. Without WithRegistry it selects from the global
// backend registry.
func New(opts ...Option) *Executor {
	e := &Executor{
		registry: backend.GlobalRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "executor"))
	return e
}

// Run selects a backend for ectx, stages remote paths when a storage
// manager is configured and executes. Failures are reported in the result.
func (e *Executor) Run(ctx context.Context, ectx *schemas.ExecutionContext) *schemas.Result {
	b, err := e.registry.Select(ectx.Input, ectx.MediaType)
	if err != nil {
		e.logger.Warn("no backend", zap.String("input", ectx.Input), zap.Error(err))
		return schemas.Failed(err)
	}
	if e.storage == nil {
		return e.Execute(ctx, ectx, b)
	}

	staged, err := e.storage.Stage(ctx, ectx)
	if err != nil {
		return schemas.Failed(&BackendExecutionError{Backend: b.Name(), Stage: StageStorage, Err: err})
	}
	defer staged.Cleanup()

	res := e.Execute(ctx, staged.Context, b)
	if !res.Success {
		return res
	}
	if err := staged.Publish(ctx); err != nil {
		return schemas.Failed(&BackendExecutionError{Backend: b.Name(), Stage: StageStorage, Err: err})
	}
	return schemas.Succeeded(ectx.Output)
}

// Execute interprets ectx against b: one command is created, every
// operation is applied in order and the terminal action saves to
// ectx.Output, or runs without persisting when it is empty. The first
// failure stops the run.
func (e *Executor) Execute(ctx context.Context, ectx *schemas.ExecutionContext, b backend.Backend) (res *schemas.Result) {
	start := time.Now()
	logger := e.logger.With(
		zap.String("backend", b.Name()),
		zap.String("input", ectx.Input),
		zap.String("output", ectx.Output),
	)

	defer func() {
		if p := recover(); p != nil {
			res = schemas.Failed(&BackendExecutionError{Backend: b.Name(), Stage: StageExecute, Err: fmt.Errorf("panic: %v", p)})
		}
		e.metrics.RecordExecution(b.Name(), string(ectx.MediaType), res.Success, time.Since(start))
		if res.Success {
			logger.Info("execution succeeded", zap.Duration("elapsed", time.Since(start)))
		} else {
			logger.Warn("execution failed", zap.Error(res.Error))
		}
	}()

	r := &run{ctx: ctx, e: e, b: b, ectx: ectx, logger: logger}

	cmd, err := b.CreateCommand(ectx.Input, ectx.MediaType)
	if err != nil {
		return schemas.Failed(&BackendExecutionError{Backend: b.Name(), Stage: StageCreate, Err: err})
	}
	r.cmd = cmd

	if err := r.apply(ectx.Operations); err != nil {
		return schemas.Failed(err)
	}

	logger.Debug("executing", zap.String("command", r.cmd.String()))
	if err := b.Execute(ctx, r.cmd, ectx.Output); err != nil {
		return schemas.Failed(&BackendExecutionError{Backend: b.Name(), Stage: StageExecute, Err: err})
	}
	return schemas.Succeeded(ectx.Output)
}

// run is the state of one execution
type run struct {
	ctx    context.Context
	e      *Executor
	b      backend.Backend
	ectx   *schemas.ExecutionContext
	cmd    backend.Command
	meta   *schemas.Metadata
	logger *zap.Logger
}

// metadata probes the input at most once per run
func (r *run) metadata() (*schemas.Metadata, error) {
	if r.meta != nil {
		return r.meta, nil
	}
	m, err := r.b.GetMetadata(r.ctx, r.ectx.Input)
	r.e.metrics.RecordProbe(r.b.Name(), err == nil)
	if err != nil {
		return nil, &BackendExecutionError{Backend: r.b.Name(), Stage: StageMetadata, Err: err}
	}
	if m == nil {
		m = &schemas.Metadata{}
	}
	r.meta = m
	return m, nil
}

func (r *run) apply(ops []schemas.Operation) error {
	for _, op := range ops {
		switch op.Type {
		case schemas.OpInput, schemas.OpSave:
			// bound by CreateCommand and the terminal Execute
		case schemas.OpIf:
			if err := r.branch(op); err != nil {
				return err
			}
		default:
			cmd, err := r.b.ApplyOperation(r.cmd, op, r.ectx.MediaType)
			if err != nil {
				return &BackendExecutionError{Backend: r.b.Name(), Stage: StageApply, Operation: op.Type, Err: err}
			}
			r.cmd = cmd
			r.e.metrics.RecordOperation(r.b.Name(), string(op.Type))
		}
	}
	return nil
}

func (r *run) branch(op schemas.Operation) error {
	if op.Condition == nil {
		return &BackendExecutionError{Backend: r.b.Name(), Stage: StageCondition, Operation: op.Type, Err: fmt.Errorf("missing condition")}
	}
	meta, err := r.metadata()
	if err != nil {
		return err
	}
	ok, err := op.Condition.Evaluate(meta)
	if err != nil {
		return &BackendExecutionError{Backend: r.b.Name(), Stage: StageCondition, Operation: op.Type, Err: err}
	}
	r.logger.Debug("condition evaluated", zap.Stringer("condition", op.Condition), zap.Bool("result", ok))
	if ok {
		return r.apply(op.ThenOperations)
	}
	return r.apply(op.ElseOperations)
}
