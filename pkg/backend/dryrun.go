package backend

import (
	"context"

	"go.uber.org/zap"
)

// dryRun wraps a backend and logs terminal commands instead of running them
type dryRun struct {
	Backend
	logger *zap.Logger
}

// DryRun returns b with Execute replaced by a log line. Metadata probes
// still reach b so conditionals pick the branch a real run would.
func DryRun(b Backend, logger *zap.Logger) Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dryRun{Backend: b, logger: logger.With(zap.String("component", "dry-run"))}
}

func (d *dryRun) Execute(ctx context.Context, cmd Command, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger.Info("dry run",
		zap.String("backend", d.Backend.Name()),
		zap.String("command", Describe(cmd, output)),
		zap.String("output", output),
	)
	return nil
}
