// Package cli implements the affect command line
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/chicogong/affect/pkg/backend"
	"github.com/chicogong/affect/pkg/backend/ffmpeg"
	"github.com/chicogong/affect/pkg/config"
	"github.com/chicogong/affect/pkg/executor"
	"github.com/chicogong/affect/pkg/logging"
	"github.com/chicogong/affect/pkg/metrics"
	"github.com/chicogong/affect/pkg/prober"
	"github.com/chicogong/affect/pkg/storage"
)

const (
	ExitOK           = 0
	ExitCLIError     = 1
	ExitCompileError = 2
	ExitMissingDep   = 3
	ExitRunError     = 4
	ExitStorageError = 5
)

// ExitError wraps an error with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitf(code int, format string, args ...interface{}) error {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// app carries what every subcommand shares once flags are parsed
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	mux    *storage.Mux
}

func (a *app) init(cmd *cobra.Command) error {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(file, cmd.Flags())
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	a.cfg = cfg
	a.logger = logger
	a.mux = storage.NewMux(cfg.S3)
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// backends builds the registry of real backends, wrapped for dry runs
func (a *app) backends(dryRun bool, opts ...ffmpeg.Option) *backend.Registry {
	opts = append([]ffmpeg.Option{
		ffmpeg.WithFFmpegPath(a.cfg.FFmpeg.Path),
		ffmpeg.WithProber(a.prober()),
		ffmpeg.WithLogger(a.logger),
	}, opts...)

	var b backend.Backend = ffmpeg.New(opts...)
	if dryRun {
		b = backend.DryRun(b, a.logger)
	}
	return backend.NewRegistry(b)
}

func (a *app) prober() *prober.Prober {
	var opts []prober.ProberOption
	if a.cfg.FFprobe.Path != "" {
		opts = append(opts, prober.WithFFprobePath(a.cfg.FFprobe.Path))
	}
	return prober.NewProber(opts...)
}

// executor wires the registry to storage staging. Dry runs neither
// download inputs nor upload outputs.
func (a *app) executor(reg *backend.Registry, dryRun bool, m *metrics.Collector) *executor.Executor {
	opts := []executor.Option{
		executor.WithRegistry(reg),
		executor.WithLogger(a.logger),
		executor.WithMetrics(m),
	}
	if !dryRun {
		opts = append(opts, executor.WithStorageManager(executor.NewStorageManager(
			executor.WithMux(a.mux),
			executor.WithTempRoot(a.cfg.Storage.TempDir),
			executor.WithStorageLogger(a.logger),
		)))
	}
	return executor.New(opts...)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "affect",
		Short:         "Compile and run media pipelines written in the affect language",
		Long:          "affect compiles small pipeline programs (resize, crop, encode, conditionals on media metadata) into backend-agnostic operation lists and runs them through ffmpeg, one file at a time or as batches.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	bindGlobalFlags(root.PersistentFlags())

	root.AddCommand(newCompileCmd(a))
	root.AddCommand(newRunCmd(a))
	root.AddCommand(newBatchCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newDoctorCmd(a))
	root.AddCommand(newFmtCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Config file (default ./affect.yaml when present)")
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.String("log-format", "", "Log format: console or json")
	fs.String("ffmpeg", "", "Path to ffmpeg")
	fs.String("ffprobe", "", "Path to ffprobe")
	fs.String("temp-dir", "", "Parent directory for staged remote files")
}

// Execute runs the CLI with the provided context.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

// readSource reads a program from a local path, a storage URI or "-" for
// stdin
func readSource(ctx context.Context, mux *storage.Mux, path string, stdin io.Reader) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read program from stdin: %w", err)
		}
		return string(b), nil
	}
	if storage.IsURI(path) && !strings.HasPrefix(path, "file://") && mux != nil {
		b, err := mux.ReadAll(ctx, path)
		if err != nil {
			return "", fmt.Errorf("read program %s: %w", path, err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(strings.TrimPrefix(path, "file://"))
	if err != nil {
		return "", fmt.Errorf("read program: %w", err)
	}
	return string(b), nil
}

// parseVars merges --var flags with the --input and --output shortcuts
func parseVars(cmd *cobra.Command) (map[string]string, error) {
	vars, err := cmd.Flags().GetStringToString("var")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(vars)+2)
	for k, v := range vars {
		out[k] = v
	}
	if in, _ := cmd.Flags().GetString("input"); in != "" {
		out["input"] = in
	}
	if o, _ := cmd.Flags().GetString("output"); o != "" {
		out["output"] = o
	}
	return out, nil
}

func bindVarFlags(fs *pflag.FlagSet) {
	fs.StringToStringP("var", "V", nil, "Program variable as name=value (repeatable)")
	fs.StringP("input", "i", "", "Value of $input")
	fs.StringP("output", "o", "", "Value of $output")
}
