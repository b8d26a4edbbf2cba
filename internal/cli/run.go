package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chicogong/affect/pkg/backend/ffmpeg"
	"github.com/chicogong/affect/pkg/compiler"
	"github.com/chicogong/affect/pkg/schemas"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Compile a program and execute every block",
		Long: `Run compiles a program with the given variables and executes each block in
order through ffmpeg. Remote inputs and outputs (s3://, http(s)://) are staged
through a temporary directory. --dry-run logs the ffmpeg commands instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			vars, err := parseVars(cmd)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			src, err := readSource(ctx, a.mux, args[0], cmd.InOrStdin())
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			pipelines, err := compiler.CompileSource(src, vars)
			if err != nil {
				return &ExitError{Code: ExitCompileError, Err: err}
			}

			var opts []ffmpeg.Option
			if !dryRun && isTerminal(os.Stderr) {
				opts = append(opts, ffmpeg.WithProgress(progressPrinter(cmd.ErrOrStderr())))
			}
			exec := a.executor(a.backends(dryRun, opts...), dryRun, nil)

			out := cmd.OutOrStdout()
			failed := 0
			for _, p := range pipelines {
				res := exec.Run(ctx, p)
				printResult(out, p.Input, res)
				if !res.Success {
					failed++
				}
				if ctx.Err() != nil {
					break
				}
			}
			if failed > 0 {
				return exitf(ExitRunError, "%d of %d pipeline(s) failed", failed, len(pipelines))
			}
			return nil
		},
	}

	bindVarFlags(cmd.Flags())
	cmd.Flags().Bool("dry-run", false, "Log backend commands without executing them")
	return cmd
}

func printResult(w io.Writer, input string, res *schemas.Result) {
	switch {
	case res.Success && res.Output != "":
		fmt.Fprintf(w, "ok     %s -> %s\n", input, res.Output)
	case res.Success:
		fmt.Fprintf(w, "ok     %s\n", input)
	default:
		fmt.Fprintf(w, "FAILED %s: %v\n", input, res.Error)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// progressPrinter redraws a single status line per input
func progressPrinter(w io.Writer) func(string, *ffmpeg.Progress, int) {
	var mu sync.Mutex
	return func(input string, p *ffmpeg.Progress, percent int) {
		mu.Lock()
		defer mu.Unlock()
		if percent < 0 {
			fmt.Fprintf(w, "\r%s: %s speed=%.1fx", input, p.Time, p.Speed)
			return
		}
		fmt.Fprintf(w, "\r%s: %3d%% speed=%.1fx", input, percent, p.Speed)
		if percent >= 100 {
			fmt.Fprintln(w)
		}
	}
}

// ExitCode reports the process exit code for err
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitCLIError
}
