package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chicogong/affect/pkg/batch"
	"github.com/chicogong/affect/pkg/schemas"
)

func newBatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <manifest.yaml>",
		Short: "Run one program over every item of a manifest",
		Long: `Batch loads a YAML manifest naming a program (inline source or a path
relative to the manifest) and a list of input/output items, compiles the
program once per item and runs the items sequentially or in parallel. One
failing item does not stop the others.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			m, err := batch.LoadManifestFile(args[0])
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			src, err := m.ProgramSource()
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}

			opts := m.Options()
			if cmd.Flags().Changed("parallel") {
				opts.Parallel, _ = cmd.Flags().GetBool("parallel")
			}
			if cmd.Flags().Changed("concurrency") {
				// the flag sets the runner limit; it also beats the manifest
				opts.Concurrency = 0
			}
			errOut := cmd.ErrOrStderr()
			if isTerminal(os.Stderr) {
				opts.OnProgress = batchProgress(errOut)
			}

			items := m.Build(src)
			runner := batch.NewRunner(
				a.executor(a.backends(dryRun), dryRun, nil),
				batch.WithConcurrency(a.cfg.Batch.Concurrency),
				batch.WithLogger(a.logger),
			)
			results := runner.Run(ctx, items, opts)

			out := cmd.OutOrStdout()
			failed := 0
			for i, res := range results {
				printResult(out, items[i].Input, res)
				if !res.Success {
					failed++
				}
			}
			fmt.Fprintf(out, "%d item(s), %d succeeded, %d failed\n", len(results), len(results)-failed, failed)
			if failed > 0 {
				return exitf(ExitRunError, "%d of %d item(s) failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().Bool("parallel", false, "Run items in parallel (overrides the manifest)")
	cmd.Flags().Int("concurrency", 0, "Parallel item limit, 0 for unbounded (default from config)")
	cmd.Flags().Bool("dry-run", false, "Log backend commands without executing them")
	return cmd
}

func batchProgress(w io.Writer) batch.ProgressFunc {
	return func(p schemas.Progress) {
		fmt.Fprintf(w, "\r[%d/%d] %3d%%", p.Current, p.Total, p.Percent)
		if p.Current == p.Total {
			fmt.Fprintln(w)
		}
	}
}
