package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chicogong/affect/pkg/compiler"
)

func newCompileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <program>",
		Short: "Compile a program to a JSON artifact or Go source",
		Long: `Compile parses, resolves and validates a program and prints the compiled
operations. The program may be a local file, an s3:// or http(s):// URI, or
"-" for stdin. --out writes to a local path or an s3:// URI instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")
			pkg, _ := cmd.Flags().GetString("package")
			fn, _ := cmd.Flags().GetString("func")

			if format != "json" && format != "go" {
				return exitf(ExitCLIError, "invalid --format: %q (valid: json|go)", format)
			}
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

			var data []byte
			if format == "go" {
				data, err = compiler.Render(pipelines, compiler.RenderOptions{Package: pkg, FuncName: fn})
			} else {
				name := args[0]
				if name == "-" {
					name = ""
				}
				data, err = compiler.MarshalArtifact(pipelines, name)
				data = append(data, '\n')
			}
			if err != nil {
				return &ExitError{Code: ExitCompileError, Err: err}
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := a.mux.WriteAll(ctx, out, data); err != nil {
				return exitf(ExitStorageError, "write %s: %w", out, err)
			}
			a.logger.Info("Wrote compiled program", zap.String("out", out), zap.Int("pipelines", len(pipelines)))
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d pipeline(s) to %s\n", len(pipelines), out)
			return nil
		},
	}

	bindVarFlags(cmd.Flags())
	cmd.Flags().StringP("format", "f", "json", "Output format: json or go")
	cmd.Flags().String("out", "", "Destination path or s3:// URI (default stdout)")
	cmd.Flags().String("package", "", "Package clause of generated Go source")
	cmd.Flags().String("func", "", "Entry point name of generated Go source")
	return cmd
}
