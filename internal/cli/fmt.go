package cli

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/chicogong/affect/pkg/dsl"
)

// Version is set at build time with -ldflags "-X ...cli.Version=v1.2.3"
var Version = ""

func newFmtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fmt <program>",
		Short: "Print a program in canonical form",
		Args:  cobra.ExactArgs(1),
		// formatting needs no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			write, _ := cmd.Flags().GetBool("write")
			if write && args[0] == "-" {
				return exitf(ExitCLIError, "--write needs a file, not stdin")
			}

			src, err := readSource(cmd.Context(), nil, args[0], cmd.InOrStdin())
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			prog, err := dsl.Parse(src)
			if err != nil {
				return &ExitError{Code: ExitCompileError, Err: err}
			}
			formatted := dsl.Format(prog)

			if !write {
				_, err = fmt.Fprint(cmd.OutOrStdout(), formatted)
				return err
			}
			if formatted == src {
				return nil
			}
			info, err := os.Stat(args[0])
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			if err := os.WriteFile(args[0], []byte(formatted), info.Mode().Perm()); err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			return nil
		},
	}
	cmd.Flags().BoolP("write", "w", false, "Rewrite the file in place")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print the version",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "affect %s %s/%s %s\n", version(), runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}

func version() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}
