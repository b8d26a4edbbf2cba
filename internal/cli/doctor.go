package cli

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chicogong/affect/pkg/prober"
	"github.com/chicogong/affect/pkg/schemas"
)

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose external dependencies (ffmpeg, ffprobe)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			var missing []error
			for _, tool := range []struct {
				name       string
				configured string
			}{
				{"ffmpeg", a.cfg.FFmpeg.Path},
				{"ffprobe", a.cfg.FFprobe.Path},
			} {
				path, err := findTool(tool.name, tool.configured)
				if err != nil {
					missing = append(missing, err)
					fmt.Fprintf(out, "%-8s missing\n", tool.name+":")
					continue
				}
				fmt.Fprintf(out, "%-8s %s\n", tool.name+":", path)
			}
			for _, b := range a.backends(false).List() {
				fmt.Fprintf(out, "%-8s %s (%s)\n", "backend:", b.Name(), joinTypes(b.SupportedTypes()))
			}
			if len(missing) > 0 {
				return &ExitError{Code: ExitMissingDep, Err: errors.Join(missing...)}
			}
			return nil
		},
	}
}

// findTool resolves a configured path, or searches the usual locations
func findTool(name, configured string) (string, error) {
	if configured != "" {
		path, err := exec.LookPath(configured)
		if err != nil {
			return "", fmt.Errorf("%s not found at %s: %w", name, configured, err)
		}
		return path, nil
	}
	if path := prober.FindBinary(name); path != "" {
		return path, nil
	}
	return "", fmt.Errorf("%s not found in PATH; install it or set --%s", name, name)
}

func joinTypes(types []schemas.MediaType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
