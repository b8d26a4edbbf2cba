package ffmpeg

import (
	"strings"

	"github.com/chicogong/affect/pkg/schemas"
)

// Command is an immutable ffmpeg invocation under construction. Every
// builder method returns a copy.
type Command struct {
	Input     string
	MediaType schemas.MediaType

	videoFilters []string
	audioFilters []string
	outputArgs   []string
}

func (c *Command) clone() *Command {
	return &Command{
		Input:        c.Input,
		MediaType:    c.MediaType,
		videoFilters: append([]string(nil), c.videoFilters...),
		audioFilters: append([]string(nil), c.audioFilters...),
		outputArgs:   append([]string(nil), c.outputArgs...),
	}
}

func (c *Command) withVideoFilter(f ...string) *Command {
	out := c.clone()
	out.videoFilters = append(out.videoFilters, f...)
	return out
}

func (c *Command) withAudioFilter(f ...string) *Command {
	out := c.clone()
	out.audioFilters = append(out.audioFilters, f...)
	return out
}

func (c *Command) withArgs(args ...string) *Command {
	out := c.clone()
	out.outputArgs = append(out.outputArgs, args...)
	return out
}

// VideoFilters returns the video filter chain in application order
func (c *Command) VideoFilters() []string {
	return append([]string(nil), c.videoFilters...)
}

// AudioFilters returns the audio filter chain in application order
func (c *Command) AudioFilters() []string {
	return append([]string(nil), c.audioFilters...)
}

// Args returns the ffmpeg arguments, excluding the binary. An empty output
// decodes through the null muxer without writing a file.
func (c *Command) Args(output string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", c.Input}
	if len(c.videoFilters) > 0 {
		args = append(args, "-vf", strings.Join(c.videoFilters, ","))
	}
	if len(c.audioFilters) > 0 {
		args = append(args, "-af", strings.Join(c.audioFilters, ","))
	}
	args = append(args, c.outputArgs...)
	if output == "" {
		return append(args, "-f", "null", "-")
	}
	return append(args, output)
}

func (c *Command) String() string {
	return c.CommandLine("")
}

// CommandLine renders the shell-quoted invocation writing output
func (c *Command) CommandLine(output string) string {
	args := c.Args(output)
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, "ffmpeg")
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`*?;&|<>()[]{}!#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
