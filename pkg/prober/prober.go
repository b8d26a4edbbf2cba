// Package prober provides media file probing using ffprobe
package prober

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/chicogong/affect/pkg/schemas"
)

// ErrNotFound is returned when no ffprobe binary is configured or on PATH
var ErrNotFound = errors.New("ffprobe not found in PATH")

// RunFunc runs a binary and returns its stdout
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Prober probes media files using ffprobe
type Prober struct {
	ffprobePath string
	run         RunFunc
}

// ProberOption is a functional option for Prober
type ProberOption func(*Prober)

// WithFFprobePath sets a custom ffprobe binary path
func WithFFprobePath(path string) ProberOption {
	return func(p *Prober) {
		p.ffprobePath = path
	}
}

// WithRunner replaces process execution, mainly for tests
func WithRunner(run RunFunc) ProberOption {
	return func(p *Prober) {
		p.run = run
	}
}

// NewProber creates a new Prober instance
func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		run: runCommand,
	}

	for _, opt := range opts {
		opt(p)
	}
	if p.ffprobePath == "" {
		p.ffprobePath = FindBinary("ffprobe")
	}

	return p
}

// Path returns the resolved ffprobe binary, or "" when none was found
func (p *Prober) Path() string {
	return p.ffprobePath
}

// Probe probes a media file and returns its stream layout
func (p *Prober) Probe(ctx context.Context, filePath string) (*schemas.MediaInfo, error) {
	if p.ffprobePath == "" {
		return nil, ErrNotFound
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	output, err := p.run(ctx, p.ffprobePath, args...)
	if err != nil {
		return nil, err
	}

	return parseFFprobeOutput(output)
}

// Metadata probes filePath and flattens the result for condition
// evaluation
func (p *Prober) Metadata(ctx context.Context, filePath string) (*schemas.Metadata, error) {
	info, err := p.Probe(ctx, filePath)
	if err != nil {
		return nil, err
	}
	return schemas.MetadataFromInfo(info), nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	output, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("ffprobe failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe execution error: %w", err)
	}
	return output, nil
}

// FindBinary locates name in PATH or in the usual install locations
func FindBinary(name string) string {
	candidates := []string{
		name,
		"/usr/local/bin/" + name,    // Homebrew on macOS
		"/opt/homebrew/bin/" + name, // Apple Silicon Homebrew
		"/usr/bin/" + name,          // Linux
	}

	for _, path := range candidates {
		if resolved, err := exec.LookPath(path); err == nil {
			return resolved
		}
	}

	return ""
}

// ffprobeOutput represents the raw JSON output from ffprobe
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`

	// Video fields
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	RFrameRate  string `json:"r_frame_rate"`
	PixelFormat string `json:"pix_fmt"`

	// Audio fields
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`

	BitRate string `json:"bit_rate"`
}

// parseFFprobeOutput parses ffprobe JSON output into MediaInfo
func parseFFprobeOutput(data []byte) (*schemas.MediaInfo, error) {
	var output ffprobeOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &schemas.MediaInfo{
		Format: schemas.FormatInfo{
			Filename: output.Format.Filename,
			Format:   output.Format.FormatName,
			Duration: parseDuration(output.Format.Duration),
			Size:     parseInt64(output.Format.Size),
			BitRate:  parseInt64(output.Format.BitRate),
		},
	}

	for _, stream := range output.Streams {
		switch stream.CodecType {
		case "video":
			info.VideoStreams = append(info.VideoStreams, schemas.VideoStream{
				Index:       stream.Index,
				Codec:       stream.CodecName,
				Width:       stream.Width,
				Height:      stream.Height,
				FrameRate:   parseFrameRate(stream.RFrameRate),
				PixelFormat: stream.PixelFormat,
				BitRate:     parseInt64(stream.BitRate),
			})
		case "audio":
			info.AudioStreams = append(info.AudioStreams, schemas.AudioStream{
				Index:      stream.Index,
				Codec:      stream.CodecName,
				SampleRate: int(parseInt64(stream.SampleRate)),
				Channels:   stream.Channels,
				BitRate:    parseInt64(stream.BitRate),
			})
		}
	}

	return info, nil
}

// parseDuration parses ffprobe seconds; "N/A" and garbage read as zero
func parseDuration(s string) time.Duration {
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseFrameRate parses a frame rate from ffprobe format (e.g., "30/1" or "30000/1001")
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		rate, _ := strconv.ParseFloat(s, 64)
		return rate
	}

	numerator, err1 := strconv.ParseFloat(num, 64)
	denominator, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || denominator == 0 {
		return 0
	}

	return numerator / denominator
}
