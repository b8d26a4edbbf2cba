package ffmpeg

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Progress represents FFmpeg encoding progress
type Progress struct {
	Frame   int           // Current frame number
	FPS     float64       // Frames per second
	Time    time.Duration // Current position in media
	Size    int64         // Output size in bytes
	Bitrate float64       // Bitrate in kbits/s
	Speed   float64       // Encoding speed multiplier (1.0 = realtime)
}

var (
	frameRegex   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRegex     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	timeRegex    = regexp.MustCompile(`time=(-?)(\d+):(\d{2}):(\d{2})(?:\.(\d+))?`)
	sizeRegex    = regexp.MustCompile(`size=\s*(\d+)(kB|KiB)`)
	bitrateRegex = regexp.MustCompile(`bitrate=\s*([\d.]+)kbits/s`)
	speedRegex   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// ProgressParser parses FFmpeg stderr progress lines
type ProgressParser struct {
	totalDuration time.Duration
}

// NewProgressParser creates a parser. total is the input duration used for
// percentages and may be zero when unknown.
func NewProgressParser(total time.Duration) *ProgressParser {
	return &ProgressParser{totalDuration: total}
}

// ParseLine parses a single line of FFmpeg output.
// Returns nil if the line doesn't contain progress information.
func (pp *ProgressParser) ParseLine(line string) *Progress {
	if !strings.Contains(line, "time=") {
		return nil
	}

	progress := &Progress{}

	if m := frameRegex.FindStringSubmatch(line); m != nil {
		progress.Frame, _ = strconv.Atoi(m[1])
	}
	if m := fpsRegex.FindStringSubmatch(line); m != nil {
		progress.FPS, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := timeRegex.FindStringSubmatch(line); m != nil && m[1] == "" {
		hours, _ := strconv.Atoi(m[2])
		minutes, _ := strconv.Atoi(m[3])
		seconds, _ := strconv.Atoi(m[4])
		var frac float64
		if m[5] != "" {
			frac, _ = strconv.ParseFloat("0."+m[5], 64)
		}

		progress.Time = time.Duration(hours)*time.Hour +
			time.Duration(minutes)*time.Minute +
			time.Duration(seconds)*time.Second +
			time.Duration(frac*float64(time.Second)).Round(time.Millisecond)
	}
	if m := sizeRegex.FindStringSubmatch(line); m != nil {
		sizeKB, _ := strconv.ParseInt(m[1], 10, 64)
		progress.Size = sizeKB * 1024
	}
	if m := bitrateRegex.FindStringSubmatch(line); m != nil {
		progress.Bitrate, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := speedRegex.FindStringSubmatch(line); m != nil {
		progress.Speed, _ = strconv.ParseFloat(m[1], 64)
	}

	return progress
}

// Percent computes completion from the processed time, capped at 100. It
// returns -1 when the total duration is unknown.
func (pp *ProgressParser) Percent(progress *Progress) int {
	if pp.totalDuration <= 0 {
		return -1
	}
	p := math.Round(float64(progress.Time) / float64(pp.totalDuration) * 100)
	if p > 100 {
		return 100
	}
	return int(p)
}
