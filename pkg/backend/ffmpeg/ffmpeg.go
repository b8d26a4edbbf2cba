// Package ffmpeg implements the media backend on top of the ffmpeg and
// ffprobe command-line tools.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chicogong/affect/pkg/backend"
	"github.com/chicogong/affect/pkg/prober"
	"github.com/chicogong/affect/pkg/schemas"
)

// Name is the registry name of the ffmpeg backend
const Name = "ffmpeg"

// ErrNotFound is returned by Execute when no ffmpeg binary is available
var ErrNotFound = errors.New("ffmpeg not found in PATH")

var formats = map[schemas.MediaType][]string{
	schemas.MediaTypeVideo: {"mp4", "m4v", "mkv", "mov", "avi", "webm", "flv", "ts", "mpg", "mpeg", "wmv", "3gp"},
	schemas.MediaTypeAudio: {"mp3", "wav", "aac", "flac", "ogg", "m4a", "opus", "wma"},
	schemas.MediaTypeImage: {"jpg", "jpeg", "png", "webp", "bmp", "tif", "tiff", "gif"},
}

var codecAliases = map[string]string{
	"h264":   "libx264",
	"avc":    "libx264",
	"h265":   "libx265",
	"hevc":   "libx265",
	"vp8":    "libvpx",
	"vp9":    "libvpx-vp9",
	"av1":    "libaom-av1",
	"mp3":    "libmp3lame",
	"opus":   "libopus",
	"vorbis": "libvorbis",
	"jpg":    "mjpeg",
	"jpeg":   "mjpeg",
}

var presets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true, "fast": true,
	"medium": true, "slow": true, "slower": true, "veryslow": true,
}

// audioFilters are filters that belong on the audio chain of a video
var audioFilters = map[string]bool{
	"volume": true, "loudnorm": true, "atempo": true, "aresample": true, "highpass": true,
	"lowpass": true, "afade": true, "equalizer": true, "aecho": true, "silenceremove": true,
	"dynaudnorm": true, "acompressor": true, "pan": true, "adelay": true,
}

// Backend drives ffmpeg. It is stateless apart from the resolved binary
// paths and is safe for concurrent use.
type Backend struct {
	ffmpegPath string
	prober     *prober.Prober
	run        Runner
	logger     *zap.Logger
	onProgress func(input string, p *Progress, percent int)
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend
type Option func(*Backend)

// WithFFmpegPath sets a custom ffmpeg binary path
func WithFFmpegPath(path string) Option {
	return func(b *Backend) {
		b.ffmpegPath = path
	}
}

// WithProber sets the prober used for metadata
func WithProber(p *prober.Prober) Option {
	return func(b *Backend) {
		b.prober = p
	}
}

// WithRunner replaces process execution, mainly for tests
func WithRunner(r Runner) Option {
	return func(b *Backend) {
		b.run = r
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// WithProgress registers a callback for encoding progress. percent is -1
// when the input duration could not be probed.
func WithProgress(fn func(input string, p *Progress, percent int)) Option {
	return func(b *Backend) {
		b.onProgress = fn
	}
}

// New creates an ffmpeg backend, resolving binaries from PATH unless
// overridden
func New(opts ...Option) *Backend {
	b := &Backend{
		run:    ExecRunner,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.ffmpegPath == "" {
		b.ffmpegPath = prober.FindBinary("ffmpeg")
	}
	if b.prober == nil {
		b.prober = prober.NewProber()
	}
	b.logger = b.logger.With(zap.String("component", "ffmpeg"))
	return b
}

// Path returns the resolved ffmpeg binary, or "" when none was found
func (b *Backend) Path() string {
	return b.ffmpegPath
}

func (b *Backend) Name() string {
	return Name
}

func (b *Backend) SupportedTypes() []schemas.MediaType {
	return []schemas.MediaType{schemas.MediaTypeVideo, schemas.MediaTypeAudio, schemas.MediaTypeImage}
}

func (b *Backend) SupportedFormats() []string {
	var out []string
	for _, mt := range b.SupportedTypes() {
		out = append(out, formats[mt]...)
	}
	return out
}

// SupportsFormat accepts known extensions for mt. Inputs without an
// extension are accepted when the media type is explicit.
func (b *Backend) SupportsFormat(path string, mt schemas.MediaType) bool {
	ext := strings.TrimPrefix(schemas.Extension(path), ".")
	mt = schemas.ResolveMediaType(mt, path)
	if ext == "" {
		return mt != schemas.MediaTypeAuto
	}
	for _, f := range formats[mt] {
		if f == ext {
			return true
		}
	}
	return false
}

func (b *Backend) CanHandle(op schemas.Operation, mt schemas.MediaType) bool {
	switch op.Type {
	case schemas.OpInput, schemas.OpSave, schemas.OpEncode, schemas.OpFilter,
		schemas.OpFormat, schemas.OpOutputOptions:
		return true
	case schemas.OpResize, schemas.OpCrop, schemas.OpRotate, schemas.OpSize, schemas.OpVideoCodec:
		return mt != schemas.MediaTypeAudio
	case schemas.OpVideoBitrate, schemas.OpFPS, schemas.OpNoVideo:
		return mt == schemas.MediaTypeVideo
	case schemas.OpAudioCodec, schemas.OpAudioBitrate, schemas.OpAudioChannels,
		schemas.OpAudioFrequency, schemas.OpNoAudio:
		return mt != schemas.MediaTypeImage
	}
	return false
}

func (b *Backend) CreateCommand(input string, mt schemas.MediaType) (backend.Command, error) {
	if input == "" {
		return nil, errors.New("ffmpeg: empty input")
	}
	return &Command{Input: input, MediaType: schemas.ResolveMediaType(mt, input)}, nil
}

func (b *Backend) ApplyOperation(cmd backend.Command, op schemas.Operation, mt schemas.MediaType) (backend.Command, error) {
	c, ok := cmd.(*Command)
	if !ok {
		return nil, fmt.Errorf("ffmpeg: foreign command %T", cmd)
	}
	mt = c.MediaType
	if !b.CanHandle(op, mt) {
		return nil, &backend.UnsupportedOperationError{Backend: Name, Operation: op.Type, MediaType: mt}
	}

	switch op.Type {
	case schemas.OpInput, schemas.OpSave:
		return c, nil
	case schemas.OpResize:
		return c.withVideoFilter(scaleFilter(op, mt)), nil
	case schemas.OpCrop:
		return c.withVideoFilter(cropFilter(op)), nil
	case schemas.OpRotate:
		return c.withVideoFilter(rotateFilters(op.Angle, op.Flip)...), nil
	case schemas.OpFilter:
		f := op.Name
		if op.Value != "" {
			f += "=" + op.Value
		}
		if mt == schemas.MediaTypeAudio || audioFilters[op.Name] {
			return c.withAudioFilter(f), nil
		}
		return c.withVideoFilter(f), nil
	case schemas.OpEncode:
		args, err := encodeArgs(op.Codec, op.Param, mt)
		if err != nil {
			return nil, err
		}
		return c.withArgs(args...), nil
	case schemas.OpVideoCodec:
		return c.withArgs("-c:v", codec(op.Value)), nil
	case schemas.OpVideoBitrate:
		return c.withArgs("-b:v", bitrate(op.Value)), nil
	case schemas.OpAudioCodec:
		return c.withArgs("-c:a", codec(op.Value)), nil
	case schemas.OpAudioBitrate:
		return c.withArgs("-b:a", bitrate(op.Value)), nil
	case schemas.OpFormat:
		return c.withArgs("-f", op.Value), nil
	case schemas.OpSize:
		return c.withArgs("-s", op.Value), nil
	case schemas.OpFPS:
		return c.withArgs("-r", op.Value), nil
	case schemas.OpNoVideo:
		return c.withArgs("-vn"), nil
	case schemas.OpNoAudio:
		return c.withArgs("-an"), nil
	case schemas.OpAudioChannels:
		return c.withArgs("-ac", op.Value), nil
	case schemas.OpAudioFrequency:
		return c.withArgs("-ar", op.Value), nil
	case schemas.OpOutputOptions:
		return c.withArgs(op.Args...), nil
	}
	return nil, &backend.UnsupportedOperationError{Backend: Name, Operation: op.Type, MediaType: mt}
}

func codec(name string) string {
	if alias, ok := codecAliases[strings.ToLower(name)]; ok {
		return alias
	}
	return name
}

// bitrate treats bare numbers as kbit/s
func bitrate(v string) string {
	if _, err := strconv.Atoi(v); err == nil {
		return v + "k"
	}
	return v
}

func encodeArgs(name, param string, mt schemas.MediaType) ([]string, error) {
	stream := "v"
	if mt == schemas.MediaTypeAudio {
		stream = "a"
	}
	args := []string{"-c:" + stream, codec(name)}

	switch {
	case param == "":
	case mt == schemas.MediaTypeImage:
		if _, err := strconv.Atoi(param); err != nil {
			return nil, fmt.Errorf("ffmpeg: image quality %q is not an integer", param)
		}
		args = append(args, "-q:v", param)
	case presets[strings.ToLower(param)]:
		args = append(args, "-preset", strings.ToLower(param))
	default:
		if _, ok := schemas.ParseNumber(param); !ok {
			return nil, fmt.Errorf("ffmpeg: unsupported encode parameter %q", param)
		}
		args = append(args, "-b:"+stream, bitrate(param))
	}
	return args, nil
}

func scaleFilter(op schemas.Operation, mt schemas.MediaType) string {
	keep := "-2"
	if mt == schemas.MediaTypeImage {
		keep = "-1"
	}
	dim := func(d *schemas.Dim) string {
		if d == nil || d.IsAuto() {
			return keep
		}
		return strconv.Itoa(d.Value)
	}
	return fmt.Sprintf("scale=%s:%s", dim(op.Width), dim(op.Height))
}

// cropFilter renders centered or automatic offsets as expressions over the
// input and output frame sizes
func cropFilter(op schemas.Operation) string {
	size := func(d *schemas.Dim, full string) string {
		if d == nil || d.IsAuto() {
			return full
		}
		return strconv.Itoa(d.Value)
	}
	offset := func(d *schemas.Dim, centered string) string {
		if d == nil || d.IsAuto() || d.IsCenter() {
			return centered
		}
		return strconv.Itoa(d.Value)
	}
	return fmt.Sprintf("crop=%s:%s:%s:%s",
		size(op.Width, "in_w"),
		size(op.Height, "in_h"),
		offset(op.X, "(in_w-out_w)/2"),
		offset(op.Y, "(in_h-out_h)/2"),
	)
}

// rotateFilters uses lossless transposes for right angles and the rotate
// filter otherwise. Positive angles turn clockwise.
func rotateFilters(angle float64, flip string) []string {
	var out []string
	a := math.Mod(angle, 360)
	if a < 0 {
		a += 360
	}
	switch a {
	case 0:
	case 90:
		out = append(out, "transpose=clock")
	case 180:
		out = append(out, "hflip", "vflip")
	case 270:
		out = append(out, "transpose=cclock")
	default:
		out = append(out, "rotate="+strconv.FormatFloat(a, 'f', -1, 64)+"*PI/180")
	}

	switch strings.ToLower(flip) {
	case schemas.FlipHorizontal:
		out = append(out, "hflip")
	case schemas.FlipVertical:
		out = append(out, "vflip")
	}
	return out
}

func (b *Backend) GetMetadata(ctx context.Context, input string) (*schemas.Metadata, error) {
	return b.prober.Metadata(ctx, input)
}

// Execute runs the command. Outputs in missing local directories get the
// directory created first.
func (b *Backend) Execute(ctx context.Context, cmd backend.Command, output string) error {
	c, ok := cmd.(*Command)
	if !ok {
		return fmt.Errorf("ffmpeg: foreign command %T", cmd)
	}
	if b.ffmpegPath == "" {
		return ErrNotFound
	}
	if output != "" && !strings.Contains(output, "://") {
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	args := c.Args(output)
	logger := b.logger.With(zap.String("input", c.Input), zap.String("output", output))
	logger.Debug("running ffmpeg", zap.Strings("args", args))

	parser := NewProgressParser(b.totalDuration(ctx, c.Input))
	start := time.Now()
	err := b.run(ctx, b.ffmpegPath, args, func(line string) {
		p := parser.ParseLine(line)
		if p == nil {
			return
		}
		percent := parser.Percent(p)
		logger.Debug("progress", zap.Duration("time", p.Time), zap.Int("percent", percent), zap.Float64("speed", p.Speed))
		if b.onProgress != nil {
			b.onProgress(c.Input, p, percent)
		}
	})
	if err != nil {
		return err
	}

	logger.Debug("ffmpeg finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// totalDuration probes the input only when someone consumes progress
func (b *Backend) totalDuration(ctx context.Context, input string) time.Duration {
	if b.onProgress == nil {
		return 0
	}
	meta, err := b.prober.Metadata(ctx, input)
	if err != nil {
		b.logger.Debug("duration probe failed", zap.Error(err))
		return 0
	}
	return time.Duration(meta.Duration * float64(time.Second))
}
