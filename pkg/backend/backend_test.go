package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chicogong/affect/pkg/backend"
	"github.com/chicogong/affect/pkg/backend/backendtest"
	"github.com/chicogong/affect/pkg/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRegistry_SelectFirstCapable(t *testing.T) {
	audio := backendtest.New("audio-only")
	audio.Types = []schemas.MediaType{schemas.MediaTypeAudio}
	video := backendtest.New("video")
	video.Types = []schemas.MediaType{schemas.MediaTypeVideo}
	video.Formats = []string{"mp4", "mkv"}
	anything := backendtest.New("anything")

	r := backend.NewRegistry(audio, video, anything)

	tests := []struct {
		name  string
		input string
		mt    schemas.MediaType
		want  string
	}{
		{"explicit audio", "a.wav", schemas.MediaTypeAudio, "audio-only"},
		{"video by format", "clip.mp4", schemas.MediaTypeVideo, "video"},
		{"video unsupported format", "clip.avi", schemas.MediaTypeVideo, "anything"},
		{"auto detects audio", "song.mp3", schemas.MediaTypeAuto, "audio-only"},
		{"auto detects video", "s3://bucket/clip.MKV?x=1", schemas.MediaTypeAuto, "video"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := r.Select(tt.input, tt.mt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Name())
		})
	}
}

func TestRegistry_NoBackend(t *testing.T) {
	video := backendtest.New("video")
	video.Types = []schemas.MediaType{schemas.MediaTypeVideo}
	r := backend.NewRegistry(video)

	_, err := r.Select("photo.png", schemas.MediaTypeAuto)
	var nb *backend.NoBackendError
	require.True(t, errors.As(err, &nb))
	assert.Equal(t, schemas.MediaTypeImage, nb.MediaType)
	assert.Equal(t, "photo.png", nb.Input)

	_, err = r.Select("mystery.xyz", schemas.MediaTypeAuto)
	assert.True(t, errors.As(err, &nb))
	assert.Equal(t, schemas.MediaTypeAuto, nb.MediaType)
}

func TestRegistry_RegisterReplacesInPlace(t *testing.T) {
	first := backendtest.New("a")
	r := backend.NewRegistry(first, backendtest.New("b"))

	replacement := backendtest.New("a")
	replacement.Types = []schemas.MediaType{schemas.MediaTypeImage}
	r.Register(replacement)

	list := r.List()
	require.Len(t, list, 2)
	assert.Same(t, replacement, list[0])
	assert.Equal(t, []string{"a", "b"}, r.Names())

	_, err := r.Get("missing")
	assert.Error(t, err)
}

func TestDryRun_SkipsExecute(t *testing.T) {
	rec := backendtest.New("rec")
	rec.Metadata = map[string]*schemas.Metadata{"": {Width: 640}}
	dry := backend.DryRun(rec, zap.NewNop())

	assert.Equal(t, "rec", dry.Name())

	cmd, err := dry.CreateCommand("in.mp4", schemas.MediaTypeVideo)
	require.NoError(t, err)
	cmd, err = dry.ApplyOperation(cmd, schemas.Operation{Type: schemas.OpNoAudio}, schemas.MediaTypeVideo)
	require.NoError(t, err)

	meta, err := dry.GetMetadata(context.Background(), "in.mp4")
	require.NoError(t, err)
	assert.Equal(t, 640, meta.Width)

	require.NoError(t, dry.Execute(context.Background(), cmd, "out.mp4"))
	assert.Empty(t, rec.Executions())
	assert.Equal(t, 1, rec.Probes())
}

// lineCommand renders its output like a real command line
type lineCommand struct{ input string }

func (c lineCommand) String() string { return c.CommandLine("") }

func (c lineCommand) CommandLine(output string) string {
	if output == "" {
		output = "-"
	}
	return "tool " + c.input + " " + output
}

func TestDryRun_LogsCommandWithOutput(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	dry := backend.DryRun(backendtest.New("rec"), zap.New(core))

	require.NoError(t, dry.Execute(context.Background(), lineCommand{"in.mp4"}, "out.mp4"))
	require.NoError(t, dry.Execute(context.Background(), lineCommand{"in.mp4"}, ""))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "tool in.mp4 out.mp4", entries[0].ContextMap()["command"])
	assert.Equal(t, "out.mp4", entries[0].ContextMap()["output"])
	assert.Equal(t, "tool in.mp4 -", entries[1].ContextMap()["command"])
}

func TestDescribe_FallsBackToString(t *testing.T) {
	rec := backendtest.New("rec")
	cmd, err := rec.CreateCommand("in.mp4", schemas.MediaTypeVideo)
	require.NoError(t, err)
	assert.Equal(t, cmd.String(), backend.Describe(cmd, "out.mp4"))
}

func TestDryRun_HonoursCancellation(t *testing.T) {
	dry := backend.DryRun(backendtest.New("rec"), nil)
	cmd, err := dry.CreateCommand("in.mp4", schemas.MediaTypeVideo)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, dry.Execute(ctx, cmd, ""), context.Canceled)
}

func TestRecorder_CommandsAreImmutable(t *testing.T) {
	rec := backendtest.New("rec")
	base, err := rec.CreateCommand("in.mp4", schemas.MediaTypeVideo)
	require.NoError(t, err)

	a, err := rec.ApplyOperation(base, schemas.Operation{Type: schemas.OpNoAudio}, schemas.MediaTypeVideo)
	require.NoError(t, err)
	b, err := rec.ApplyOperation(base, schemas.Operation{Type: schemas.OpNoVideo}, schemas.MediaTypeVideo)
	require.NoError(t, err)

	assert.Empty(t, base.(*backendtest.Command).Operations)
	assert.Equal(t, "record in.mp4 noAudio", a.String())
	assert.Equal(t, "record in.mp4 noVideo", b.String())
}
