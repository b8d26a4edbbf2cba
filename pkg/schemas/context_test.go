package schemas

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionContext_WithPaths(t *testing.T) {
	base := &ExecutionContext{
		Input:     "in.mp4",
		Output:    "out.mp4",
		MediaType: MediaTypeVideo,
		Operations: []Operation{
			{Type: OpInput, Path: "in.mp4"},
			{Type: OpResize, Width: Px(640), Height: Auto()},
			{Type: OpSave, Path: "out.mp4"},
		},
	}

	other := base.WithPaths("a.mov", "b.mov")
	assert.Equal(t, "a.mov", other.Operations[0].Path)
	assert.Equal(t, "b.mov", other.Operations[2].Path)
	assert.Equal(t, "b.mov", other.Output)

	assert.Equal(t, "in.mp4", base.Operations[0].Path)
	assert.Equal(t, "out.mp4", base.Output)
	assert.True(t, base.HasOutput())
}

func TestResult_JSON(t *testing.T) {
	b, err := json.Marshal(Failed(errors.New("boom")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"boom"}`, string(b))

	var r Result
	require.NoError(t, json.Unmarshal([]byte(`{"success":true,"output":"x.mp4"}`), &r))
	assert.Equal(t, *Succeeded("x.mp4"), r)
}

func TestNewProgress(t *testing.T) {
	assert.Equal(t, Progress{Percent: 33, Current: 1, Total: 3}, NewProgress(1, 3))
	assert.Equal(t, Progress{Percent: 67, Current: 2, Total: 3}, NewProgress(2, 3))
	assert.Equal(t, Progress{Percent: 100, Current: 3, Total: 3}, NewProgress(3, 3))
	assert.Equal(t, Progress{Percent: 50, Current: 1, Total: 2}, NewProgress(1, 2))
}

func TestMediaType(t *testing.T) {
	mt, err := ParseMediaType("Video")
	require.NoError(t, err)
	assert.Equal(t, MediaTypeVideo, mt)

	_, err = ParseMediaType("hologram")
	assert.Error(t, err)

	assert.Equal(t, MediaTypeAudio, DetectMediaType("song.FLAC"))
	assert.Equal(t, MediaTypeImage, DetectMediaType("s3://bucket/pic.jpg?versionId=3"))
	assert.Equal(t, MediaTypeAuto, DetectMediaType("blob.bin"))
	assert.Equal(t, MediaTypeVideo, ResolveMediaType(MediaTypeAuto, "clip.mkv"))
	assert.Equal(t, MediaTypeAudio, ResolveMediaType(MediaTypeAudio, "clip.mkv"))
}
