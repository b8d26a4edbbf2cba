package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		scheme  string
		path    string
		wantErr bool
	}{
		{"https://example.com/video.mp4", "https", "example.com/video.mp4", false},
		{"s3://bucket/key/video.mp4", "s3", "bucket/key/video.mp4", false},
		{"file:///tmp/video.mp4", "file", "/tmp/video.mp4", false},
		{"gs://bucket/object", "gs", "bucket/object", false},
		{"invalid-uri", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			scheme, path, err := ParseURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, scheme)
			assert.Equal(t, tt.path, path)
		})
	}
}

func TestIsAllowedScheme(t *testing.T) {
	for scheme, allowed := range map[string]bool{
		"https": true,
		"http":  true,
		"s3":    true,
		"file":  true,
		"gs":    false,
		"ftp":   false,
		"":      false,
	} {
		assert.Equal(t, allowed, IsAllowedScheme(scheme), scheme)
	}
}

func TestMux_For(t *testing.T) {
	m := NewMux(S3Config{})
	ctx := context.Background()

	s, err := m.For(ctx, "clips/a.mp4")
	require.NoError(t, err)
	assert.Same(t, m.Local, s)

	s, err = m.For(ctx, "file:///tmp/a.mp4")
	require.NoError(t, err)
	assert.Same(t, m.Local, s)

	s, err = m.For(ctx, "https://cdn.example.com/a.mp4")
	require.NoError(t, err)
	assert.Same(t, m.HTTP, s)

	_, err = m.For(ctx, "gs://bucket/a.mp4")
	assert.ErrorContains(t, err, "unsupported URI scheme")

	fake := NewLocalStorage()
	m.SetS3(fake)
	s, err = m.For(ctx, "s3://bucket/a.mp4")
	require.NoError(t, err)
	assert.Same(t, fake, s)
}

func TestMux_S3InitFailure(t *testing.T) {
	m := &Mux{Local: NewLocalStorage(), HTTP: NewHTTPStorage()}
	_, err := m.For(context.Background(), "s3://bucket/a.mp4")
	assert.ErrorContains(t, err, "S3 storage not initialized")
}

func TestMux_ReadWriteAll(t *testing.T) {
	m := NewMux(S3Config{})
	ctx := context.Background()
	target := filepath.Join(t.TempDir(), "out", "pipeline.json")

	require.NoError(t, m.WriteAll(ctx, target, []byte(`{"version":1}`)))
	data, err := m.ReadAll(ctx, "file://"+target)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(data))

	_, err = os.Stat(target)
	assert.NoError(t, err)
}
