package storage

import (
	"context"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS3Object(t *testing.T) {
	tests := []struct {
		uri     string
		want    s3Object
		wantErr string
	}{
		{uri: "s3://media/raw/clip.mp4", want: s3Object{bucket: "media", key: "raw/clip.mp4"}},
		{uri: "s3://media/clip.mp4", want: s3Object{bucket: "media", key: "clip.mp4"}},
		{uri: "s3:///raw/clip.mp4", wantErr: "has no bucket"},
		{uri: "s3://media", wantErr: "has no object key"},
		{uri: "s3://media/raw/", wantErr: "has no object key"},
		{uri: "https://media/raw/clip.mp4", wantErr: "not an s3 URI"},
		{uri: "", wantErr: "cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := parseS3Object(tt.uri)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.uri, got.String())
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "video/mp4", contentType("done/clip.MP4"))
	assert.Equal(t, "video/x-matroska", contentType("done/clip.mkv"))
	assert.Equal(t, "audio/flac", contentType("podcast/ep1.flac"))
	assert.Equal(t, "image/png", contentType("thumbs/frame.png"))
	assert.Equal(t, "application/octet-stream", contentType("done/clip"))
}

// fakeS3 serves path-style requests from an in-memory bucket
type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string]string
	contentTypes map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := strings.TrimPrefix(r.URL.Path, "/")

	switch r.Method {
	case http.MethodPut:
		f.contentTypes[name] = r.Header.Get("Content-Type")
		f.objects[name] = ""
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		body, ok := f.objects[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if r.Method == http.MethodGet {
			io.WriteString(w, body)
		}
	}
}

func newFakeS3(t *testing.T, objects map[string]string) (*S3Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: objects, contentTypes: map[string]string{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	return NewS3StorageWithClient(s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(server.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})), fake
}

func TestS3Storage_StagesMedia(t *testing.T) {
	store, fake := newFakeS3(t, map[string]string{"media/raw/clip.mp4": "frames"})
	ctx := context.Background()

	reader, err := store.Get(ctx, "s3://media/raw/clip.mp4")
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	reader.Close()
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))

	require.NoError(t, store.Put(ctx, "s3://media/done/clip.mkv", strings.NewReader("encoded")))
	assert.Equal(t, "video/x-matroska", fake.contentTypes["media/done/clip.mkv"])

	exists, err := store.Exists(ctx, "s3://media/done/clip.mkv")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "s3://media/done/clip.mkv"))
	exists, err = store.Exists(ctx, "s3://media/done/clip.mkv")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3Storage_MissingObject(t *testing.T) {
	store, _ := newFakeS3(t, map[string]string{})

	_, err := store.Get(context.Background(), "s3://media/raw/gone.mp4")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorContains(t, err, "s3://media/raw/gone.mp4")

	exists, err := store.Exists(context.Background(), "s3://media/raw/gone.mp4")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(context.Background(), "s3://media")
	assert.ErrorContains(t, err, "has no object key")
}

func TestNewS3Storage(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	store, err := NewS3Storage(context.Background(), S3Config{
		Region:       "eu-west-1",
		Endpoint:     "http://minio.local:9000",
		UsePathStyle: true,
	})
	require.NoError(t, err)
	opts := store.client.Options()
	assert.Equal(t, "eu-west-1", opts.Region)
	assert.Equal(t, "http://minio.local:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)

	var _ Storage = store
}
