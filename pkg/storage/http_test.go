package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStorage_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("test file content"))
	}))
	defer server.Close()

	reader, err := NewHTTPStorage().Get(context.Background(), server.URL+"/test.mp4")
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "test file content", string(content))
}

func TestHTTPStorage_Get_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	reader, err := NewHTTPStorage().Get(context.Background(), server.URL+"/notfound.mp4")
	assert.Nil(t, reader)
	assert.ErrorContains(t, err, "404")
}

func TestHTTPStorage_DoesNotFollowRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/latest/meta-data", http.StatusFound)
	}))
	defer server.Close()

	_, err := NewHTTPStorage().Get(context.Background(), server.URL+"/a.mp4")
	assert.ErrorContains(t, err, "302")
}

func TestHTTPStorage_SizeLimit(t *testing.T) {
	body := strings.Repeat("x", 64)

	declared := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer declared.Close()

	hs := NewHTTPStorageWithClient(declared.Client(), 16)
	_, err := hs.Get(context.Background(), declared.URL+"/big.mp4")
	assert.True(t, errors.Is(err, ErrTooLarge))

	streamed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.(http.Flusher).Flush()
		w.Write([]byte(body))
	}))
	defer streamed.Close()

	hs = NewHTTPStorageWithClient(streamed.Client(), 16)
	reader, err := hs.Get(context.Background(), streamed.URL+"/big.mp4")
	require.NoError(t, err)
	defer reader.Close()
	_, err = io.ReadAll(reader)
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestHTTPStorage_Put_NotSupported(t *testing.T) {
	err := NewHTTPStorage().Put(context.Background(), "https://example.com/file.mp4", nil)
	assert.ErrorContains(t, err, "not supported")
}

func TestHTTPStorage_Exists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && r.URL.Path == "/exists.mp4" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	storage := NewHTTPStorage()
	ctx := context.Background()

	exists, err := storage.Exists(ctx, server.URL+"/exists.mp4")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = storage.Exists(ctx, server.URL+"/notfound.mp4")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = storage.Exists(ctx, "s3://bucket/key")
	assert.Error(t, err)
}
