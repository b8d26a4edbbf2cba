package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_GetPut(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "nested", "test.txt")
	storage := NewLocalStorage()
	ctx := context.Background()

	uri := "file://" + testFile
	require.NoError(t, storage.Put(ctx, uri, strings.NewReader("hello world")))
	assert.FileExists(t, testFile)

	reader, err := storage.Get(ctx, uri)
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
}

func TestLocalStorage_PlainPaths(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "plain.txt")
	storage := NewLocalStorage()
	ctx := context.Background()

	require.NoError(t, storage.Put(ctx, testFile, strings.NewReader("v1")))
	require.NoError(t, storage.Put(ctx, testFile, strings.NewReader("v2")))

	data, err := os.ReadFile(testFile)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are renamed away")
}

func TestLocalStorage_Exists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "existing.txt")
	require.NoError(t, os.WriteFile(existingFile, []byte("test"), 0644))

	storage := NewLocalStorage()
	ctx := context.Background()

	exists, err := storage.Exists(ctx, "file://"+existingFile)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = storage.Exists(ctx, filepath.Join(tmpDir, "nonexistent.txt"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorage_Delete(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "delete-me.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("test"), 0644))

	storage := NewLocalStorage()
	ctx := context.Background()

	require.NoError(t, storage.Delete(ctx, "file://"+testFile))
	_, err := os.Stat(testFile)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, storage.Delete(ctx, testFile), "deleting a missing file is not an error")
}

func TestLocalStorage_RejectsOtherSchemes(t *testing.T) {
	_, err := NewLocalStorage().Get(context.Background(), "s3://bucket/key")
	assert.ErrorContains(t, err, "only supports file://")
}
