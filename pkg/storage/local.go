package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage implements Storage for the local filesystem. It accepts
// file:// URIs and plain paths.
type LocalStorage struct{}

// NewLocalStorage creates a new local storage backend
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{}
}

func (ls *LocalStorage) path(uri string) (string, error) {
	if !IsURI(uri) {
		if uri == "" {
			return "", fmt.Errorf("URI cannot be empty")
		}
		return uri, nil
	}

	scheme, path, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if scheme != "file" {
		return "", fmt.Errorf("local storage only supports file:// URIs, got %s://", scheme)
	}
	return path, nil
}

// Get reads a local file
func (ls *LocalStorage) Get(ctx context.Context, uri string) (io.ReadCloser, error) {
	path, err := ls.path(uri)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Put writes data atomically: it is written to a sibling temp file and
// renamed into place
func (ls *LocalStorage) Put(ctx context.Context, uri string, data io.Reader) error {
	path, err := ls.path(uri)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// Delete removes a local file
func (ls *LocalStorage) Delete(ctx context.Context, uri string) error {
	path, err := ls.path(uri)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists checks if a local file exists
func (ls *LocalStorage) Exists(ctx context.Context, uri string) (bool, error) {
	path, err := ls.path(uri)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
