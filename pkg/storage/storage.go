// Package storage reads and writes media objects addressed by URI
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// AllowedSchemes is the whitelist of URI schemes a program may reference
var AllowedSchemes = []string{"https", "http", "s3", "file"}

// Storage is the interface for all storage backends
type Storage interface {
	// Get downloads a file from the given URI and returns a reader
	Get(ctx context.Context, uri string) (io.ReadCloser, error)

	// Put uploads data to the given URI
	Put(ctx context.Context, uri string, data io.Reader) error

	// Delete removes a file at the given URI
	Delete(ctx context.Context, uri string) error

	// Exists checks if a file exists at the given URI
	Exists(ctx context.Context, uri string) (bool, error)
}

// ParseURI parses a URI and returns scheme and path
func ParseURI(uri string) (scheme string, path string, err error) {
	if uri == "" {
		return "", "", fmt.Errorf("URI cannot be empty")
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid URI: %w", err)
	}

	if parsed.Scheme == "" {
		return "", "", fmt.Errorf("URI must have a scheme (e.g., https://, s3://)")
	}

	if parsed.Scheme == "file" {
		return parsed.Scheme, parsed.Path, nil
	}

	// s3://bucket/key and https://host/path both keep the host
	path = parsed.Host
	if parsed.Path != "" {
		path = path + parsed.Path
	}

	return parsed.Scheme, path, nil
}

// IsAllowedScheme checks if a URI scheme is in the whitelist
func IsAllowedScheme(scheme string) bool {
	for _, allowed := range AllowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

// IsURI reports whether s carries a scheme rather than being a plain path
func IsURI(s string) bool {
	return strings.Contains(s, "://")
}

// Mux routes URIs to a storage backend by scheme. Plain paths are served
// by the local backend. The S3 client is created on first use so runs that
// never touch S3 never load AWS configuration.
type Mux struct {
	Local *LocalStorage
	HTTP  *HTTPStorage

	s3     Storage
	s3Once sync.Once
	s3Err  error
	newS3  func(ctx context.Context) (*S3Storage, error)
}

// NewMux creates a mux. s3cfg configures the lazily created S3 client.
func NewMux(s3cfg S3Config) *Mux {
	return &Mux{
		Local: NewLocalStorage(),
		HTTP:  NewHTTPStorage(),
		newS3: func(ctx context.Context) (*S3Storage, error) {
			return NewS3Storage(ctx, s3cfg)
		},
	}
}

// SetS3 installs an S3 backend, replacing lazy initialisation
func (m *Mux) SetS3(s Storage) {
	m.s3Once.Do(func() {})
	m.s3 = s
}

// For returns the backend serving uri
func (m *Mux) For(ctx context.Context, uri string) (Storage, error) {
	if !IsURI(uri) {
		return m.Local, nil
	}
	scheme, _, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "file":
		return m.Local, nil
	case "http", "https":
		return m.HTTP, nil
	case "s3":
		m.s3Once.Do(func() {
			if m.newS3 == nil {
				m.s3Err = fmt.Errorf("no S3 configuration")
				return
			}
			m.s3, m.s3Err = m.newS3(ctx)
		})
		if m.s3Err != nil {
			return nil, fmt.Errorf("S3 storage not initialized (AWS credentials may be missing): %w", m.s3Err)
		}
		return m.s3, nil
	default:
		return nil, fmt.Errorf("unsupported URI scheme: %s", scheme)
	}
}

// ReadAll fetches the object at uri
func (m *Mux) ReadAll(ctx context.Context, uri string) ([]byte, error) {
	s, err := m.For(ctx, uri)
	if err != nil {
		return nil, err
	}
	r, err := s.Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteAll stores data at uri
func (m *Mux) WriteAll(ctx context.Context, uri string, data []byte) error {
	s, err := m.For(ctx, uri)
	if err != nil {
		return err
	}
	return s.Put(ctx, uri, bytes.NewReader(data))
}
