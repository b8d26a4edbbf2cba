package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxDownload caps HTTP downloads at 4 GiB
const DefaultMaxDownload int64 = 4 << 30

// ErrTooLarge is returned when a download exceeds the configured limit
var ErrTooLarge = errors.New("download exceeds size limit")

// HTTPStorage implements read-only Storage over HTTP/HTTPS
type HTTPStorage struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPStorage creates a new HTTP storage backend
func NewHTTPStorage() *HTTPStorage {
	return NewHTTPStorageWithClient(&http.Client{
		// redirects could lead to addresses that were never checked
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, DefaultMaxDownload)
}

// NewHTTPStorageWithClient creates an HTTP backend with a custom client and
// download limit. A non-positive limit disables the cap.
func NewHTTPStorageWithClient(client *http.Client, maxBytes int64) *HTTPStorage {
	return &HTTPStorage{client: client, maxBytes: maxBytes}
}

func checkHTTP(uri string) error {
	scheme, _, err := ParseURI(uri)
	if err != nil {
		return err
	}
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("HTTP storage only supports http:// and https:// URIs, got %s://", scheme)
	}
	return nil
}

// Get downloads a file over HTTP/HTTPS
func (hs *HTTPStorage) Get(ctx context.Context, uri string) (io.ReadCloser, error) {
	if err := checkHTTP(uri); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := hs.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP request failed with status %d", resp.StatusCode)
	}
	if hs.maxBytes > 0 && resp.ContentLength > hs.maxBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	if hs.maxBytes <= 0 {
		return resp.Body, nil
	}
	return &limitedBody{r: io.LimitReader(resp.Body, hs.maxBytes+1), c: resp.Body, left: hs.maxBytes}, nil
}

// limitedBody fails reads once more than left bytes were served
type limitedBody struct {
	r    io.Reader
	c    io.Closer
	left int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

func (b *limitedBody) Close() error {
	return b.c.Close()
}

// Put is not supported for HTTP storage (read-only)
func (hs *HTTPStorage) Put(ctx context.Context, uri string, data io.Reader) error {
	return fmt.Errorf("Put operation not supported for HTTP storage (read-only)")
}

// Delete is not supported for HTTP storage (read-only)
func (hs *HTTPStorage) Delete(ctx context.Context, uri string) error {
	return fmt.Errorf("HTTP storage does not support Delete operations (read-only)")
}

// Exists checks if a file exists by sending a HEAD request
func (hs *HTTPStorage) Exists(ctx context.Context, uri string) (bool, error) {
	if err := checkHTTP(uri); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := hs.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}
