package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/chicogong/affect/pkg/compiler/validator"
	"github.com/chicogong/affect/pkg/schemas"
	"github.com/chicogong/affect/pkg/storage"
)

// StorageManager stages remote inputs into a temp directory before a run
// and publishes local results to remote destinations afterwards
type StorageManager struct {
	mux      *storage.Mux
	resolver validator.Resolver
	tempRoot string
	logger   *zap.Logger
}

// StorageOption configures a StorageManager
type StorageOption func(*StorageManager)

// WithMux sets the storage router
func WithMux(m *storage.Mux) StorageOption {
	return func(sm *StorageManager) {
		sm.mux = m
	}
}

// WithResolver sets the DNS resolver used for address checks on HTTP inputs
func WithResolver(r validator.Resolver) StorageOption {
	return func(sm *StorageManager) {
		sm.resolver = r
	}
}

// WithTempRoot sets the parent of per-run temp directories
func WithTempRoot(dir string) StorageOption {
	return func(sm *StorageManager) {
		sm.tempRoot = dir
	}
}

// WithStorageLogger sets the logger
func WithStorageLogger(l *zap.Logger) StorageOption {
	return func(sm *StorageManager) {
		sm.logger = l
	}
}

// NewStorageManager creates a new storage manager
func NewStorageManager(opts ...StorageOption) *StorageManager {
	sm := &StorageManager{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(sm)
	}
	if sm.mux == nil {
		sm.mux = storage.NewMux(storage.S3Config{})
	}
	sm.logger = sm.logger.With(zap.String("component", "storage"))
	return sm
}

// IsRemote reports whether uri must be staged through a storage backend.
// Plain paths and file:// URIs are local.
func IsRemote(uri string) bool {
	if !storage.IsURI(uri) {
		return false
	}
	scheme, _, err := storage.ParseURI(uri)
	return err == nil && scheme != "file"
}

// localPath maps plain paths and file:// URIs onto the filesystem
func localPath(uri string) (string, error) {
	if !storage.IsURI(uri) {
		return uri, nil
	}
	scheme, p, err := storage.ParseURI(uri)
	if err != nil {
		return "", err
	}
	if scheme != "file" {
		return "", fmt.Errorf("not a local URI: %s", uri)
	}
	return p, nil
}

// Staging is the result of staging one execution context
type Staging struct {
	// Context is bound to local paths
	Context *schemas.ExecutionContext

	sm      *StorageManager
	tempDir string
	upload  string
	destURI string
}

// Stage downloads a remote input and redirects a remote output to a temp
// file. HTTP inputs must resolve to public addresses.
func (sm *StorageManager) Stage(ctx context.Context, ectx *schemas.ExecutionContext) (*Staging, error) {
	st := &Staging{sm: sm}
	input, output := ectx.Input, ectx.Output

	if IsRemote(input) || IsRemote(output) {
		dir, err := os.MkdirTemp(sm.tempRoot, "affect-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp directory: %w", err)
		}
		st.tempDir = dir
	}

	if IsRemote(input) {
		if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
			if err := validator.ValidateHTTPURI(ctx, input, sm.resolver); err != nil {
				st.Cleanup()
				return nil, err
			}
		}
		local, err := sm.DownloadInput(ctx, input, st.tempDir)
		if err != nil {
			st.Cleanup()
			return nil, err
		}
		input = local
	} else {
		local, err := localPath(input)
		if err != nil {
			return nil, err
		}
		input = local
	}

	switch {
	case output == "":
	case IsRemote(output):
		// outputs get their own directory so a same-named input is never overwritten
		outDir := filepath.Join(st.tempDir, "out")
		if err := os.Mkdir(outDir, 0o755); err != nil {
			st.Cleanup()
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		st.upload = filepath.Join(outDir, remoteBase(output, "output"+schemas.Extension(output)))
		st.destURI = output
		output = st.upload
	default:
		local, err := localPath(output)
		if err != nil {
			st.Cleanup()
			return nil, err
		}
		output = local
	}

	st.Context = ectx.WithPaths(input, output)
	return st, nil
}

// Publish uploads the staged output, if any
func (st *Staging) Publish(ctx context.Context) error {
	if st.destURI == "" {
		return nil
	}
	return st.sm.UploadOutput(ctx, st.upload, st.destURI)
}

// Cleanup removes the staging directory
func (st *Staging) Cleanup() {
	if st.tempDir == "" {
		return
	}
	if err := st.sm.CleanupTempDir(st.tempDir); err != nil {
		st.sm.logger.Warn("temp cleanup failed", zap.String("dir", st.tempDir), zap.Error(err))
	}
	st.tempDir = ""
}

// remoteBase returns the last path element of a URI without its query
func remoteBase(uri, fallback string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	_, p, err := storage.ParseURI(uri)
	if err != nil {
		return fallback
	}
	name := path.Base(p)
	if name == "" || name == "." || name == "/" || !strings.Contains(p, "/") {
		return fallback
	}
	return name
}

// DownloadInput downloads a remote file into tempDir and returns the local
// path
func (sm *StorageManager) DownloadInput(ctx context.Context, uri, tempDir string) (string, error) {
	stor, err := sm.mux.For(ctx, uri)
	if err != nil {
		return "", err
	}

	tempPath := filepath.Join(tempDir, remoteBase(uri, "input"+schemas.Extension(uri)))

	reader, err := stor.Get(ctx, uri)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", uri, err)
	}
	defer reader.Close()

	tempFile, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tempFile.Close()

	n, err := io.Copy(tempFile, reader)
	if err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	sm.logger.Debug("input staged", zap.String("uri", uri), zap.String("path", tempPath), zap.Int64("bytes", n))
	return tempPath, nil
}

// UploadOutput uploads a local file to a remote destination
func (sm *StorageManager) UploadOutput(ctx context.Context, localFile, destURI string) error {
	stor, err := sm.mux.For(ctx, destURI)
	if err != nil {
		return err
	}

	file, err := os.Open(localFile)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	if err := stor.Put(ctx, destURI, file); err != nil {
		return fmt.Errorf("failed to upload to %s: %w", destURI, err)
	}

	sm.logger.Debug("output published", zap.String("uri", destURI))
	return nil
}

// CleanupTempDir removes temporary directory and all its contents
func (sm *StorageManager) CleanupTempDir(tempDir string) error {
	if tempDir == "" || tempDir == "/" || tempDir == "." {
		return fmt.Errorf("invalid temp directory: %s", tempDir)
	}

	if !strings.Contains(filepath.Base(tempDir), "affect-") {
		return fmt.Errorf("refusing to cleanup non-staging directory: %s", tempDir)
	}

	return os.RemoveAll(tempDir)
}
