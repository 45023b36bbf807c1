package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jittakal/kafbridge/internal/errors"
	pkgencoder "github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/jittakal/kafbridge/pkg/segment"
	pkgstorage "github.com/jittakal/kafbridge/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.Writer = (*FileWriter)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileWriter implements storage.Writer for local filesystem storage.
// Objects are written to a temporary file and renamed into place, so readers
// never observe a partial object.
type FileWriter struct {
	basePath string
	encoder  pkgencoder.Encoder
	logger   *slog.Logger
	metrics  MetricsCollector
	mu       sync.RWMutex
	closed   bool
}

// NewFileWriter creates a new filesystem storage writer.
func NewFileWriter(
	config FileConfig,
	encoding EncoderConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*FileWriter, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("file base path is required")
	}

	// Ensure base path exists
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	enc, err := newEncoder(encoding)
	if err != nil {
		return nil, err
	}

	logger.Info("filesystem writer created",
		"base_path", config.BasePath,
		"format", enc.Format(),
	)

	return &FileWriter{
		basePath: config.BasePath,
		encoder:  enc,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// localPath maps a staging path to a path below the base directory.
func (w *FileWriter) localPath(path string) string {
	clean := strings.TrimPrefix(path, "file://")
	return filepath.Join(w.basePath, filepath.FromSlash(clean))
}

// WriteRows encodes rows into path plus the format extension.
func (w *FileWriter) WriteRows(ctx context.Context, path string, schema segment.Schema, rows []segment.ParsedRow) (pkgstorage.File, error) {
	if err := ctx.Err(); err != nil {
		return pkgstorage.File{}, err
	}

	data, err := encodeRows(w.encoder, schema, rows)
	if err != nil {
		w.incErrors("encode")
		return pkgstorage.File{}, fmt.Errorf("failed to encode rows: %w", err)
	}

	final := path + w.encoder.FileExtension()
	if err := w.PutObject(ctx, final, data); err != nil {
		return pkgstorage.File{}, err
	}
	return newFile(final, data), nil
}

// PutObject writes data to path, replacing any previous file.
func (w *FileWriter) PutObject(ctx context.Context, path string, data []byte) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errors.ErrWriterClosed
	}

	startTime := time.Now()
	fullPath := w.localPath(path)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		w.incErrors("mkdir")
		return &errors.StorageError{Operation: "create", Path: fullPath, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-"+filepath.Base(fullPath)+"-*")
	if err != nil {
		w.incErrors("create")
		return &errors.StorageError{Operation: "create", Path: fullPath, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		w.incErrors("write")
		return &errors.StorageError{Operation: "write", Path: fullPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		w.incErrors("write")
		return &errors.StorageError{Operation: "write", Path: fullPath, Err: err}
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		w.incErrors("rename")
		return &errors.StorageError{Operation: "write", Path: fullPath, Err: err}
	}

	w.logger.Debug("wrote file",
		"path", fullPath,
		"file_size", len(data),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return nil
}

// GetObject reads the file at path.
func (w *FileWriter) GetObject(ctx context.Context, path string) ([]byte, error) {
	fullPath := w.localPath(path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.StorageError{Operation: "get", Path: fullPath, Err: errors.ErrManifestNotFound}
		}
		w.incErrors("read")
		return nil, &errors.StorageError{Operation: "read", Path: fullPath, Err: err}
	}
	return data, nil
}

// Purge removes the directory at prefix and everything below it.
func (w *FileWriter) Purge(ctx context.Context, prefix string) error {
	fullPath := w.localPath(prefix)
	if filepath.Clean(fullPath) == filepath.Clean(w.basePath) {
		return fmt.Errorf("refusing to purge the storage base path")
	}
	if err := os.RemoveAll(fullPath); err != nil {
		w.incErrors("delete")
		return &errors.StorageError{Operation: "delete", Path: fullPath, Err: err}
	}
	w.logger.Debug("purged staging directory", "path", fullPath)
	return nil
}

// Close closes the writer.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.logger.Info("closing filesystem writer")
	return nil
}

func (w *FileWriter) incErrors(op string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("file", op)
	}
}
