// Package storage defines interfaces for staging storage operations.
//
// Staging storage is path addressed. Every write replaces what was at the
// path before, so a retried step overwrites its earlier partial output.
package storage

import (
	"context"

	"github.com/jittakal/kafbridge/pkg/segment"
)

// File describes one staged file.
type File struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Fingerprint string `json:"fingerprint"`
}

// Writer writes staged flat-table files and small metadata objects.
type Writer interface {
	// WriteRows encodes rows into a single file at path (without extension)
	// and describes the file written.
	WriteRows(ctx context.Context, path string, schema segment.Schema, rows []segment.ParsedRow) (File, error)

	// PutObject stores data at path, replacing any previous object.
	PutObject(ctx context.Context, path string, data []byte) error

	// GetObject returns the object at path or errors.ErrManifestNotFound
	// wrapped in a StorageError when it does not exist.
	GetObject(ctx context.Context, path string) ([]byte, error)

	// Purge removes every object below prefix.
	Purge(ctx context.Context, prefix string) error

	// Close closes the writer and releases resources.
	Close() error
}

// Router determines staging paths for flat tables.
type Router interface {
	// Route returns the staging directory of a segment's flat table for a job.
	Route(jobID, table, segmentID string) string
}
