// Package buffer defines interfaces for row buffering operations.
//
// Buffers batch parsed rows of one partition before they are written to
// staging storage as a chunk file.
package buffer

import "github.com/jittakal/kafbridge/pkg/segment"

// Stats describes the buffered rows.
type Stats struct {
	RecordCount int
	SizeBytes   int64
	FirstOffset int64
	LastOffset  int64
}

// Buffer manages buffering of rows before storage.
// All implementations must be thread-safe.
type Buffer interface {
	// Add adds a row to the buffer.
	// Returns an error if the buffer is full or capacity would be exceeded.
	Add(row segment.ParsedRow) error

	// Drain removes and returns all rows from the buffer.
	Drain() []segment.ParsedRow

	// Stats returns current buffer statistics without modifying the buffer.
	Stats() Stats

	// IsEmpty returns true if the buffer contains no rows.
	IsEmpty() bool

	// Reset clears the buffer and resets all statistics.
	Reset()
}
