// Package buffer implements row buffering for chunked staging writes.
package buffer

import (
	"fmt"
	"sync"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/buffer"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// Ensure implementation satisfies interface at compile time.
var _ buffer.Buffer = (*PartitionBuffer)(nil)

// PartitionBuffer buffers parsed rows of a single source partition.
// It provides thread-safe buffering with size limits and record count limits.
type PartitionBuffer struct {
	partition    int32
	rows         []segment.ParsedRow
	maxSizeBytes int64
	maxRecords   int
	currentSize  int64
	firstOffset  int64
	lastOffset   int64
	mu           sync.RWMutex
}

// New creates a new partition buffer.
func New(partition int32, maxSizeBytes int64, maxRecords int) *PartitionBuffer {
	return &PartitionBuffer{
		partition:    partition,
		rows:         make([]segment.ParsedRow, 0, maxRecords),
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
		firstOffset:  -1,
		lastOffset:   -1,
	}
}

// Add adds a row to the buffer.
func (b *PartitionBuffer) Add(row segment.ParsedRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rowSize := int64(estimateSize(row))

	if len(b.rows) >= b.maxRecords {
		return fmt.Errorf("%w: max records (%d) reached", errors.ErrBufferFull, b.maxRecords)
	}

	// An empty buffer always accepts one row so oversized rows still flush.
	if b.maxSizeBytes > 0 && len(b.rows) > 0 && b.currentSize+rowSize > b.maxSizeBytes {
		return fmt.Errorf("%w: max size (%d bytes) would be exceeded", errors.ErrBufferFull, b.maxSizeBytes)
	}

	b.rows = append(b.rows, row)
	b.currentSize += rowSize

	if b.firstOffset < 0 {
		b.firstOffset = row.Offset
	}
	b.lastOffset = row.Offset

	return nil
}

// Drain removes and returns all rows from the buffer.
// The returned slice is owned by the caller.
func (b *PartitionBuffer) Drain() []segment.ParsedRow {
	b.mu.Lock()
	defer b.mu.Unlock()

	rows := b.rows
	b.reset()
	return rows
}

// Stats returns current buffer statistics.
func (b *PartitionBuffer) Stats() buffer.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return buffer.Stats{
		RecordCount: len(b.rows),
		SizeBytes:   b.currentSize,
		FirstOffset: b.firstOffset,
		LastOffset:  b.lastOffset,
	}
}

// IsEmpty returns true if the buffer is empty.
func (b *PartitionBuffer) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rows) == 0
}

// Reset clears the buffer and resets all statistics.
func (b *PartitionBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *PartitionBuffer) reset() {
	b.rows = make([]segment.ParsedRow, 0, b.maxRecords)
	b.currentSize = 0
	b.firstOffset = -1
	b.lastOffset = -1
}

// estimateSize estimates the encoded size of a row in bytes.
func estimateSize(row segment.ParsedRow) int {
	size := 0
	for _, v := range row.Values {
		size += len(v) + 1
	}
	return size
}

// Manager manages buffers for multiple partitions.
// It provides thread-safe access to partition-specific buffers, creating them on-demand.
type Manager struct {
	buffers      map[int32]*PartitionBuffer
	maxSizeBytes int64
	maxRecords   int
	mu           sync.RWMutex
}

// NewManager creates a new buffer manager.
func NewManager(maxSizeBytes int64, maxRecords int) *Manager {
	return &Manager{
		buffers:      make(map[int32]*PartitionBuffer),
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
	}
}

// GetOrCreate returns a buffer for the partition, creating if needed.
func (m *Manager) GetOrCreate(partition int32) buffer.Buffer {
	m.mu.RLock()
	buf, exists := m.buffers[partition]
	m.mu.RUnlock()

	if exists {
		return buf
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if buf, exists := m.buffers[partition]; exists {
		return buf
	}

	buf = New(partition, m.maxSizeBytes, m.maxRecords)
	m.buffers[partition] = buf
	return buf
}

// Remove drops the buffer of a partition.
func (m *Manager) Remove(partition int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, partition)
}
