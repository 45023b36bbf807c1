package materialize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/segment"
	"github.com/jittakal/kafbridge/pkg/storage"
)

// ManifestName is the object written last into a staging directory. Its
// presence marks the staged flat table as complete.
const ManifestName = "_manifest.json"

// Manifest summarizes one materialization run.
type Manifest struct {
	SegmentID    string            `json:"segment_id"`
	Table        string            `json:"table"`
	Topic        string            `json:"topic"`
	Format       string            `json:"format"`
	Rows         int64             `json:"rows"`
	Rejected     int64             `json:"rejected"`
	MinTimestamp *time.Time        `json:"min_timestamp,omitempty"`
	MaxTimestamp *time.Time        `json:"max_timestamp,omitempty"`
	Partitions   []PartitionResult `json:"partitions"`
	Files        []storage.File    `json:"files"`
}

// PartitionResult is the outcome of one partition range.
type PartitionResult struct {
	Partition    int32      `json:"partition"`
	Start        int64      `json:"start"`
	End          int64      `json:"end"`
	Read         int64      `json:"read"`
	Rows         int64      `json:"rows"`
	Rejected     int64      `json:"rejected"`
	MinTimestamp *time.Time `json:"min_timestamp,omitempty"`
	MaxTimestamp *time.Time `json:"max_timestamp,omitempty"`
	Files        []string   `json:"files,omitempty"`
}

// Offsets returns the ranges the manifest was built from.
func (m *Manifest) Offsets() segment.Offsets {
	ranges := make([]segment.PartitionOffsetRange, len(m.Partitions))
	for i, p := range m.Partitions {
		ranges[i] = segment.PartitionOffsetRange{Partition: p.Partition, Start: p.Start, End: p.End}
	}
	return segment.NewOffsets(ranges...)
}

// ManifestPath returns the manifest location inside dir.
func ManifestPath(dir string) string {
	return strings.TrimSuffix(dir, "/") + "/" + ManifestName
}

// ObjectReader reads staged objects.
type ObjectReader interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// ReadManifest loads the manifest of dir. A missing manifest means the
// materialization never completed.
func ReadManifest(ctx context.Context, reader ObjectReader, dir string) (*Manifest, error) {
	data, err := reader.GetObject(ctx, ManifestPath(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest of %s: %w", dir, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &errors.StorageError{Operation: "decode", Path: ManifestPath(dir), Err: err}
	}
	return &m, nil
}

func encodeManifest(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// timeBounds tracks the smallest and largest non-zero timestamps seen.
type timeBounds struct {
	min, max time.Time
}

func (b *timeBounds) observe(ts time.Time) {
	if ts.IsZero() {
		return
	}
	ts = ts.UTC()
	if b.min.IsZero() || ts.Before(b.min) {
		b.min = ts
	}
	if b.max.IsZero() || ts.After(b.max) {
		b.max = ts
	}
}

func (b *timeBounds) merge(other timeBounds) {
	b.observe(other.min)
	b.observe(other.max)
}

func (b *timeBounds) pointers() (*time.Time, *time.Time) {
	if b.min.IsZero() {
		return nil, nil
	}
	lo, hi := b.min, b.max
	return &lo, &hi
}
