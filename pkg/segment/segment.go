// Package segment defines the core types shared by the ingestion bridge.
//
// A segment is a bounded, versioned slice of a cube's data. For a streaming
// source it is described by the per-partition offset ranges it consumed and
// the logical time range those messages cover.
package segment

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle status of a segment.
type Status string

const (
	StatusNew          Status = "NEW"
	StatusSeeked       Status = "SEEKED"
	StatusMaterialized Status = "MATERIALIZED"
	StatusReady        Status = "READY"
	StatusFailed       Status = "FAILED"
)

// Sealed reports whether the segment's offsets can no longer change.
func (s Status) Sealed() bool {
	return s == StatusMaterialized || s == StatusReady
}

// PartitionOffsetRange is a half-open offset range [Start, End) of one partition.
type PartitionOffsetRange struct {
	Partition int32 `json:"partition"`
	Start     int64 `json:"start"`
	End       int64 `json:"end"`
}

// Len returns the number of offsets covered by the range.
func (r PartitionOffsetRange) Len() int64 {
	return r.End - r.Start
}

// Contains reports whether offset falls inside the range.
func (r PartitionOffsetRange) Contains(offset int64) bool {
	return offset >= r.Start && offset < r.End
}

func (r PartitionOffsetRange) String() string {
	return fmt.Sprintf("%d:[%d,%d)", r.Partition, r.Start, r.End)
}

// Offsets is the set of ranges consumed by one segment, one per partition,
// ordered by partition id.
type Offsets []PartitionOffsetRange

// NewOffsets returns a copy of ranges sorted by partition.
func NewOffsets(ranges ...PartitionOffsetRange) Offsets {
	out := make(Offsets, len(ranges))
	copy(out, ranges)
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out
}

// Range returns the range of partition p.
func (o Offsets) Range(p int32) (PartitionOffsetRange, bool) {
	for _, r := range o {
		if r.Partition == p {
			return r, true
		}
	}
	return PartitionOffsetRange{}, false
}

// Partitions returns the partition ids in order.
func (o Offsets) Partitions() []int32 {
	ids := make([]int32, len(o))
	for i, r := range o {
		ids[i] = r.Partition
	}
	return ids
}

// TotalStart is the sum of all start offsets.
func (o Offsets) TotalStart() int64 {
	var total int64
	for _, r := range o {
		total += r.Start
	}
	return total
}

// TotalEnd is the sum of all end offsets.
func (o Offsets) TotalEnd() int64 {
	var total int64
	for _, r := range o {
		total += r.End
	}
	return total
}

// MessageCount is the number of offsets covered across partitions.
func (o Offsets) MessageCount() int64 {
	return o.TotalEnd() - o.TotalStart()
}

// IsEmpty reports whether no partition range covers any offset.
func (o Offsets) IsEmpty() bool {
	return o.MessageCount() == 0
}

// Equal reports whether both sets hold the same ranges.
func (o Offsets) Equal(other Offsets) bool {
	if len(o) != len(other) {
		return false
	}
	a, b := NewOffsets(o...), NewOffsets(other...)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (o Offsets) String() string {
	parts := make([]string, len(o))
	for i, r := range o {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// TimeRange is the logical time span [Start, End) of a segment.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether the range was never set.
func (t TimeRange) IsZero() bool {
	return t.Start.IsZero() && t.End.IsZero()
}

// Union returns the smallest range covering both t and other.
func (t TimeRange) Union(other TimeRange) TimeRange {
	if t.IsZero() {
		return other
	}
	if other.IsZero() {
		return t
	}
	out := t
	if other.Start.Before(out.Start) {
		out.Start = other.Start
	}
	if other.End.After(out.End) {
		out.End = other.End
	}
	return out
}

// Segment is the metadata record of one segment.
type Segment struct {
	ID         string    `json:"id"`
	Cube       string    `json:"cube"`
	Table      string    `json:"table"`
	Status     Status    `json:"status"`
	LastStep   string    `json:"last_step,omitempty"`
	Offsets    Offsets   `json:"offsets,omitempty"`
	TimeRange  TimeRange `json:"time_range"`
	MergedFrom []string  `json:"merged_from,omitempty"`
	BuildJobID string    `json:"build_job_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Name returns the conventional segment name derived from its offsets.
func (s *Segment) Name() string {
	return fmt.Sprintf("%d_%d", s.Offsets.TotalStart(), s.Offsets.TotalEnd())
}

// RawMessage is a single message read from a source partition.
type RawMessage struct {
	Partition int32
	Offset    int64
	Key       []byte
	Payload   []byte
	Timestamp time.Time
}

// ColumnRef names one column of the flat table.
type ColumnRef struct {
	Name string `mapstructure:"name" json:"name"`
	Type string `mapstructure:"type" json:"type,omitempty"`
}

// Schema is the ordered list of columns produced by a parser.
type Schema []ColumnRef

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// ParsedRow is a decoded message. Values follow the schema order.
type ParsedRow struct {
	Partition int32
	Offset    int64
	Timestamp time.Time
	Values    []string
}
