package offsets

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/internal/validator"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// Merger combines the offsets of contiguous segments.
type Merger struct {
	validator *validator.OffsetsValidator
	logger    *slog.Logger
}

// NewMerger creates a new offset merger.
func NewMerger(logger *slog.Logger) *Merger {
	return &Merger{
		validator: validator.NewOffsetsValidator(),
		logger:    logger,
	}
}

// Merge returns, per partition, the range [min start, max end) of inputs.
// The inputs must cover every partition identically and be contiguous per
// partition once ordered by start offset; a gap or overlap is a
// ConsistencyError. The result does not depend on the order of inputs.
func (m *Merger) Merge(segmentID string, inputs []segment.Offsets) (segment.Offsets, error) {
	if len(inputs) < 2 {
		return nil, &errors.ConfigurationError{
			Component: "merger",
			Reason:    fmt.Sprintf("merge needs at least two segments, got %d", len(inputs)),
		}
	}

	for _, in := range inputs {
		if err := m.validator.Validate(segmentID, in); err != nil {
			return nil, err
		}
	}

	partitions := inputs[0].Partitions()
	for i, in := range inputs[1:] {
		if !samePartitions(partitions, in.Partitions()) {
			return nil, &errors.ConfigurationError{
				Component: "merger",
				Reason:    fmt.Sprintf("segment %d covers partitions %v, expected %v", i+1, in.Partitions(), partitions),
				Err:       errors.ErrPartitionMismatch,
			}
		}
	}

	merged := make([]segment.PartitionOffsetRange, 0, len(partitions))
	for _, p := range partitions {
		ranges := make([]segment.PartitionOffsetRange, 0, len(inputs))
		for _, in := range inputs {
			r, _ := in.Range(p)
			ranges = append(ranges, r)
		}
		sort.Slice(ranges, func(i, j int) bool {
			if ranges[i].Start != ranges[j].Start {
				return ranges[i].Start < ranges[j].Start
			}
			return ranges[i].End < ranges[j].End
		})

		for i := 1; i < len(ranges); i++ {
			prev, cur := ranges[i-1], ranges[i]
			switch {
			case cur.Start > prev.End:
				return nil, &errors.ConsistencyError{
					SegmentID: segmentID,
					Partition: p,
					Reason:    fmt.Sprintf("gap between %s and %s", prev, cur),
				}
			case cur.Start < prev.End:
				return nil, &errors.ConsistencyError{
					SegmentID: segmentID,
					Partition: p,
					Reason:    fmt.Sprintf("overlap between %s and %s", prev, cur),
				}
			}
		}

		merged = append(merged, segment.PartitionOffsetRange{
			Partition: p,
			Start:     ranges[0].Start,
			End:       ranges[len(ranges)-1].End,
		})
	}

	out := segment.NewOffsets(merged...)
	m.logger.Info("merged segment offsets",
		"segment_id", segmentID,
		"inputs", len(inputs),
		"total_start", out.TotalStart(),
		"total_end", out.TotalEnd(),
	)
	return out, nil
}

// SortChronologically orders segments by their start offsets, the order in
// which a merge job must visit them.
func SortChronologically(segs []*segment.Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].Offsets.TotalStart() < segs[j].Offsets.TotalStart()
	})
}

func samePartitions(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
