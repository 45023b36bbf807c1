// Package validator checks segment offsets before they are committed.
package validator

import (
	"fmt"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// OffsetsValidator validates segment offsets.
type OffsetsValidator struct{}

// NewOffsetsValidator creates a new offsets validator.
func NewOffsetsValidator() *OffsetsValidator {
	return &OffsetsValidator{}
}

// Validate checks that every range is well formed and that each partition
// appears exactly once.
func (v *OffsetsValidator) Validate(segmentID string, offsets segment.Offsets) error {
	if len(offsets) == 0 {
		return &errors.ConsistencyError{
			SegmentID: segmentID,
			Partition: -1,
			Reason:    "offsets are empty",
		}
	}

	seen := make(map[int32]struct{}, len(offsets))
	for _, r := range offsets {
		if r.Partition < 0 {
			return &errors.ConsistencyError{
				SegmentID: segmentID,
				Partition: r.Partition,
				Reason:    "negative partition id",
			}
		}

		if _, dup := seen[r.Partition]; dup {
			return &errors.ConsistencyError{
				SegmentID: segmentID,
				Partition: r.Partition,
				Reason:    "partition listed more than once",
			}
		}
		seen[r.Partition] = struct{}{}

		if r.Start < 0 {
			return &errors.ConsistencyError{
				SegmentID: segmentID,
				Partition: r.Partition,
				Reason:    fmt.Sprintf("negative start offset %d", r.Start),
			}
		}

		if r.Start > r.End {
			return &errors.ConsistencyError{
				SegmentID: segmentID,
				Partition: r.Partition,
				Reason:    fmt.Sprintf("start offset %d is after end offset %d", r.Start, r.End),
			}
		}
	}

	return nil
}

// ValidateContinuation checks that next starts exactly where prior ended on
// every partition they share.
func (v *OffsetsValidator) ValidateContinuation(segmentID string, prior, next segment.Offsets) error {
	for _, r := range next {
		p, ok := prior.Range(r.Partition)
		if !ok {
			continue
		}
		if r.Start != p.End {
			return &errors.ConsistencyError{
				SegmentID: segmentID,
				Partition: r.Partition,
				Reason:    fmt.Sprintf("start offset %d does not continue prior end offset %d", r.Start, p.End),
			}
		}
	}
	return nil
}
