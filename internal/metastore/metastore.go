// Package metastore implements the segment metadata stores: an in-memory
// store for tests and one-shot runs, a JSON file store, and an etcd store
// for deployments where several runners share segments.
package metastore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// mutation changes one segment record in place.
type mutation func(seg *segment.Segment) error

func setOffsets(offsets segment.Offsets) mutation {
	return func(seg *segment.Segment) error {
		if seg.Status.Sealed() {
			return &errors.ConsistencyError{
				SegmentID: seg.ID,
				Partition: -1,
				Reason:    fmt.Sprintf("offsets of a %s segment cannot change", seg.Status),
			}
		}
		seg.Offsets = cloneOffsets(offsets)
		return nil
	}
}

func setTimeRange(tr segment.TimeRange) mutation {
	return func(seg *segment.Segment) error {
		if !tr.IsZero() && !tr.Start.Before(tr.End) {
			return &errors.ConsistencyError{
				SegmentID: seg.ID,
				Partition: -1,
				Reason:    fmt.Sprintf("time range start %s is not before end %s", tr.Start, tr.End),
			}
		}
		seg.TimeRange = tr
		return nil
	}
}

func setStatus(status segment.Status, step string) mutation {
	return func(seg *segment.Segment) error {
		seg.Status = status
		if step != "" {
			seg.LastStep = step
		}
		return nil
	}
}

func cloneOffsets(o segment.Offsets) segment.Offsets {
	if o == nil {
		return nil
	}
	out := make(segment.Offsets, len(o))
	copy(out, o)
	return out
}

func cloneSegment(seg *segment.Segment) *segment.Segment {
	out := *seg
	out.Offsets = cloneOffsets(seg.Offsets)
	if seg.MergedFrom != nil {
		out.MergedFrom = append([]string(nil), seg.MergedFrom...)
	}
	return &out
}

// prepare validates a record before it is stored and stamps its times.
func prepare(seg *segment.Segment, now time.Time) (*segment.Segment, error) {
	if err := validateID(seg.ID); err != nil {
		return nil, err
	}
	if seg.Cube == "" {
		return nil, &errors.ConfigurationError{
			Component: "metastore",
			Reason:    fmt.Sprintf("segment %s has no cube", seg.ID),
		}
	}
	out := cloneSegment(seg)
	if out.Status == "" {
		out.Status = segment.StatusNew
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out, nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return &errors.ConfigurationError{
			Component: "metastore",
			Reason:    fmt.Sprintf("invalid segment id %q", id),
		}
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("segment %s: %w", id, errors.ErrSegmentNotFound)
}

func claimed(id, holder string) error {
	return fmt.Errorf("segment %s is claimed by job %s: %w", id, holder, errors.ErrBuildInProgress)
}

// sortSegments orders segments by start offsets, then id.
func sortSegments(segs []*segment.Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		a, b := segs[i].Offsets.TotalStart(), segs[j].Offsets.TotalStart()
		if a != b {
			return a < b
		}
		return segs[i].ID < segs[j].ID
	})
}

// LastReady returns the READY segment of cube with the highest end offsets,
// or nil when none exists. A fresh build continues from it.
func LastReady(segs []*segment.Segment) *segment.Segment {
	var last *segment.Segment
	for _, seg := range segs {
		if seg.Status != segment.StatusReady {
			continue
		}
		if last == nil || seg.Offsets.TotalEnd() > last.Offsets.TotalEnd() {
			last = seg
		}
	}
	return last
}

// Unfinished reports whether seg is a build that committed offsets but has
// not reached READY. Merges are excluded since they only cover READY ranges.
func Unfinished(seg *segment.Segment) bool {
	if len(seg.MergedFrom) > 0 || seg.Offsets == nil {
		return false
	}
	return seg.Status == segment.StatusSeeked || seg.Status == segment.StatusMaterialized
}
