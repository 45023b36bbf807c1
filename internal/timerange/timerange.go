// Package timerange derives and commits the logical time range of a segment.
package timerange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/internal/materialize"
	"github.com/jittakal/kafbridge/pkg/metastore"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// Resolution is the granularity of message timestamps. A range ends one
// resolution step after its newest message.
const Resolution = time.Millisecond

// FromBounds returns [min, max+Resolution). Zero bounds give a zero range.
func FromBounds(min, max *time.Time) segment.TimeRange {
	if min == nil || max == nil {
		return segment.TimeRange{}
	}
	return segment.TimeRange{
		Start: min.UTC(),
		End:   max.UTC().Add(Resolution),
	}
}

// Finalizer commits segment time ranges.
type Finalizer struct {
	store  metastore.Store
	reader materialize.ObjectReader
	logger *slog.Logger
}

// New creates a finalizer. reader may be nil when only merges are finalized.
func New(store metastore.Store, reader materialize.ObjectReader, logger *slog.Logger) *Finalizer {
	return &Finalizer{store: store, reader: reader, logger: logger}
}

// FromManifest derives the range of a freshly built segment from the manifest
// staged in dir and commits it. The manifest must describe the segment's
// committed offsets.
func (f *Finalizer) FromManifest(ctx context.Context, segmentID, dir string) (segment.TimeRange, error) {
	if f.reader == nil {
		return segment.TimeRange{}, &errors.ConfigurationError{Component: "finalizer", Reason: "no staging reader configured"}
	}

	seg, err := f.store.GetSegment(ctx, segmentID)
	if err != nil {
		return segment.TimeRange{}, err
	}
	manifest, err := materialize.ReadManifest(ctx, f.reader, dir)
	if err != nil {
		return segment.TimeRange{}, err
	}

	if manifest.SegmentID != segmentID {
		return segment.TimeRange{}, &errors.ConsistencyError{
			SegmentID: segmentID,
			Partition: -1,
			Reason:    fmt.Sprintf("manifest in %s belongs to segment %s", dir, manifest.SegmentID),
		}
	}
	if !manifest.Offsets().Equal(seg.Offsets) {
		return segment.TimeRange{}, &errors.ConsistencyError{
			SegmentID: segmentID,
			Partition: -1,
			Reason:    fmt.Sprintf("manifest offsets %s differ from committed offsets %s", manifest.Offsets(), seg.Offsets),
		}
	}

	tr := FromBounds(manifest.MinTimestamp, manifest.MaxTimestamp)
	if err := f.store.CommitTimeRange(ctx, segmentID, tr); err != nil {
		return segment.TimeRange{}, err
	}

	f.logger.Info("committed segment time range",
		"segment_id", segmentID,
		"start", tr.Start,
		"end", tr.End,
		"rows", manifest.Rows,
	)
	return tr, nil
}

// FromSegments commits the union of the ranges of sources as the range of
// the merged segment.
func (f *Finalizer) FromSegments(ctx context.Context, segmentID string, sources []string) (segment.TimeRange, error) {
	if len(sources) == 0 {
		return segment.TimeRange{}, &errors.ConfigurationError{
			Component: "finalizer",
			Reason:    fmt.Sprintf("merged segment %s has no source segments", segmentID),
		}
	}

	var tr segment.TimeRange
	for _, id := range sources {
		src, err := f.store.GetSegment(ctx, id)
		if err != nil {
			return segment.TimeRange{}, fmt.Errorf("failed to load source segment %s: %w", id, err)
		}
		tr = tr.Union(src.TimeRange)
	}

	if err := f.store.CommitTimeRange(ctx, segmentID, tr); err != nil {
		return segment.TimeRange{}, err
	}

	f.logger.Info("committed merged time range",
		"segment_id", segmentID,
		"sources", len(sources),
		"start", tr.Start,
		"end", tr.End,
	)
	return tr, nil
}
