// Package metastore defines the segment metadata store used by the bridge.
//
// Every write is last-writer-wins per field; the bridge guarantees a single
// logical writer per segment per build through ClaimBuild.
package metastore

import (
	"context"

	"github.com/jittakal/kafbridge/pkg/segment"
)

// Store persists segment metadata.
type Store interface {
	// GetSegment returns the segment with id or errors.ErrSegmentNotFound.
	GetSegment(ctx context.Context, id string) (*segment.Segment, error)

	// PutSegment creates or replaces the whole segment record.
	PutSegment(ctx context.Context, seg *segment.Segment) error

	// ListSegments returns all segments of a cube ordered by TotalStart.
	ListSegments(ctx context.Context, cube string) ([]*segment.Segment, error)

	// CommitOffsets replaces the offsets of a segment. It fails with a
	// ConsistencyError once the segment is sealed.
	CommitOffsets(ctx context.Context, id string, offsets segment.Offsets) error

	// CommitTimeRange replaces the time range of a segment.
	CommitTimeRange(ctx context.Context, id string, tr segment.TimeRange) error

	// UpdateStatus records the segment status and the last committed step.
	UpdateStatus(ctx context.Context, id string, status segment.Status, step string) error

	// ClaimBuild marks jobID as the only build allowed to write the segment.
	// A claim held by another job fails with errors.ErrBuildInProgress.
	ClaimBuild(ctx context.Context, id, jobID string) error

	// ReleaseBuild drops the claim of jobID.
	ReleaseBuild(ctx context.Context, id, jobID string) error

	// Close releases resources.
	Close() error
}
