package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/internal/materialize"
	"github.com/jittakal/kafbridge/internal/metastore"
	"github.com/jittakal/kafbridge/internal/offsets"
	"github.com/jittakal/kafbridge/internal/timerange"
	pkgmetastore "github.com/jittakal/kafbridge/pkg/metastore"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// Step is one unit of work of a build job. Every step commits its result to
// the metadata store before it returns nil.
type Step interface {
	// Name returns the step name recorded as the segment's last step.
	Name() string

	// State returns the job state the step implements.
	State() State

	// Execute runs the step. It must be safe to run again after a failure.
	Execute(ctx context.Context, params Params) error
}

// Step names.
const (
	StepSeekOffsets       = "seek_offsets"
	StepMaterialize       = "materialize"
	StepFinalizeTimeRange = "finalize_time_range"
)

// SeekStep computes and commits the offsets of a segment: fresh ranges for
// a build, the combined ranges of the source segments for a merge.
type SeekStep struct {
	store    pkgmetastore.Store
	resolver *offsets.Resolver
	topic    string
	options  offsets.SeekOptions
	logger   *slog.Logger
}

// NewSeekStep creates the SEEK_OFFSETS step for topic.
func NewSeekStep(store pkgmetastore.Store, resolver *offsets.Resolver, topic string, options offsets.SeekOptions, logger *slog.Logger) *SeekStep {
	return &SeekStep{store: store, resolver: resolver, topic: topic, options: options, logger: logger}
}

func (s *SeekStep) Name() string { return StepSeekOffsets }
func (s *SeekStep) State() State { return StateSeekOffsets }

// Execute resolves the offset plan of the segment and commits the result.
func (s *SeekStep) Execute(ctx context.Context, params Params) error {
	if err := params.Require(ParamSegmentID); err != nil {
		return err
	}
	seg, err := s.store.GetSegment(ctx, params.Get(ParamSegmentID))
	if err != nil {
		return err
	}

	var plan offsets.Plan
	switch params.BuildType() {
	case BuildTypeBuild:
		prior, err := s.prior(ctx, seg)
		if err != nil {
			return err
		}
		var priorOffsets segment.Offsets
		if prior != nil {
			priorOffsets = prior.Offsets
			s.logger.Info("continuing from prior segment",
				"segment_id", seg.ID,
				"prior_segment_id", prior.ID,
				"prior_total_end", prior.Offsets.TotalEnd(),
			)
		}
		plan = offsets.SeekPlan(priorOffsets, s.options)

	case BuildTypeMerge:
		sources, err := s.mergeSources(ctx, seg, params)
		if err != nil {
			return err
		}
		inputs := make([]segment.Offsets, len(sources))
		for i, src := range sources {
			inputs[i] = src.Offsets
		}
		plan = offsets.MergePlan(inputs...)

	default:
		return &errors.ConfigurationError{
			Component: "job",
			Reason:    fmt.Sprintf("unknown build type %q", params.Get(ParamBuildType)),
		}
	}

	result, err := s.resolver.Resolve(ctx, seg.ID, s.topic, plan)
	if err != nil {
		return err
	}
	if err := s.store.CommitOffsets(ctx, seg.ID, result); err != nil {
		return err
	}
	return s.store.UpdateStatus(ctx, seg.ID, segment.StatusSeeked, s.Name())
}

// prior returns the segment a fresh build of seg continues from. A sibling
// build that committed offsets but is not READY yet blocks the seek: its
// range would otherwise be read twice or, if it later fails, never.
func (s *SeekStep) prior(ctx context.Context, seg *segment.Segment) (*segment.Segment, error) {
	segs, err := s.store.ListSegments(ctx, seg.Cube)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments of cube %s: %w", seg.Cube, err)
	}
	others := make([]*segment.Segment, 0, len(segs))
	for _, other := range segs {
		if other.ID == seg.ID {
			continue
		}
		if metastore.Unfinished(other) {
			return nil, &errors.ConsistencyError{
				SegmentID: seg.ID,
				Partition: -1,
				Reason: fmt.Sprintf("segment %s of cube %s is %s; finish it before a new build",
					other.ID, seg.Cube, other.Status),
			}
		}
		others = append(others, other)
	}
	return metastore.LastReady(others), nil
}

// mergeSources loads the segments to merge. They must be READY segments of
// the same cube, named in chronological order.
func (s *SeekStep) mergeSources(ctx context.Context, seg *segment.Segment, params Params) ([]*segment.Segment, error) {
	ids := seg.MergedFrom
	if len(ids) == 0 {
		ids = params.MergedFrom()
	}
	if len(ids) < 2 {
		return nil, &errors.ConfigurationError{
			Component: "job",
			Reason:    fmt.Sprintf("merge of %s needs at least two source segments", seg.ID),
		}
	}

	sources := make([]*segment.Segment, 0, len(ids))
	for _, id := range ids {
		src, err := s.store.GetSegment(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load source segment %s: %w", id, err)
		}
		if src.Cube != seg.Cube {
			return nil, &errors.ConfigurationError{
				Component: "job",
				Reason:    fmt.Sprintf("source segment %s belongs to cube %s, not %s", id, src.Cube, seg.Cube),
			}
		}
		if src.Status != segment.StatusReady {
			return nil, &errors.ConsistencyError{
				SegmentID: seg.ID,
				Partition: -1,
				Reason:    fmt.Sprintf("source segment %s is %s, not READY", id, src.Status),
			}
		}
		sources = append(sources, src)
	}

	sorted := append([]*segment.Segment(nil), sources...)
	offsets.SortChronologically(sorted)
	for i := range sorted {
		if sorted[i].ID != sources[i].ID {
			return nil, &errors.ConsistencyError{
				SegmentID: seg.ID,
				Partition: -1,
				Reason:    fmt.Sprintf("source segments %v are not in chronological order", ids),
			}
		}
	}

	if len(seg.MergedFrom) == 0 {
		seg.MergedFrom = ids
		if err := s.store.PutSegment(ctx, seg); err != nil {
			return nil, err
		}
	}
	return sources, nil
}

// MaterializeStep stages the flat table of a segment's committed offsets.
type MaterializeStep struct {
	store        pkgmetastore.Store
	materializer *materialize.Materializer
	logger       *slog.Logger
}

// NewMaterializeStep creates the MATERIALIZE step.
func NewMaterializeStep(store pkgmetastore.Store, materializer *materialize.Materializer, logger *slog.Logger) *MaterializeStep {
	return &MaterializeStep{store: store, materializer: materializer, logger: logger}
}

func (s *MaterializeStep) Name() string { return StepMaterialize }
func (s *MaterializeStep) State() State { return StateMaterialize }

// Execute stages the rows below the output path and seals the offsets.
func (s *MaterializeStep) Execute(ctx context.Context, params Params) error {
	if err := params.Require(ParamSegmentID, ParamOutputPath); err != nil {
		return err
	}
	seg, err := s.store.GetSegment(ctx, params.Get(ParamSegmentID))
	if err != nil {
		return err
	}
	if seg.Offsets == nil {
		return &errors.ConsistencyError{
			SegmentID: seg.ID,
			Partition: -1,
			Reason:    "offsets were not committed before materialization",
		}
	}

	manifest, err := s.materializer.Run(ctx, params.Get(ParamOutputPath), seg.ID, seg.Offsets)
	if err != nil {
		return err
	}
	s.logger.Info("segment materialized",
		"segment_id", seg.ID,
		"rows", manifest.Rows,
		"rejected", manifest.Rejected,
	)
	return s.store.UpdateStatus(ctx, seg.ID, segment.StatusMaterialized, s.Name())
}

// FinalizeStep commits the time range of a segment and marks it READY.
type FinalizeStep struct {
	store     pkgmetastore.Store
	finalizer *timerange.Finalizer
}

// NewFinalizeStep creates the FINALIZE_TIME_RANGE step.
func NewFinalizeStep(store pkgmetastore.Store, finalizer *timerange.Finalizer) *FinalizeStep {
	return &FinalizeStep{store: store, finalizer: finalizer}
}

func (s *FinalizeStep) Name() string { return StepFinalizeTimeRange }
func (s *FinalizeStep) State() State { return StateFinalizeTimeRange }

// Execute derives the range from the staged manifest, or from the source
// segments of a merge.
func (s *FinalizeStep) Execute(ctx context.Context, params Params) error {
	if err := params.Require(ParamSegmentID); err != nil {
		return err
	}
	seg, err := s.store.GetSegment(ctx, params.Get(ParamSegmentID))
	if err != nil {
		return err
	}

	if params.BuildType() == BuildTypeMerge {
		if _, err := s.finalizer.FromSegments(ctx, seg.ID, seg.MergedFrom); err != nil {
			return err
		}
	} else {
		if err := params.Require(ParamOutputPath); err != nil {
			return err
		}
		if _, err := s.finalizer.FromManifest(ctx, seg.ID, params.Get(ParamOutputPath)); err != nil {
			return err
		}
	}
	return s.store.UpdateStatus(ctx, seg.ID, segment.StatusReady, s.Name())
}
