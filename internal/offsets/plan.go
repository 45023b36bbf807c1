package offsets

import (
	"context"
	"fmt"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// PlanKind selects how a segment obtains its offsets.
type PlanKind int

const (
	// PlanSeek reads fresh ranges from the source.
	PlanSeek PlanKind = iota + 1
	// PlanMerge combines the ranges of existing segments.
	PlanMerge
)

func (k PlanKind) String() string {
	switch k {
	case PlanSeek:
		return "seek"
	case PlanMerge:
		return "merge"
	default:
		return fmt.Sprintf("PlanKind(%d)", int(k))
	}
}

// Plan describes where the offsets of a segment come from.
type Plan struct {
	Kind PlanKind
	// Prior is the committed offsets of the previous segment (seek only).
	Prior segment.Offsets
	// Options holds per-build overrides (seek only).
	Options SeekOptions
	// Sources are the offsets of the segments to merge (merge only).
	Sources []segment.Offsets
}

// SeekPlan returns a plan that continues after prior.
func SeekPlan(prior segment.Offsets, opts SeekOptions) Plan {
	return Plan{Kind: PlanSeek, Prior: prior, Options: opts}
}

// MergePlan returns a plan combining sources.
func MergePlan(sources ...segment.Offsets) Plan {
	return Plan{Kind: PlanMerge, Sources: sources}
}

// Resolver executes plans.
type Resolver struct {
	seeker *Seeker
	merger *Merger
}

// NewResolver creates a resolver. seeker may be nil when only merge plans
// are resolved.
func NewResolver(seeker *Seeker, merger *Merger) *Resolver {
	return &Resolver{seeker: seeker, merger: merger}
}

// Resolve computes the offsets of segmentID according to plan.
func (r *Resolver) Resolve(ctx context.Context, segmentID, topic string, plan Plan) (segment.Offsets, error) {
	switch plan.Kind {
	case PlanSeek:
		if r.seeker == nil {
			return nil, &errors.ConfigurationError{Component: "offsets", Reason: "no seeker configured"}
		}
		return r.seeker.Seek(ctx, segmentID, topic, plan.Prior, plan.Options)
	case PlanMerge:
		return r.merger.Merge(segmentID, plan.Sources)
	default:
		return nil, &errors.ConfigurationError{
			Component: "offsets",
			Reason:    fmt.Sprintf("unsupported plan kind %s", plan.Kind),
		}
	}
}
