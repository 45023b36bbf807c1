// Package offsets computes the offset ranges a segment consumes, either by
// seeking fresh ranges from the source or by merging committed ones.
package offsets

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/internal/validator"
	"github.com/jittakal/kafbridge/pkg/segment"
	"github.com/jittakal/kafbridge/pkg/source"
)

// PartitionChangePolicy decides how a changed partition set is handled.
type PartitionChangePolicy string

const (
	// PolicyStrict fails on any added or removed partition.
	PolicyStrict PartitionChangePolicy = "strict"
	// PolicyAllowAdded starts new partitions at their earliest offset.
	// Removed partitions still fail.
	PolicyAllowAdded PartitionChangePolicy = "allow-added"
)

// SeekerConfig configures the offset seeker.
type SeekerConfig struct {
	PartitionChangePolicy   PartitionChangePolicy
	AllowEmptySegments      bool
	SkipExpired             bool
	MaxMessagesPerPartition int64
}

// SeekOptions are per-build overrides.
type SeekOptions struct {
	// EndOffsets caps the end offset of individual partitions.
	EndOffsets map[int32]int64
}

// MetricsCollector defines metrics operations for the seeker.
type MetricsCollector interface {
	ObserveSeekSpan(topic string, partition int32, span float64)
}

// Seeker determines the next consumption range of every partition.
type Seeker struct {
	client    source.Client
	config    SeekerConfig
	validator *validator.OffsetsValidator
	logger    *slog.Logger
	metrics   MetricsCollector
}

// NewSeeker creates a seeker reading watermarks from client.
func NewSeeker(client source.Client, config SeekerConfig, logger *slog.Logger, metrics MetricsCollector) *Seeker {
	if config.PartitionChangePolicy == "" {
		config.PartitionChangePolicy = PolicyStrict
	}
	return &Seeker{
		client:    client,
		config:    config,
		validator: validator.NewOffsetsValidator(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Seek returns the offsets of a new segment on topic. prior holds the end
// offsets of the segment this one continues, or nil for the first segment.
// The result only depends on the watermark snapshot, so calling Seek again
// before the offsets are committed yields the same ranges.
func (s *Seeker) Seek(ctx context.Context, segmentID, topic string, prior segment.Offsets, opts SeekOptions) (segment.Offsets, error) {
	partitions, err := s.client.ListPartitions(ctx, topic)
	if err != nil {
		return nil, asSourceError(topic, -1, "list_partitions", err)
	}
	if len(partitions) == 0 {
		return nil, &errors.ConfigurationError{
			Component: "seeker",
			Reason:    fmt.Sprintf("topic %s has no partitions", topic),
		}
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	if prior != nil {
		if err := s.checkPartitionSet(topic, prior, partitions); err != nil {
			return nil, err
		}
	}

	ranges := make([]segment.PartitionOffsetRange, 0, len(partitions))
	for _, p := range partitions {
		r, err := s.seekPartition(ctx, segmentID, topic, p, prior, opts)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}

	offsets := segment.NewOffsets(ranges...)
	if err := s.validator.Validate(segmentID, offsets); err != nil {
		return nil, err
	}
	if prior != nil && !s.config.SkipExpired {
		if err := s.validator.ValidateContinuation(segmentID, prior, offsets); err != nil {
			return nil, err
		}
	}

	if offsets.IsEmpty() && !s.config.AllowEmptySegments {
		return nil, fmt.Errorf("segment %s on topic %s: %w", segmentID, topic, errors.ErrNoNewMessages)
	}

	s.logger.Info("seeked segment offsets",
		"segment_id", segmentID,
		"topic", topic,
		"partitions", len(offsets),
		"total_start", offsets.TotalStart(),
		"total_end", offsets.TotalEnd(),
	)

	return offsets, nil
}

func (s *Seeker) seekPartition(
	ctx context.Context,
	segmentID, topic string,
	partition int32,
	prior segment.Offsets,
	opts SeekOptions,
) (segment.PartitionOffsetRange, error) {
	low, high, err := s.client.Watermarks(ctx, topic, partition)
	if err != nil {
		return segment.PartitionOffsetRange{}, asSourceError(topic, partition, "watermarks", err)
	}

	start := low
	if prior != nil {
		if r, ok := prior.Range(partition); ok {
			start = r.End
		}
	}

	if start > high {
		return segment.PartitionOffsetRange{}, &errors.ConsistencyError{
			SegmentID: segmentID,
			Partition: partition,
			Reason:    fmt.Sprintf("prior end offset %d is beyond high watermark %d", start, high),
		}
	}

	if start < low {
		if !s.config.SkipExpired {
			return segment.PartitionOffsetRange{}, &errors.ConsistencyError{
				SegmentID: segmentID,
				Partition: partition,
				Reason:    fmt.Sprintf("offsets [%d,%d) expired from the source", start, low),
			}
		}
		s.logger.Warn("skipping expired offsets",
			"segment_id", segmentID,
			"topic", topic,
			"partition", partition,
			"from", start,
			"to", low,
		)
		start = low
	}

	end := high
	if capped, ok := opts.EndOffsets[partition]; ok {
		if capped < start {
			return segment.PartitionOffsetRange{}, &errors.ConsistencyError{
				SegmentID: segmentID,
				Partition: partition,
				Reason:    fmt.Sprintf("configured end offset %d is before start offset %d", capped, start),
			}
		}
		if capped < end {
			end = capped
		}
	}
	if max := s.config.MaxMessagesPerPartition; max > 0 && end-start > max {
		end = start + max
	}

	if s.metrics != nil {
		s.metrics.ObserveSeekSpan(topic, partition, float64(end-start))
	}

	s.logger.Debug("seeked partition",
		"segment_id", segmentID,
		"topic", topic,
		"partition", partition,
		"low_watermark", low,
		"high_watermark", high,
		"start_offset", start,
		"end_offset", end,
	)

	return segment.PartitionOffsetRange{Partition: partition, Start: start, End: end}, nil
}

func (s *Seeker) checkPartitionSet(topic string, prior segment.Offsets, current []int32) error {
	live := make(map[int32]struct{}, len(current))
	for _, p := range current {
		live[p] = struct{}{}
	}

	for _, p := range prior.Partitions() {
		if _, ok := live[p]; !ok {
			return &errors.ConfigurationError{
				Component: "seeker",
				Reason:    fmt.Sprintf("partition %d of topic %s disappeared since the prior segment", p, topic),
				Err:       errors.ErrPartitionMismatch,
			}
		}
	}

	for _, p := range current {
		if _, ok := prior.Range(p); ok {
			continue
		}
		if s.config.PartitionChangePolicy != PolicyAllowAdded {
			return &errors.ConfigurationError{
				Component: "seeker",
				Reason:    fmt.Sprintf("partition %d of topic %s was added since the prior segment", p, topic),
				Err:       errors.ErrPartitionMismatch,
			}
		}
		s.logger.Warn("new partition joins the build lineage", "topic", topic, "partition", p)
	}

	return nil
}

// asSourceError keeps typed errors and classifies the rest as transient.
func asSourceError(topic string, partition int32, operation string, err error) error {
	var retryable errors.Retryable
	if errors.As(err, &retryable) {
		return err
	}
	return &errors.TransientSourceError{
		Topic:     topic,
		Partition: partition,
		Operation: operation,
		Err:       err,
	}
}
