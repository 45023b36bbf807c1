// Package materialize reads the offset ranges of a segment, decodes every
// message with the table's record parser and stages the rows as flat-table
// chunk files.
package materialize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jittakal/kafbridge/internal/buffer"
	"github.com/jittakal/kafbridge/internal/errors"
	pkgbuffer "github.com/jittakal/kafbridge/pkg/buffer"
	"github.com/jittakal/kafbridge/pkg/flattable"
	"github.com/jittakal/kafbridge/pkg/segment"
	"github.com/jittakal/kafbridge/pkg/source"
	"github.com/jittakal/kafbridge/pkg/storage"
)

const (
	defaultMaxRecordsPerFile = 100000
	defaultWorkerPoolSize    = 4
)

// Config configures a materializer for one flat table.
type Config struct {
	Table  string
	Topic  string
	Format string
	// MaxRecordsPerFile bounds the rows of one chunk file.
	MaxRecordsPerFile int
	// MaxChunkBytes bounds the estimated size of one chunk; 0 disables it.
	MaxChunkBytes  int64
	WorkerPoolSize int
	// MaxRejectionRatio is the share of rejected messages above which the
	// run fails. 1 tolerates any number of rejections.
	MaxRejectionRatio float64
}

// MetricsCollector defines metrics operations for materialization.
type MetricsCollector interface {
	AddRowsMaterialized(table string, partition int32, n int)
	IncMessagesRejected(table string, partition int32)
	SetBufferRecordCount(table string, partition int32, count float64)
	IncFilesWritten(table string, format string, status string)
	ObserveFileSize(table string, format string, size float64)
	ObserveStorageWriteDuration(table string, partition int32, duration float64)
}

// Materializer stages the flat table of a segment.
type Materializer struct {
	source  source.Client
	writer  storage.Writer
	input   *flattable.TableInput
	rejects source.RejectPublisher
	config  Config
	logger  *slog.Logger
	metrics MetricsCollector
}

// New creates a materializer. rejects and metrics may be nil.
func New(
	src source.Client,
	writer storage.Writer,
	input *flattable.TableInput,
	rejects source.RejectPublisher,
	config Config,
	logger *slog.Logger,
	metrics MetricsCollector,
) *Materializer {
	if config.MaxRecordsPerFile <= 0 {
		config.MaxRecordsPerFile = defaultMaxRecordsPerFile
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = defaultWorkerPoolSize
	}
	if config.MaxRejectionRatio < 0 || config.MaxRejectionRatio > 1 {
		config.MaxRejectionRatio = 1
	}
	return &Materializer{
		source:  src,
		writer:  writer,
		input:   input,
		rejects: rejects,
		config:  config,
		logger:  logger.With("table", config.Table, "topic", config.Topic),
		metrics: metrics,
	}
}

// Run stages the rows of offsets below dir and writes the manifest last.
// Anything previously staged below dir is removed first, so a rerun with the
// same offsets produces the same files.
func (m *Materializer) Run(ctx context.Context, dir, segmentID string, offsets segment.Offsets) (*Manifest, error) {
	logger := m.logger.With("segment_id", segmentID)

	if err := m.writer.Purge(ctx, dir); err != nil {
		return nil, fmt.Errorf("failed to purge staging directory %s: %w", dir, err)
	}

	runs := make([]*partitionRun, len(offsets))
	buffers := buffer.NewManager(m.config.MaxChunkBytes, m.config.MaxRecordsPerFile)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.WorkerPoolSize)
	for i, r := range offsets {
		g.Go(func() error {
			run, err := m.materializePartition(gctx, dir, segmentID, r, buffers)
			if err != nil {
				return err
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		SegmentID:  segmentID,
		Table:      m.config.Table,
		Topic:      m.config.Topic,
		Format:     m.config.Format,
		Partitions: make([]PartitionResult, 0, len(runs)),
		Files:      []storage.File{},
	}
	var total timeBounds
	var read int64
	for _, run := range runs {
		manifest.Partitions = append(manifest.Partitions, run.result)
		manifest.Files = append(manifest.Files, run.files...)
		manifest.Rows += run.result.Rows
		manifest.Rejected += run.result.Rejected
		read += run.result.Read
		total.merge(run.bounds)
	}
	manifest.MinTimestamp, manifest.MaxTimestamp = total.pointers()

	if read > 0 && float64(manifest.Rejected)/float64(read) > m.config.MaxRejectionRatio {
		return nil, fmt.Errorf("segment %s: %d of %d messages rejected, ceiling %.4f: %w",
			segmentID, manifest.Rejected, read, m.config.MaxRejectionRatio, errors.ErrRejectionCeiling)
	}

	data, err := encodeManifest(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := m.writer.PutObject(ctx, ManifestPath(dir), data); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	logger.Info("materialized flat table",
		"dir", dir,
		"rows", manifest.Rows,
		"rejected", manifest.Rejected,
		"files", len(manifest.Files),
	)
	return manifest, nil
}

// partitionRun holds the state of one partition range.
type partitionRun struct {
	m         *Materializer
	dir       string
	segmentID string
	rng       segment.PartitionOffsetRange
	buf       pkgbuffer.Buffer
	chunk     int
	result    PartitionResult
	bounds    timeBounds
	files     []storage.File
	last      int64
}

func (m *Materializer) materializePartition(ctx context.Context, dir, segmentID string, r segment.PartitionOffsetRange, buffers *buffer.Manager) (*partitionRun, error) {
	defer buffers.Remove(r.Partition)
	run := &partitionRun{
		m:         m,
		dir:       strings.TrimSuffix(dir, "/"),
		segmentID: segmentID,
		rng:       r,
		buf:       buffers.GetOrCreate(r.Partition),
		result:    PartitionResult{Partition: r.Partition, Start: r.Start, End: r.End},
		last:      r.Start - 1,
	}

	m.logger.Debug("materializing partition",
		"segment_id", segmentID,
		"partition", r.Partition,
		"start_offset", r.Start,
		"end_offset", r.End,
	)

	if r.Len() > 0 {
		err := m.source.Read(ctx, m.config.Topic, r.Partition, r.Start, r.End, func(msg segment.RawMessage) error {
			return run.handle(ctx, msg)
		})
		if err != nil {
			return nil, err
		}
	}
	if err := run.flush(ctx); err != nil {
		return nil, err
	}
	run.result.MinTimestamp, run.result.MaxTimestamp = run.bounds.pointers()
	return run, nil
}

func (r *partitionRun) handle(ctx context.Context, msg segment.RawMessage) error {
	if !r.rng.Contains(msg.Offset) {
		return &errors.ConsistencyError{
			SegmentID: r.segmentID,
			Partition: r.rng.Partition,
			Reason:    fmt.Sprintf("source delivered offset %d outside %s", msg.Offset, r.rng),
		}
	}
	if msg.Offset <= r.last {
		return &errors.ConsistencyError{
			SegmentID: r.segmentID,
			Partition: r.rng.Partition,
			Reason:    fmt.Sprintf("source delivered offset %d after %d", msg.Offset, r.last),
		}
	}
	r.last = msg.Offset
	r.result.Read++

	row, err := r.m.input.ParseMessage(msg)
	if err != nil {
		if !errors.Is(err, errors.ErrRejected) {
			return err
		}
		r.reject(ctx, msg, err)
		return nil
	}

	r.bounds.observe(row.Timestamp)
	if err := r.buf.Add(row); err != nil {
		if !errors.Is(err, errors.ErrBufferFull) {
			return err
		}
		if err := r.flush(ctx); err != nil {
			return err
		}
		if err := r.buf.Add(row); err != nil {
			return err
		}
	}
	r.result.Rows++
	if r.m.metrics != nil {
		r.m.metrics.SetBufferRecordCount(r.m.config.Table, r.rng.Partition, float64(r.buf.Stats().RecordCount))
	}
	return nil
}

func (r *partitionRun) reject(ctx context.Context, msg segment.RawMessage, cause error) {
	r.result.Rejected++
	if r.m.metrics != nil {
		r.m.metrics.IncMessagesRejected(r.m.config.Table, r.rng.Partition)
	}
	r.m.logger.Debug("rejected message",
		"segment_id", r.segmentID,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", cause,
	)

	if r.m.rejects == nil {
		return
	}
	if err := r.m.rejects.Publish(ctx, r.m.config.Topic, msg, cause.Error()); err != nil {
		r.m.logger.Warn("failed to publish rejected message",
			"segment_id", r.segmentID,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
	}
}

// flush writes the buffered rows as the next chunk file.
func (r *partitionRun) flush(ctx context.Context) error {
	if r.buf.IsEmpty() {
		return nil
	}
	rows := r.buf.Drain()
	path := fmt.Sprintf("%s/part-%d-%d", r.dir, r.rng.Partition, r.chunk)
	table, format := r.m.config.Table, r.m.config.Format

	start := time.Now()
	file, err := r.m.writer.WriteRows(ctx, path, r.m.input.Columns(), rows)
	if err != nil {
		if r.m.metrics != nil {
			r.m.metrics.IncFilesWritten(table, format, "error")
		}
		return fmt.Errorf("failed to write chunk %s: %w", path, err)
	}

	if r.m.metrics != nil {
		r.m.metrics.IncFilesWritten(table, format, "success")
		r.m.metrics.ObserveFileSize(table, format, float64(file.Size))
		r.m.metrics.ObserveStorageWriteDuration(table, r.rng.Partition, time.Since(start).Seconds())
		r.m.metrics.AddRowsMaterialized(table, r.rng.Partition, len(rows))
		r.m.metrics.SetBufferRecordCount(table, r.rng.Partition, 0)
	}

	r.m.logger.Debug("wrote chunk",
		"segment_id", r.segmentID,
		"partition", r.rng.Partition,
		"rows", len(rows),
		"bytes", file.Size,
		"path", file.Path,
	)

	r.chunk++
	r.result.Files = append(r.result.Files, file.Path)
	r.files = append(r.files, file)
	return nil
}
