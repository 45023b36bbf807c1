package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/metastore"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// Ensure implementation satisfies interface at compile time.
var _ metastore.Store = (*FileStore)(nil)

const segmentFileExt = ".json"

// FileStore keeps one JSON document per segment in a directory. Build claims
// are held in process; the store is meant for a single runner.
type FileStore struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
	claims map[string]string
	now    func() time.Time
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, &errors.ConfigurationError{Component: "metastore", Reason: "file metastore dir is required"}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metastore dir: %w", err)
	}

	logger.Info("file metastore opened", "dir", dir)

	return &FileStore{
		dir:    dir,
		logger: logger,
		claims: make(map[string]string),
		now:    time.Now,
	}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+segmentFileExt)
}

func (s *FileStore) read(id string) (*segment.Segment, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, &errors.StorageError{Operation: "read", Path: s.path(id), Err: err}
	}

	var seg segment.Segment
	if err := json.Unmarshal(data, &seg); err != nil {
		return nil, fmt.Errorf("failed to decode segment %s: %w", id, err)
	}
	return &seg, nil
}

// write stores seg through a temporary file and rename.
func (s *FileStore) write(seg *segment.Segment) error {
	data, err := json.MarshalIndent(seg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode segment %s: %w", seg.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+seg.ID+"-*")
	if err != nil {
		return &errors.StorageError{Operation: "create", Path: s.path(seg.ID), Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &errors.StorageError{Operation: "write", Path: s.path(seg.ID), Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &errors.StorageError{Operation: "write", Path: s.path(seg.ID), Err: err}
	}
	if err := os.Rename(tmpName, s.path(seg.ID)); err != nil {
		os.Remove(tmpName)
		return &errors.StorageError{Operation: "write", Path: s.path(seg.ID), Err: err}
	}
	return nil
}

// GetSegment reads the segment with id.
func (s *FileStore) GetSegment(ctx context.Context, id string) (*segment.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// PutSegment writes seg, keeping the creation time of an existing record.
func (s *FileStore) PutSegment(ctx context.Context, seg *segment.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg.CreatedAt.IsZero() {
		if prev, err := s.read(seg.ID); err == nil {
			seg = cloneSegment(seg)
			seg.CreatedAt = prev.CreatedAt
		}
	}
	out, err := prepare(seg, s.now().UTC())
	if err != nil {
		return err
	}
	return s.write(out)
}

// ListSegments returns the segments of cube ordered by start offsets.
func (s *FileStore) ListSegments(ctx context.Context, cube string) ([]*segment.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &errors.StorageError{Operation: "read", Path: s.dir, Err: err}
	}

	var out []*segment.Segment
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, segmentFileExt) {
			continue
		}
		seg, err := s.read(strings.TrimSuffix(name, segmentFileExt))
		if err != nil {
			return nil, err
		}
		if seg.Cube == cube {
			out = append(out, seg)
		}
	}
	sortSegments(out)
	return out, nil
}

// CommitOffsets replaces the offsets of a segment.
func (s *FileStore) CommitOffsets(ctx context.Context, id string, offsets segment.Offsets) error {
	return s.update(id, setOffsets(offsets))
}

// CommitTimeRange replaces the time range of a segment.
func (s *FileStore) CommitTimeRange(ctx context.Context, id string, tr segment.TimeRange) error {
	return s.update(id, setTimeRange(tr))
}

// UpdateStatus records the segment status and last committed step.
func (s *FileStore) UpdateStatus(ctx context.Context, id string, status segment.Status, step string) error {
	return s.update(id, setStatus(status, step))
}

// ClaimBuild records jobID as the build owning the segment.
func (s *FileStore) ClaimBuild(ctx context.Context, id, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, held := s.claims[id]; held && holder != jobID {
		return claimed(id, holder)
	}
	seg, err := s.read(id)
	if err != nil {
		return err
	}
	seg.BuildJobID = jobID
	seg.UpdatedAt = s.now().UTC()
	if err := s.write(seg); err != nil {
		return err
	}
	s.claims[id] = jobID
	return nil
}

// ReleaseBuild drops the claim of jobID.
func (s *FileStore) ReleaseBuild(ctx context.Context, id, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claims[id] == jobID {
		delete(s.claims, id)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) update(id string, fn mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, err := s.read(id)
	if err != nil {
		return err
	}
	if err := fn(seg); err != nil {
		return err
	}
	seg.UpdatedAt = s.now().UTC()
	return s.write(seg)
}
