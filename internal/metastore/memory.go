package metastore

import (
	"context"
	"sync"
	"time"

	"github.com/jittakal/kafbridge/pkg/metastore"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// Ensure implementation satisfies interface at compile time.
var _ metastore.Store = (*MemoryStore)(nil)

// MemoryStore keeps segments in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	segments map[string]*segment.Segment
	claims   map[string]string
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		segments: make(map[string]*segment.Segment),
		claims:   make(map[string]string),
		now:      time.Now,
	}
}

// GetSegment returns a copy of the segment with id.
func (s *MemoryStore) GetSegment(ctx context.Context, id string) (*segment.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seg, ok := s.segments[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneSegment(seg), nil
}

// PutSegment stores a copy of seg.
func (s *MemoryStore) PutSegment(ctx context.Context, seg *segment.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.segments[seg.ID]; ok && seg.CreatedAt.IsZero() {
		seg = cloneSegment(seg)
		seg.CreatedAt = prev.CreatedAt
	}
	out, err := prepare(seg, s.now().UTC())
	if err != nil {
		return err
	}
	s.segments[out.ID] = out
	return nil
}

// ListSegments returns the segments of cube ordered by start offsets.
func (s *MemoryStore) ListSegments(ctx context.Context, cube string) ([]*segment.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*segment.Segment
	for _, seg := range s.segments {
		if seg.Cube == cube {
			out = append(out, cloneSegment(seg))
		}
	}
	sortSegments(out)
	return out, nil
}

// CommitOffsets replaces the offsets of a segment.
func (s *MemoryStore) CommitOffsets(ctx context.Context, id string, offsets segment.Offsets) error {
	return s.update(id, setOffsets(offsets))
}

// CommitTimeRange replaces the time range of a segment.
func (s *MemoryStore) CommitTimeRange(ctx context.Context, id string, tr segment.TimeRange) error {
	return s.update(id, setTimeRange(tr))
}

// UpdateStatus records the segment status and last committed step.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status segment.Status, step string) error {
	return s.update(id, setStatus(status, step))
}

// ClaimBuild records jobID as the build owning the segment.
func (s *MemoryStore) ClaimBuild(ctx context.Context, id, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[id]
	if !ok {
		return notFound(id)
	}
	if holder, held := s.claims[id]; held && holder != jobID {
		return claimed(id, holder)
	}
	s.claims[id] = jobID
	seg.BuildJobID = jobID
	seg.UpdatedAt = s.now().UTC()
	return nil
}

// ReleaseBuild drops the claim of jobID.
func (s *MemoryStore) ReleaseBuild(ctx context.Context, id, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claims[id] == jobID {
		delete(s.claims, id)
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) update(id string, fn mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[id]
	if !ok {
		return notFound(id)
	}
	next := cloneSegment(seg)
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = s.now().UTC()
	s.segments[id] = next
	return nil
}
