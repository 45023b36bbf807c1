package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/metastore"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// Ensure implementation satisfies interface at compile time.
var _ metastore.Store = (*EtcdStore)(nil)

const (
	defaultEtcdPrefix   = "/kafbridge"
	defaultLeaseTTL     = 30
	maxUpdateConflicts  = 10
	etcdRequestTimeout  = 5 * time.Second
	segmentsKeySegment  = "segments"
	buildLockKeySegment = "build-locks"
)

// EtcdConfig configures the etcd store.
type EtcdConfig struct {
	Endpoints       []string
	Prefix          string
	Username        string
	Password        string
	DialTimeout     time.Duration
	LeaseTTLSeconds int
}

// EtcdStore keeps segments as JSON values below a key prefix. Field updates
// are compare-and-swap on the record's mod revision. Build claims are keys
// bound to a session lease, so a crashed runner releases its claims when the
// lease expires.
type EtcdStore struct {
	client    *clientv3.Client
	ownClient bool
	prefix    string
	ttl       int
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	session *concurrency.Session
}

// NewEtcdStore dials etcd and creates a store. zapLogger is handed to the
// etcd client.
func NewEtcdStore(cfg EtcdConfig, logger *slog.Logger, zapLogger *zap.Logger) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, &errors.ConfigurationError{Component: "metastore", Reason: "etcd endpoints are required"}
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Logger:      zapLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	store := NewEtcdStoreFromClient(client, cfg.Prefix, cfg.LeaseTTLSeconds, logger)
	store.ownClient = true

	logger.Info("etcd metastore opened",
		"endpoints", strings.Join(cfg.Endpoints, ","),
		"prefix", store.prefix,
	)
	return store, nil
}

// NewEtcdStoreFromClient creates a store on an existing client. The caller
// keeps ownership of client.
func NewEtcdStoreFromClient(client *clientv3.Client, prefix string, leaseTTLSeconds int, logger *slog.Logger) *EtcdStore {
	if prefix == "" {
		prefix = defaultEtcdPrefix
	}
	if leaseTTLSeconds <= 0 {
		leaseTTLSeconds = defaultLeaseTTL
	}
	return &EtcdStore{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		ttl:    leaseTTLSeconds,
		logger: logger,
		now:    time.Now,
	}
}

func (s *EtcdStore) segmentKey(id string) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, segmentsKeySegment, id)
}

func (s *EtcdStore) segmentsPrefix() string {
	return fmt.Sprintf("%s/%s/", s.prefix, segmentsKeySegment)
}

func (s *EtcdStore) lockKey(id string) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, buildLockKeySegment, id)
}

// get returns the segment and the mod revision of its key.
func (s *EtcdStore) get(ctx context.Context, id string) (*segment.Segment, int64, error) {
	if err := validateID(id); err != nil {
		return nil, 0, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, etcdRequestTimeout)
	defer cancel()

	resp, err := s.client.Get(reqCtx, s.segmentKey(id))
	if err != nil {
		return nil, 0, &errors.StorageError{Operation: "read", Path: s.segmentKey(id), Err: err}
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, notFound(id)
	}

	var seg segment.Segment
	if err := json.Unmarshal(resp.Kvs[0].Value, &seg); err != nil {
		return nil, 0, fmt.Errorf("failed to decode segment %s: %w", id, err)
	}
	return &seg, resp.Kvs[0].ModRevision, nil
}

// GetSegment returns the segment with id.
func (s *EtcdStore) GetSegment(ctx context.Context, id string) (*segment.Segment, error) {
	seg, _, err := s.get(ctx, id)
	return seg, err
}

// PutSegment writes the whole record, keeping the creation time of an
// existing one.
func (s *EtcdStore) PutSegment(ctx context.Context, seg *segment.Segment) error {
	if seg.CreatedAt.IsZero() {
		if prev, _, err := s.get(ctx, seg.ID); err == nil {
			seg = cloneSegment(seg)
			seg.CreatedAt = prev.CreatedAt
		}
	}
	out, err := prepare(seg, s.now().UTC())
	if err != nil {
		return err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode segment %s: %w", out.ID, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, etcdRequestTimeout)
	defer cancel()
	if _, err := s.client.Put(reqCtx, s.segmentKey(out.ID), string(data)); err != nil {
		return &errors.StorageError{Operation: "write", Path: s.segmentKey(out.ID), Err: err}
	}
	return nil
}

// ListSegments returns the segments of cube ordered by start offsets.
func (s *EtcdStore) ListSegments(ctx context.Context, cube string) ([]*segment.Segment, error) {
	reqCtx, cancel := context.WithTimeout(ctx, etcdRequestTimeout)
	defer cancel()

	resp, err := s.client.Get(reqCtx, s.segmentsPrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, &errors.StorageError{Operation: "read", Path: s.segmentsPrefix(), Err: err}
	}

	var out []*segment.Segment
	for _, kv := range resp.Kvs {
		var seg segment.Segment
		if err := json.Unmarshal(kv.Value, &seg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", kv.Key, err)
		}
		if seg.Cube == cube {
			out = append(out, &seg)
		}
	}
	sortSegments(out)
	return out, nil
}

// CommitOffsets replaces the offsets of a segment.
func (s *EtcdStore) CommitOffsets(ctx context.Context, id string, offsets segment.Offsets) error {
	return s.update(ctx, id, setOffsets(offsets))
}

// CommitTimeRange replaces the time range of a segment.
func (s *EtcdStore) CommitTimeRange(ctx context.Context, id string, tr segment.TimeRange) error {
	return s.update(ctx, id, setTimeRange(tr))
}

// UpdateStatus records the segment status and last committed step.
func (s *EtcdStore) UpdateStatus(ctx context.Context, id string, status segment.Status, step string) error {
	return s.update(ctx, id, setStatus(status, step))
}

// update applies fn and writes the record back only if nobody changed it in
// between, retrying on conflicts.
func (s *EtcdStore) update(ctx context.Context, id string, fn mutation) error {
	for attempt := 0; attempt < maxUpdateConflicts; attempt++ {
		seg, rev, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(seg); err != nil {
			return err
		}
		seg.UpdatedAt = s.now().UTC()

		data, err := json.Marshal(seg)
		if err != nil {
			return fmt.Errorf("failed to encode segment %s: %w", id, err)
		}

		key := s.segmentKey(id)
		reqCtx, cancel := context.WithTimeout(ctx, etcdRequestTimeout)
		resp, err := s.client.Txn(reqCtx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
			Then(clientv3.OpPut(key, string(data))).
			Commit()
		cancel()
		if err != nil {
			return &errors.StorageError{Operation: "write", Path: key, Err: err}
		}
		if resp.Succeeded {
			return nil
		}
		s.logger.Debug("segment update conflict, retrying", "segment_id", id, "attempt", attempt+1)
	}
	return fmt.Errorf("segment %s: too many concurrent updates", id)
}

// ClaimBuild creates the build lock key of the segment bound to this store's
// session lease. Claiming again with the same jobID succeeds.
func (s *EtcdStore) ClaimBuild(ctx context.Context, id, jobID string) error {
	if _, _, err := s.get(ctx, id); err != nil {
		return err
	}

	session, err := s.getOrCreateSession()
	if err != nil {
		return err
	}

	lockKey := s.lockKey(id)
	reqCtx, cancel := context.WithTimeout(ctx, etcdRequestTimeout)
	defer cancel()

	resp, err := s.client.Txn(reqCtx).
		If(clientv3.Compare(clientv3.CreateRevision(lockKey), "=", 0)).
		Then(clientv3.OpPut(lockKey, jobID, clientv3.WithLease(session.Lease()))).
		Else(clientv3.OpGet(lockKey)).
		Commit()
	if err != nil {
		return &errors.StorageError{Operation: "write", Path: lockKey, Err: err}
	}

	if !resp.Succeeded {
		holder := ""
		if len(resp.Responses) > 0 {
			if rangeResp := resp.Responses[0].GetResponseRange(); rangeResp != nil && len(rangeResp.Kvs) > 0 {
				holder = string(rangeResp.Kvs[0].Value)
			}
		}
		if holder != jobID {
			return claimed(id, holder)
		}
	}

	if err := s.update(ctx, id, func(seg *segment.Segment) error {
		seg.BuildJobID = jobID
		return nil
	}); err != nil {
		return err
	}

	s.logger.Info("claimed segment build", "segment_id", id, "job_id", jobID)
	return nil
}

// ReleaseBuild deletes the build lock key if jobID holds it.
func (s *EtcdStore) ReleaseBuild(ctx context.Context, id, jobID string) error {
	lockKey := s.lockKey(id)
	reqCtx, cancel := context.WithTimeout(ctx, etcdRequestTimeout)
	defer cancel()

	resp, err := s.client.Txn(reqCtx).
		If(clientv3.Compare(clientv3.Value(lockKey), "=", jobID)).
		Then(clientv3.OpDelete(lockKey)).
		Commit()
	if err != nil {
		return &errors.StorageError{Operation: "delete", Path: lockKey, Err: err}
	}
	if resp.Succeeded {
		s.logger.Info("released segment build", "segment_id", id, "job_id", jobID)
	}
	return nil
}

// getOrCreateSession returns the shared session, creating one when there is
// none or the previous one expired.
func (s *EtcdStore) getOrCreateSession() (*concurrency.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		select {
		case <-s.session.Done():
			s.logger.Warn("etcd session expired, build claims were released")
			s.session = nil
		default:
			return s.session, nil
		}
	}

	session, err := concurrency.NewSession(s.client, concurrency.WithTTL(s.ttl))
	if err != nil {
		return nil, &errors.StorageError{Operation: "create", Path: s.prefix, Err: err}
	}
	s.session = session
	return session, nil
}

// Close revokes the session lease, dropping every claim of this store.
func (s *EtcdStore) Close() error {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.mu.Unlock()

	var firstErr error
	if session != nil {
		if err := session.Close(); err != nil {
			firstErr = err
		}
	}
	if s.ownClient {
		if err := s.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
