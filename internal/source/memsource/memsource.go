// Package memsource implements an in-memory partitioned source.
package memsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/segment"
)

type partitionLog struct {
	low      int64
	messages []segment.RawMessage
}

func (l *partitionLog) high() int64 {
	return l.low + int64(len(l.messages))
}

// Source is a thread-safe in-memory source.Client.
type Source struct {
	mu       sync.RWMutex
	topics   map[string][]*partitionLog
	failures map[string][]error
	closed   bool
}

// New creates an empty source.
func New() *Source {
	return &Source{
		topics:   make(map[string][]*partitionLog),
		failures: make(map[string][]error),
	}
}

// CreateTopic creates topic with the given number of partitions.
// Existing partitions are kept when the topic grows.
func (s *Source) CreateTopic(topic string, partitions int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := s.topics[topic]
	for len(logs) < partitions {
		logs = append(logs, &partitionLog{})
	}
	s.topics[topic] = logs
}

// Append adds a message to a partition and returns its offset.
func (s *Source) Append(topic string, partition int32, key, payload []byte, ts time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := s.partition(topic, partition)
	if err != nil {
		return 0, err
	}

	offset := log.high()
	log.messages = append(log.messages, segment.RawMessage{
		Partition: partition,
		Offset:    offset,
		Key:       key,
		Payload:   payload,
		Timestamp: ts,
	})
	return offset, nil
}

// Expire drops every message below offset, the way retention does.
func (s *Source) Expire(topic string, partition int32, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := s.partition(topic, partition)
	if err != nil {
		return err
	}
	if offset <= log.low {
		return nil
	}
	if offset > log.high() {
		offset = log.high()
	}
	log.messages = log.messages[offset-log.low:]
	log.low = offset
	return nil
}

// FailNext makes the next call of operation ("list_partitions",
// "watermarks" or "read") return err.
func (s *Source) FailNext(operation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[operation] = append(s.failures[operation], err)
}

// ListPartitions returns the partition ids of topic.
func (s *Source) ListPartitions(_ context.Context, topic string) ([]int32, error) {
	if err := s.injected("list_partitions"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.ErrSourceClosed
	}
	logs, ok := s.topics[topic]
	if !ok {
		return nil, &errors.ConfigurationError{
			Component: "memsource",
			Reason:    fmt.Sprintf("unknown topic %s", topic),
		}
	}

	ids := make([]int32, len(logs))
	for i := range logs {
		ids[i] = int32(i)
	}
	return ids, nil
}

// Watermarks returns the earliest offset and the high watermark.
func (s *Source) Watermarks(_ context.Context, topic string, partition int32) (int64, int64, error) {
	if err := s.injected("watermarks"); err != nil {
		return 0, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, 0, errors.ErrSourceClosed
	}
	log, err := s.partition(topic, partition)
	if err != nil {
		return 0, 0, err
	}
	return log.low, log.high(), nil
}

// Read calls fn for every message in [start, end).
func (s *Source) Read(ctx context.Context, topic string, partition int32, start, end int64, fn func(segment.RawMessage) error) error {
	if err := s.injected("read"); err != nil {
		return err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errors.ErrSourceClosed
	}
	log, err := s.partition(topic, partition)
	if err != nil {
		s.mu.RUnlock()
		return err
	}
	if start < log.low || end > log.high() {
		low, high := log.low, log.high()
		s.mu.RUnlock()
		return &errors.ConsistencyError{
			Partition: partition,
			Reason:    fmt.Sprintf("range [%d,%d) is outside available offsets [%d,%d)", start, end, low, high),
		}
	}
	batch := make([]segment.RawMessage, end-start)
	copy(batch, log.messages[start-log.low:end-log.low])
	s.mu.RUnlock()

	for _, msg := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the source closed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Source) partition(topic string, partition int32) (*partitionLog, error) {
	logs, ok := s.topics[topic]
	if !ok || partition < 0 || int(partition) >= len(logs) {
		return nil, &errors.ConfigurationError{
			Component: "memsource",
			Reason:    fmt.Sprintf("unknown partition %s/%d", topic, partition),
		}
	}
	return logs[partition], nil
}

func (s *Source) injected(operation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.failures[operation]
	if len(queue) == 0 {
		return nil
	}
	s.failures[operation] = queue[1:]
	return queue[0]
}
