package kafka

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/segment"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOffsetClient struct {
	partitions map[string][]int32
	low, high  map[int32]int64
	closed     bool
}

func (c *fakeOffsetClient) RefreshMetadata(topics ...string) error {
	for _, t := range topics {
		if _, ok := c.partitions[t]; !ok {
			return sarama.ErrUnknownTopicOrPartition
		}
	}
	return nil
}

func (c *fakeOffsetClient) Partitions(topic string) ([]int32, error) {
	p, ok := c.partitions[topic]
	if !ok {
		return nil, sarama.ErrUnknownTopicOrPartition
	}
	return p, nil
}

func (c *fakeOffsetClient) GetOffset(topic string, partition int32, at int64) (int64, error) {
	switch at {
	case sarama.OffsetOldest:
		return c.low[partition], nil
	case sarama.OffsetNewest:
		return c.high[partition], nil
	}
	return 0, fmt.Errorf("unexpected time %d", at)
}

func (c *fakeOffsetClient) Close() error {
	c.closed = true
	return nil
}

type fakeStream struct {
	messages chan *sarama.ConsumerMessage
	errs     chan *sarama.ConsumerError
	closed   bool
}

func newFakeStream(offsets ...int64) *fakeStream {
	s := &fakeStream{
		messages: make(chan *sarama.ConsumerMessage, len(offsets)),
		errs:     make(chan *sarama.ConsumerError, 1),
	}
	for _, o := range offsets {
		s.messages <- &sarama.ConsumerMessage{
			Offset:    o,
			Value:     []byte(fmt.Sprintf("v%d", o)),
			Timestamp: time.Unix(o, 0),
		}
	}
	return s
}

func (s *fakeStream) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *fakeStream) Errors() <-chan *sarama.ConsumerError     { return s.errs }
func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type readCounter struct {
	reads int
}

func (c *readCounter) IncMessagesRead(topic string, partition int32) {
	c.reads++
}

func newTestSaramaSource(stream *fakeStream, timeout time.Duration) (*SaramaSource, *readCounter) {
	client := &fakeOffsetClient{
		partitions: map[string][]int32{"orders": {0, 1}},
		low:        map[int32]int64{0: 0, 1: 10},
		high:       map[int32]int64{0: 500, 1: 40},
	}
	metrics := &readCounter{}
	s := newSaramaSource(client, nil, timeout, newTestLogger(), metrics)
	s.consume = func(topic string, partition int32, offset int64) (partitionStream, error) {
		if stream == nil {
			return nil, fmt.Errorf("unexpected consume of %s/%d", topic, partition)
		}
		return stream, nil
	}
	return s, metrics
}

func collect(dst *[]int64) func(segment.RawMessage) error {
	return func(m segment.RawMessage) error {
		*dst = append(*dst, m.Offset)
		return nil
	}
}

func TestSaramaSource_Read(t *testing.T) {
	tests := []struct {
		name       string
		sent       []int64
		start, end int64
		want       []int64
	}{
		{
			name:  "bounded range",
			sent:  []int64{3, 4, 5, 6, 7, 8, 9},
			start: 5,
			end:   8,
			want:  []int64{5, 6, 7},
		},
		{
			name:  "gap inside the range",
			sent:  []int64{5, 7},
			start: 5,
			end:   8,
			want:  []int64{5, 7},
		},
		{
			name:  "gap at the tail",
			sent:  []int64{5, 6, 9},
			start: 5,
			end:   8,
			want:  []int64{5, 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := newFakeStream(tt.sent...)
			s, metrics := newTestSaramaSource(stream, time.Second)

			var got []int64
			if err := s.Read(context.Background(), "orders", 0, tt.start, tt.end, collect(&got)); err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Read() offsets = %v, want %v", got, tt.want)
			}
			if metrics.reads != len(tt.want) {
				t.Errorf("IncMessagesRead() calls = %d, want %d", metrics.reads, len(tt.want))
			}
			if !stream.closed {
				t.Error("partition stream was not closed")
			}
		})
	}
}

func TestSaramaSource_ReadEmptyRange(t *testing.T) {
	s, _ := newTestSaramaSource(nil, time.Second)
	called := false
	err := s.Read(context.Background(), "orders", 0, 7, 7, func(segment.RawMessage) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Errorf("Read() on empty range error = %v, called = %v", err, called)
	}
}

func TestSaramaSource_ReadTimeout(t *testing.T) {
	s, _ := newTestSaramaSource(newFakeStream(5), 20*time.Millisecond)

	var got []int64
	err := s.Read(context.Background(), "orders", 0, 5, 8, collect(&got))

	var transientErr *errors.TransientSourceError
	if !errors.As(err, &transientErr) {
		t.Fatalf("Read() error = %v, want TransientSourceError", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("read timeout should be retryable")
	}
	if len(got) != 1 {
		t.Errorf("delivered %d messages before timeout, want 1", len(got))
	}
}

func TestSaramaSource_ReadConsumerErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		checkType func(error) bool
	}{
		{
			name: "offset out of range",
			err:  sarama.ErrOffsetOutOfRange,
			checkType: func(err error) bool {
				var e *errors.ConsistencyError
				return errors.As(err, &e)
			},
		},
		{
			name: "broker failure",
			err:  sarama.ErrNotLeaderForPartition,
			checkType: func(err error) bool {
				var e *errors.TransientSourceError
				return errors.As(err, &e)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := newFakeStream()
			stream.errs <- &sarama.ConsumerError{Topic: "orders", Partition: 0, Err: tt.err}
			s, _ := newTestSaramaSource(stream, time.Second)

			err := s.Read(context.Background(), "orders", 0, 0, 10, func(segment.RawMessage) error { return nil })
			if !tt.checkType(err) {
				t.Errorf("Read() error = %T %v", err, err)
			}
		})
	}
}

func TestSaramaSource_ReadCallbackError(t *testing.T) {
	s, _ := newTestSaramaSource(newFakeStream(0, 1, 2), time.Second)
	stop := fmt.Errorf("stop")

	err := s.Read(context.Background(), "orders", 0, 0, 3, func(m segment.RawMessage) error {
		if m.Offset == 1 {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Errorf("Read() error = %v, want callback error", err)
	}
}

func TestSaramaSource_ReadCancelled(t *testing.T) {
	s, _ := newTestSaramaSource(newFakeStream(), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Read(ctx, "orders", 0, 0, 3, func(segment.RawMessage) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}

func TestSaramaSource_Metadata(t *testing.T) {
	s, _ := newTestSaramaSource(nil, time.Second)
	ctx := context.Background()

	partitions, err := s.ListPartitions(ctx, "orders")
	if err != nil {
		t.Fatalf("ListPartitions() error = %v", err)
	}
	if len(partitions) != 2 {
		t.Errorf("ListPartitions() = %v, want 2 partitions", partitions)
	}

	low, high, err := s.Watermarks(ctx, "orders", 1)
	if err != nil {
		t.Fatalf("Watermarks() error = %v", err)
	}
	if low != 10 || high != 40 {
		t.Errorf("Watermarks() = (%d, %d), want (10, 40)", low, high)
	}

	_, err = s.ListPartitions(ctx, "missing")
	var cfgErr *errors.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("ListPartitions(missing) error = %v, want ConfigurationError", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !s.client.(*fakeOffsetClient).closed {
		t.Error("client was not closed")
	}
}
