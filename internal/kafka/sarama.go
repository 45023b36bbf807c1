package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/segment"
	"github.com/jittakal/kafbridge/pkg/source"
)

// Ensure implementation satisfies interface at compile time.
var _ source.Client = (*SaramaSource)(nil)

// offsetClient is the part of sarama.Client the source uses.
type offsetClient interface {
	RefreshMetadata(topics ...string) error
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partitionID int32, time int64) (int64, error)
	Close() error
}

// partitionStream is the part of sarama.PartitionConsumer the source uses.
type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// SaramaSource implements source.Client with IBM/sarama. Watermarks come from
// ListOffsets requests and ranges are read with a plain partition consumer,
// so no consumer group offsets are ever committed.
type SaramaSource struct {
	client      offsetClient
	consumer    sarama.Consumer
	consume     func(topic string, partition int32, offset int64) (partitionStream, error)
	readTimeout time.Duration
	logger      *slog.Logger
	metrics     MetricsCollector
}

// NewSaramaSource connects to the brokers.
func NewSaramaSource(cfg ClientConfig, logger *slog.Logger, metrics MetricsCollector) (*SaramaSource, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	if cfg.ClientID != "" {
		saramaConfig.ClientID = cfg.ClientID
	}
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = false
	// only committed data of transactional producers
	saramaConfig.Consumer.IsolationLevel = sarama.ReadCommitted

	if err := configureSecurity(saramaConfig, cfg.Security); err != nil {
		return nil, &errors.ConfigurationError{Component: "kafka", Reason: "invalid security settings", Err: err}
	}

	client, err := sarama.NewClient(cfg.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, transient("", -1, "connect", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, transient("", -1, "connect", err)
	}

	logger.Info("sarama source created",
		"bootstrap_servers", cfg.BootstrapServers,
		"security_protocol", cfg.Security.SecurityProtocol,
	)

	s := newSaramaSource(client, consumer, cfg.readTimeout(), logger, metrics)
	return s, nil
}

func newSaramaSource(client offsetClient, consumer sarama.Consumer, readTimeout time.Duration, logger *slog.Logger, metrics MetricsCollector) *SaramaSource {
	s := &SaramaSource{
		client:      client,
		consumer:    consumer,
		readTimeout: readTimeout,
		logger:      logger,
		metrics:     metrics,
	}
	s.consume = func(topic string, partition int32, offset int64) (partitionStream, error) {
		return s.consumer.ConsumePartition(topic, partition, offset)
	}
	return s
}

// ListPartitions returns the partition ids of topic.
func (s *SaramaSource) ListPartitions(ctx context.Context, topic string) ([]int32, error) {
	if err := s.client.RefreshMetadata(topic); err != nil {
		return nil, classify(topic, -1, "list_partitions", err)
	}
	partitions, err := s.client.Partitions(topic)
	if err != nil {
		return nil, classify(topic, -1, "list_partitions", err)
	}
	return partitions, nil
}

// Watermarks returns the earliest and the next offset of a partition.
func (s *SaramaSource) Watermarks(ctx context.Context, topic string, partition int32) (int64, int64, error) {
	low, err := s.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, classify(topic, partition, "watermarks", err)
	}
	high, err := s.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, classify(topic, partition, "watermarks", err)
	}
	return low, high, nil
}

// Read delivers every message with offset in [start, end) to fn.
func (s *SaramaSource) Read(ctx context.Context, topic string, partition int32, start, end int64, fn func(segment.RawMessage) error) error {
	if start >= end {
		return nil
	}

	stream, err := s.consume(topic, partition, start)
	if err != nil {
		return classify(topic, partition, "read", err)
	}
	defer stream.Close()

	timer := time.NewTimer(s.readTimeout)
	defer timer.Stop()

	next := start
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-stream.Messages():
			if !ok {
				return transient(topic, partition, "read", errors.ErrSourceClosed)
			}
			if msg.Offset < next {
				continue
			}
			// offsets past the last delivered one can be skipped control records
			if msg.Offset >= end {
				return nil
			}

			if err := fn(segment.RawMessage{
				Partition: partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Payload:   msg.Value,
				Timestamp: msg.Timestamp,
			}); err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.IncMessagesRead(topic, partition)
			}

			next = msg.Offset + 1
			if next >= end {
				return nil
			}
			timer.Reset(s.readTimeout)

		case cerr, ok := <-stream.Errors():
			if !ok {
				return transient(topic, partition, "read", errors.ErrSourceClosed)
			}
			return classify(topic, partition, "read", cerr.Err)

		case <-timer.C:
			return readTimeoutError(topic, partition, next, end, s.readTimeout)
		}
	}
}

// Close closes the consumer and the client.
func (s *SaramaSource) Close() error {
	s.logger.Info("closing sarama source")
	var firstErr error
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.client.Close(); err != nil && firstErr == nil && err != sarama.ErrClosedClient {
		firstErr = err
	}
	return firstErr
}

// classify maps sarama errors to the bridge's error kinds.
func classify(topic string, partition int32, op string, err error) error {
	switch {
	case errors.Is(err, sarama.ErrUnknownTopicOrPartition):
		return &errors.ConfigurationError{
			Component: "kafka",
			Reason:    fmt.Sprintf("unknown topic or partition %s/%d", topic, partition),
			Err:       err,
		}
	case errors.Is(err, sarama.ErrOffsetOutOfRange):
		return &errors.ConsistencyError{
			Partition: partition,
			Reason:    fmt.Sprintf("offset out of range on %s: %v", topic, err),
		}
	default:
		return transient(topic, partition, op, err)
	}
}
