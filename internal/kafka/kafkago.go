package kafka

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/segment"
	"github.com/jittakal/kafbridge/pkg/source"
)

// Ensure implementation satisfies interface at compile time.
var _ source.Client = (*KafkaGoSource)(nil)

const (
	kafkaGoDialTimeout = 10 * time.Second
	batchMaxBytes      = 5e6
)

// KafkaGoSource implements source.Client with segmentio/kafka-go. Every call
// dials the partition leader directly; there is no consumer group.
type KafkaGoSource struct {
	dialer      *kafkago.Dialer
	brokers     []string
	readTimeout time.Duration
	logger      *slog.Logger
	metrics     MetricsCollector

	mu     sync.Mutex
	closed bool
}

// NewKafkaGoSource creates the source. No connection is opened until the
// first call.
func NewKafkaGoSource(cfg ClientConfig, logger *slog.Logger, metrics MetricsCollector) (*KafkaGoSource, error) {
	dialer, err := newDialer(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("kafka-go source created",
		"bootstrap_servers", cfg.BootstrapServers,
		"security_protocol", cfg.Security.SecurityProtocol,
	)

	return &KafkaGoSource{
		dialer:      dialer,
		brokers:     cfg.BootstrapServers,
		readTimeout: cfg.readTimeout(),
		logger:      logger,
		metrics:     metrics,
	}, nil
}

func newDialer(cfg ClientConfig) (*kafkago.Dialer, error) {
	dialer := &kafkago.Dialer{
		Timeout:   kafkaGoDialTimeout,
		DualStack: true,
		ClientID:  cfg.ClientID,
	}

	sec := cfg.Security
	if sec.usesSASL() {
		mechanism, err := saslMechanism(sec)
		if err != nil {
			return nil, err
		}
		dialer.SASLMechanism = mechanism
	}
	if sec.usesTLS() {
		tlsCfg, err := tlsConfig(sec)
		if err != nil {
			return nil, &errors.ConfigurationError{Component: "kafka", Reason: "invalid TLS settings", Err: err}
		}
		dialer.TLS = tlsCfg
	}
	return dialer, nil
}

func saslMechanism(sec SecurityConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(sec.SASLMechanism) {
	case "", MechanismPlain:
		return plain.Mechanism{Username: sec.SASLUsername, Password: sec.SASLPassword}, nil
	case MechanismSCRAMSHA256:
		m, err := scram.Mechanism(scram.SHA256, sec.SASLUsername, sec.SASLPassword)
		if err != nil {
			return nil, &errors.ConfigurationError{Component: "kafka", Reason: "invalid SCRAM settings", Err: err}
		}
		return m, nil
	case MechanismSCRAMSHA512:
		m, err := scram.Mechanism(scram.SHA512, sec.SASLUsername, sec.SASLPassword)
		if err != nil {
			return nil, &errors.ConfigurationError{Component: "kafka", Reason: "invalid SCRAM settings", Err: err}
		}
		return m, nil
	default:
		return nil, &errors.ConfigurationError{
			Component: "kafka",
			Reason:    fmt.Sprintf("SASL mechanism %s is not supported by the kafka-go client", sec.SASLMechanism),
		}
	}
}

// dialAny connects to the first reachable bootstrap server.
func (s *KafkaGoSource) dialAny(ctx context.Context) (*kafkago.Conn, error) {
	var lastErr error
	for _, broker := range s.brokers {
		conn, err := s.dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		s.logger.Warn("failed to dial broker", "broker", broker, "error", err)
	}
	return nil, lastErr
}

func (s *KafkaGoSource) dialLeader(ctx context.Context, topic string, partition int32) (*kafkago.Conn, error) {
	var lastErr error
	for _, broker := range s.brokers {
		conn, err := s.dialer.DialLeader(ctx, "tcp", broker, topic, int(partition))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if errors.Is(err, kafkago.UnknownTopicOrPartition) {
			break
		}
	}
	return nil, lastErr
}

func (s *KafkaGoSource) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrSourceClosed
	}
	return nil
}

// ListPartitions returns the partition ids of topic.
func (s *KafkaGoSource) ListPartitions(ctx context.Context, topic string) ([]int32, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	conn, err := s.dialAny(ctx)
	if err != nil {
		return nil, classifyKafkaGo(topic, -1, "list_partitions", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return nil, classifyKafkaGo(topic, -1, "list_partitions", err)
	}

	ids := make([]int32, 0, len(partitions))
	for _, p := range partitions {
		if p.Topic == topic {
			ids = append(ids, int32(p.ID))
		}
	}
	return ids, nil
}

// Watermarks returns the earliest and the next offset of a partition.
func (s *KafkaGoSource) Watermarks(ctx context.Context, topic string, partition int32) (int64, int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, 0, err
	}
	conn, err := s.dialLeader(ctx, topic, partition)
	if err != nil {
		return 0, 0, classifyKafkaGo(topic, partition, "watermarks", err)
	}
	defer conn.Close()

	low, err := conn.ReadFirstOffset()
	if err != nil {
		return 0, 0, classifyKafkaGo(topic, partition, "watermarks", err)
	}
	high, err := conn.ReadLastOffset()
	if err != nil {
		return 0, 0, classifyKafkaGo(topic, partition, "watermarks", err)
	}
	return low, high, nil
}

// Read delivers every message with offset in [start, end) to fn.
func (s *KafkaGoSource) Read(ctx context.Context, topic string, partition int32, start, end int64, fn func(segment.RawMessage) error) error {
	if start >= end {
		return nil
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	conn, err := s.dialLeader(ctx, topic, partition)
	if err != nil {
		return classifyKafkaGo(topic, partition, "read", err)
	}
	defer conn.Close()

	if _, err := conn.Seek(start, kafkago.SeekAbsolute); err != nil {
		return classifyKafkaGo(topic, partition, "seek", err)
	}

	next := start
	for next < end {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return transient(topic, partition, "read", err)
		}

		batch := conn.ReadBatch(1, batchMaxBytes)
		done, readErr := s.drainBatch(batch, topic, partition, &next, end, fn)
		closeErr := batch.Close()

		if readErr != nil {
			return readErr
		}
		if done {
			return nil
		}
		if closeErr != nil && !errors.Is(closeErr, io.EOF) {
			if isTimeout(closeErr) {
				return readTimeoutError(topic, partition, next, end, s.readTimeout)
			}
			return classifyKafkaGo(topic, partition, "read", closeErr)
		}

		// transaction markers leave gaps the batch does not report
		current, err := conn.Seek(0, kafkago.SeekCurrent)
		if err == nil && current >= end {
			return nil
		}
	}
	return nil
}

// drainBatch hands the messages of one fetch to fn. It reports done once a
// message at or past end was seen or end-1 was delivered.
func (s *KafkaGoSource) drainBatch(
	batch *kafkago.Batch,
	topic string,
	partition int32,
	next *int64,
	end int64,
	fn func(segment.RawMessage) error,
) (bool, error) {
	for {
		msg, err := batch.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			if isTimeout(err) {
				return false, readTimeoutError(topic, partition, *next, end, s.readTimeout)
			}
			return false, classifyKafkaGo(topic, partition, "read", err)
		}

		if msg.Offset < *next {
			continue
		}
		if msg.Offset >= end {
			return true, nil
		}

		if err := fn(segment.RawMessage{
			Partition: partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Payload:   msg.Value,
			Timestamp: msg.Time,
		}); err != nil {
			return false, err
		}
		if s.metrics != nil {
			s.metrics.IncMessagesRead(topic, partition)
		}

		*next = msg.Offset + 1
		if *next >= end {
			return true, nil
		}
	}
}

// Close marks the source closed. Connections are per call.
func (s *KafkaGoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logger.Info("closing kafka-go source")
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyKafkaGo maps kafka-go errors to the bridge's error kinds.
func classifyKafkaGo(topic string, partition int32, op string, err error) error {
	switch {
	case errors.Is(err, kafkago.UnknownTopicOrPartition):
		return &errors.ConfigurationError{
			Component: "kafka",
			Reason:    fmt.Sprintf("unknown topic or partition %s/%d", topic, partition),
			Err:       err,
		}
	case errors.Is(err, kafkago.OffsetOutOfRange):
		return &errors.ConsistencyError{
			Partition: partition,
			Reason:    fmt.Sprintf("offset out of range on %s: %v", topic, err),
		}
	default:
		return transient(topic, partition, op, err)
	}
}
