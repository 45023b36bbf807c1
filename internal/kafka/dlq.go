package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/segment"
	"github.com/jittakal/kafbridge/pkg/source"
)

// Ensure implementation satisfies interface at compile time.
var _ source.RejectPublisher = (*DLQPublisher)(nil)

const defaultDLQSuffix = ".dlq"

// DLQEvent represents a rejected message published to the dead letter queue.
type DLQEvent struct {
	// Payload is the original message value; encoding/json writes it base64.
	Payload           []byte    `json:"payload"`
	Key               []byte    `json:"key,omitempty"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	FailureReason     string    `json:"failure_reason"`
	FailureTimestamp  time.Time `json:"failure_timestamp"`
	ProcessorID       string    `json:"processor_id"`
}

// DLQConfig contains DLQ configuration.
type DLQConfig struct {
	Enabled     bool
	TopicSuffix string
	MaxRetries  int
}

// DLQMetrics defines metrics operations for the DLQ publisher.
type DLQMetrics interface {
	IncDLQPublished(topic string, status string)
}

// DLQPublisher publishes rejected payloads to a dead letter topic.
type DLQPublisher struct {
	producer    sarama.SyncProducer
	config      DLQConfig
	logger      *slog.Logger
	metrics     DLQMetrics
	mu          sync.RWMutex
	closed      bool
	processorID string
}

// NewDLQPublisher creates a new DLQ publisher. A disabled publisher accepts
// and drops every message.
func NewDLQPublisher(
	client ClientConfig,
	dlqConfig DLQConfig,
	logger *slog.Logger,
	metrics DLQMetrics,
	processorID string,
) (*DLQPublisher, error) {
	if !dlqConfig.Enabled {
		logger.Info("DLQ is disabled")
		return newDLQPublisher(nil, dlqConfig, logger, metrics, processorID), nil
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	if client.ClientID != "" {
		saramaConfig.ClientID = client.ClientID
	}
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	if dlqConfig.MaxRetries > 0 {
		saramaConfig.Producer.Retry.Max = dlqConfig.MaxRetries
	}
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	if err := configureSecurity(saramaConfig, client.Security); err != nil {
		return nil, &errors.ConfigurationError{Component: "dlq", Reason: "invalid security settings", Err: err}
	}

	producer, err := sarama.NewSyncProducer(client.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		"bootstrap_servers", client.BootstrapServers,
		"topic_suffix", dlqConfig.TopicSuffix,
	)

	return newDLQPublisher(producer, dlqConfig, logger, metrics, processorID), nil
}

func newDLQPublisher(producer sarama.SyncProducer, cfg DLQConfig, logger *slog.Logger, metrics DLQMetrics, processorID string) *DLQPublisher {
	if cfg.TopicSuffix == "" {
		cfg.TopicSuffix = defaultDLQSuffix
	}
	return &DLQPublisher{
		producer:    producer,
		config:      cfg,
		logger:      logger,
		metrics:     metrics,
		processorID: processorID,
	}
}

// Topic returns the dead letter topic of topic.
func (p *DLQPublisher) Topic(topic string) string {
	return topic + p.config.TopicSuffix
}

// Publish publishes a rejected message to the DLQ.
func (p *DLQPublisher) Publish(ctx context.Context, topic string, msg segment.RawMessage, reason string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrWriterClosed
	}
	if !p.config.Enabled || p.producer == nil {
		return nil
	}

	dlqTopic := p.Topic(topic)

	dlqData, err := json.Marshal(DLQEvent{
		Payload:           msg.Payload,
		Key:               msg.Key,
		OriginalTopic:     topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		FailureReason:     reason,
		FailureTimestamp:  time.Now().UTC(),
		ProcessorID:       p.processorID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ event: %w", err)
	}

	pm := &sarama.ProducerMessage{
		Topic: dlqTopic,
		Value: sarama.ByteEncoder(dlqData),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failure_reason"), Value: []byte(reason)},
			{Key: []byte("original_topic"), Value: []byte(topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(msg.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			{Key: []byte("processor_id"), Value: []byte(p.processorID)},
		},
		Timestamp: time.Now(),
	}
	if len(msg.Key) > 0 {
		pm.Key = sarama.ByteEncoder(msg.Key)
	}

	partition, offset, err := p.producer.SendMessage(pm)
	if err != nil {
		p.incPublished(dlqTopic, "error")
		p.logger.Error("failed to publish to DLQ",
			"error", err,
			"dlq_topic", dlqTopic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}
	p.incPublished(dlqTopic, "success")

	p.logger.Debug("published rejected message to DLQ",
		"dlq_topic", dlqTopic,
		"dlq_partition", partition,
		"dlq_offset", offset,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"reason", reason,
	)

	return nil
}

func (p *DLQPublisher) incPublished(topic, status string) {
	if p.metrics != nil {
		p.metrics.IncDLQPublished(topic, status)
	}
}

// Close closes the DLQ publisher.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing producer", "error", err)
			return err
		}
	}

	p.logger.Info("DLQ publisher closed")
	return nil
}
