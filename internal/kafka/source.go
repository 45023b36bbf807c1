package kafka

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/source"
)

// Source client implementations.
const (
	ClientSarama  = "sarama"
	ClientKafkaGo = "kafka-go"
)

const defaultReadTimeout = 30 * time.Second

// ClientConfig contains the settings shared by both source clients.
type ClientConfig struct {
	BootstrapServers []string
	ClientID         string
	Security         SecurityConfig
	// ReadTimeout bounds the wait for the next message of a range.
	ReadTimeout time.Duration
}

func (c ClientConfig) readTimeout() time.Duration {
	if c.ReadTimeout <= 0 {
		return defaultReadTimeout
	}
	return c.ReadTimeout
}

// MetricsCollector defines metrics operations for the source clients.
type MetricsCollector interface {
	IncMessagesRead(topic string, partition int32)
}

// NewSource creates the source client named by kind.
func NewSource(kind string, cfg ClientConfig, logger *slog.Logger, metrics MetricsCollector) (source.Client, error) {
	if len(cfg.BootstrapServers) == 0 {
		return nil, &errors.ConfigurationError{Component: "kafka", Reason: "bootstrap servers are required"}
	}

	switch kind {
	case "", ClientSarama:
		return NewSaramaSource(cfg, logger, metrics)
	case ClientKafkaGo:
		return NewKafkaGoSource(cfg, logger, metrics)
	default:
		return nil, &errors.ConfigurationError{
			Component: "kafka",
			Reason:    fmt.Sprintf("unsupported client %q", kind),
		}
	}
}

func transient(topic string, partition int32, op string, err error) error {
	return &errors.TransientSourceError{Topic: topic, Partition: partition, Operation: op, Err: err}
}

func readTimeoutError(topic string, partition int32, next, end int64, timeout time.Duration) error {
	return transient(topic, partition, "read",
		fmt.Errorf("no message within %s, next offset %d of end %d: %w", timeout, next, end, errors.ErrConnectionLost))
}
