// Package source defines the interface to a partitioned, offset-addressed
// streaming source such as a Kafka topic.
package source

import (
	"context"

	"github.com/jittakal/kafbridge/pkg/segment"
)

// Client reads partition metadata and bounded offset ranges from a topic.
type Client interface {
	// ListPartitions returns the partition ids of topic.
	ListPartitions(ctx context.Context, topic string) ([]int32, error)

	// Watermarks returns the earliest available offset and the high watermark
	// (the offset the next produced message will get) of a partition.
	Watermarks(ctx context.Context, topic string, partition int32) (low, high int64, err error)

	// Read calls fn for every message with offset in [start, end), in offset
	// order. It returns only after end-1 was delivered or an error occurred.
	Read(ctx context.Context, topic string, partition int32, start, end int64, fn func(segment.RawMessage) error) error

	// Close closes the client and releases resources.
	Close() error
}

// RejectPublisher receives payloads the parser rejected.
type RejectPublisher interface {
	// Publish records a rejected message with a reason.
	Publish(ctx context.Context, topic string, msg segment.RawMessage, reason string) error

	// Close closes the publisher and releases resources.
	Close() error
}
