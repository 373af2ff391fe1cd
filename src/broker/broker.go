// Package broker defines the event bus interface and its implementations.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
)

// Broker abstracts message publishing and consumption.
// Implemented in memory for single-process runs and on Redpanda/Kafka for shared deployments.
type Broker interface {
	// Publish sends a message to a topic. Redpanda uses key for partition assignment.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe returns a channel of messages on topic. The channel closes when ctx
	// is done or the broker is closed. groupID is ignored in memory.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	// Close shuts down the broker connection gracefully.
	Close() error
}

// Message represents a consumed message from a broker.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp int64
}

// PublishJSON marshals v and publishes it under key.
func PublishJSON(ctx context.Context, b Broker, topic, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", topic, err)
	}
	return b.Publish(ctx, topic, key, data)
}
