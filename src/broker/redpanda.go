package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"buildreport-agent/src/logger"
)

// RedpandaBroker is a Kafka-compatible broker implementation using franz-go.
type RedpandaBroker struct {
	client    *kgo.Client
	brokers   []string
	clientID  string
	fromStart bool
	logger    logger.Logger

	mu        sync.RWMutex
	consumers map[string]*kgo.Client // topic:groupID -> consumer client
	closed    bool
}

// RedpandaOption configures a RedpandaBroker.
type RedpandaOption func(*RedpandaBroker)

// WithClientID sets the client ID reported to the cluster.
func WithClientID(id string) RedpandaOption {
	return func(b *RedpandaBroker) { b.clientID = id }
}

// WithConsumeFromStart makes new consumer groups replay topics from the first offset
// instead of only receiving new records.
func WithConsumeFromStart(fromStart bool) RedpandaOption {
	return func(b *RedpandaBroker) { b.fromStart = fromStart }
}

// WithLogger routes fetch errors to log.
func WithLogger(log logger.Logger) RedpandaOption {
	return func(b *RedpandaBroker) { b.logger = log }
}

// NewRedpandaBroker creates a new RedpandaBroker instance.
// brokers is a slice of broker addresses (e.g., ["localhost:19092"]).
func NewRedpandaBroker(brokers []string, opts ...RedpandaOption) (*RedpandaBroker, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}

	b := &RedpandaBroker{
		brokers:   brokers,
		clientID:  "buildreport-agent",
		logger:    logger.NewSilentLogger(),
		consumers: make(map[string]*kgo.Client),
	}
	for _, opt := range opts {
		opt(b)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(b.clientID),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}
	b.client = client

	return b, nil
}

// Publish sends a message to a topic with the specified key.
func (b *RedpandaBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("broker is closed")
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	if err := b.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Subscribe creates a consumer for the specified topic and consumer group.
func (b *RedpandaBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}

	consumerKey := fmt.Sprintf("%s:%s", topic, groupID)
	if _, exists := b.consumers[consumerKey]; exists {
		return nil, fmt.Errorf("consumer already exists for topic %s and group %s", topic, groupID)
	}

	offset := kgo.NewOffset().AtEnd()
	if b.fromStart {
		offset = kgo.NewOffset().AtStart()
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(b.brokers...),
		kgo.ClientID(b.clientID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(offset),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	b.consumers[consumerKey] = consumer

	msgChan := make(chan Message, subscriberBuffer)
	go b.consumeLoop(ctx, consumer, msgChan)

	return msgChan, nil
}

// consumeLoop polls for records until ctx is done or the consumer is closed.
func (b *RedpandaBroker) consumeLoop(ctx context.Context, consumer *kgo.Client, msgChan chan<- Message) {
	defer close(msgChan)

	for {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				b.logger.Warn("[RedpandaBroker] Fetch error on %s/%d: %v", e.Topic, e.Partition, e.Err)
			}
			continue
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			msg := Message{
				Topic:     record.Topic,
				Key:       string(record.Key),
				Value:     record.Value,
				Offset:    record.Offset,
				Partition: record.Partition,
				Timestamp: record.Timestamp.UnixMilli(),
			}

			select {
			case msgChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close shuts down the broker and all consumer connections.
func (b *RedpandaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, consumer := range b.consumers {
		consumer.Close()
	}
	b.consumers = make(map[string]*kgo.Client)
	b.client.Close()

	return nil
}
