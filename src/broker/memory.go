package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const subscriberBuffer = 100

// InMemoryBroker delivers messages to every live subscriber of a topic.
// Messages published before a subscription are not replayed.
type InMemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	offset map[string]int64
	closed bool
}

type subscription struct {
	ch   chan Message
	done chan struct{}
	once sync.Once
	mu   sync.Mutex // held while sending on ch
}

func newSubscription() *subscription {
	return &subscription{
		ch:   make(chan Message, subscriberBuffer),
		done: make(chan struct{}),
	}
}

func (s *subscription) send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		subs:   make(map[string][]*subscription),
		offset: make(map[string]int64),
	}
}

// Publish delivers value to the current subscribers of topic. A subscriber whose
// buffer is full blocks the publisher until it catches up or ctx is done.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker is closed")
	}
	msg := Message{
		Topic:     topic,
		Key:       key,
		Value:     append([]byte(nil), value...),
		Offset:    b.offset[topic],
		Timestamp: time.Now().UnixMilli(),
	}
	b.offset[topic]++
	subs := append([]*subscription(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a subscriber on topic until ctx is done.
func (b *InMemoryBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}

	sub := newSubscription()
	b.subs[topic] = append(b.subs[topic], sub)

	go func() {
		select {
		case <-ctx.Done():
			b.remove(topic, sub)
		case <-sub.done:
		}
	}()

	return sub.ch, nil
}

func (b *InMemoryBroker) remove(topic string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s == sub {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	sub.close()
}

// Close closes every subscriber channel. Further publishes fail.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	b.subs = make(map[string][]*subscription)
	return nil
}
