// Package events carries mutation notifications to subscription resolvers.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Broker publishes payloads on named topics
type Broker interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	// Subscribe returns a channel of payloads for topic and a function that
	// ends the subscription and closes the channel
	Subscribe(ctx context.Context, topic string) (<-chan interface{}, func())
}

// Memory is an in-process Broker. Slow subscribers lose payloads rather than
// block publishers.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
	logger *zap.Logger
}

type subscription struct {
	ch   chan interface{}
	once sync.Once
}

// NewMemory creates a broker whose subscriber channels hold buffer payloads
func NewMemory(buffer int, logger *zap.Logger) *Memory {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Publish delivers payload to every current subscriber of topic
func (m *Memory) Publish(ctx context.Context, topic string, payload interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for sub := range m.subs[topic] {
		select {
		case sub.ch <- payload:
		default:
			m.logger.Warn("dropping event for slow subscriber", zap.String("topic", topic))
		}
	}
	return ctx.Err()
}

// Subscribe registers a subscriber. The subscription also ends when ctx is done.
func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan interface{}, func()) {
	sub := &subscription{ch: make(chan interface{}, m.buffer)}

	m.mu.Lock()
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*subscription]struct{})
	}
	m.subs[topic][sub] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			m.mu.Lock()
			delete(m.subs[topic], sub)
			if len(m.subs[topic]) == 0 {
				delete(m.subs, topic)
			}
			m.mu.Unlock()
			close(sub.ch)
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return sub.ch, cancel
}

// Subscribers returns the number of live subscriptions on topic
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

// Next waits for the next payload on topic
func Next(ctx context.Context, b Broker, topic string) (interface{}, error) {
	return NextMatch(ctx, b, topic, nil)
}

// NextMatch waits for the next payload on topic that match accepts. A nil
// match accepts everything; a match error ends the wait.
func NextMatch(ctx context.Context, b Broker, topic string, match func(interface{}) (bool, error)) (interface{}, error) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	ch, cancel := b.Subscribe(ctx, topic)
	defer cancel()

	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return nil, ctx.Err()
			}
			if match == nil {
				return v, nil
			}
			accepted, err := match(v)
			if err != nil {
				return nil, err
			}
			if accepted {
				return v, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
