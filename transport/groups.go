package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// SubscriberForGroup builds a watermill subscriber bound to one consumer
// group. Brokers that fix the group at subscriber construction (Kafka
// consumer groups, AMQP queue names, NATS queue groups) use it.
type SubscriberForGroup func(group string) (message.Subscriber, error)

// GroupConsumer implements Consumer by keeping one subscriber per group.
type GroupConsumer struct {
	build SubscriberForGroup

	mu     sync.Mutex
	subs   map[string]message.Subscriber
	closed bool
}

func NewGroupConsumer(build SubscriberForGroup) *GroupConsumer {
	return &GroupConsumer{build: build, subs: make(map[string]message.Subscriber)}
}

func (g *GroupConsumer) Subscribe(ctx context.Context, topic, group string) (<-chan *message.Message, error) {
	sub, err := g.subscriber(group)
	if err != nil {
		return nil, err
	}
	return sub.Subscribe(ctx, topic)
}

func (g *GroupConsumer) subscriber(group string) (message.Subscriber, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, errors.New("consumer is closed")
	}
	if sub, ok := g.subs[group]; ok {
		return sub, nil
	}
	sub, err := g.build(group)
	if err != nil {
		return nil, fmt.Errorf("subscriber for group %q: %w", group, err)
	}
	g.subs[group] = sub
	return sub, nil
}

// Groups returns how many per-group subscribers are open.
func (g *GroupConsumer) Groups() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Close closes every subscriber and joins their errors. Close is idempotent.
func (g *GroupConsumer) Close() error {
	g.mu.Lock()
	subs := g.subs
	g.subs = make(map[string]message.Subscriber)
	g.closed = true
	g.mu.Unlock()

	var errs []error
	for group, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close group %q: %w", group, err))
		}
	}
	return errors.Join(errs...)
}
