package memory

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/simabus/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "memory"

var (
	sharedMu sync.Mutex
	shared   *Broker
)

func init() {
	transport.Register(transport.Driver{
		Name: TransportName,
		DialPublisher: func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return Shared(cfg.GetMemoryPartitions(), logger).Publisher(), nil
		},
		DialConsumer: func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Consumer, error) {
			return Shared(cfg.GetMemoryPartitions(), logger).Consumer(), nil
		},
		Capabilities: transport.MemoryCapabilities,
	})
}

// Shared returns the process-wide broker behind the registered "memory"
// driver, creating it on first use. A closed shared broker is replaced.
func Shared(partitions int, logger watermill.LoggerAdapter) *Broker {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil || shared.isClosed() {
		shared = NewBroker(partitions, WithLogger(logger))
	}
	return shared
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Driver returns a driver bound to b. Publishers and consumers dialed through
// it share b, and closing them leaves b running.
func Driver(b *Broker) transport.Driver {
	return transport.Driver{
		Name: TransportName,
		DialPublisher: func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return b.Publisher(), nil
		},
		DialConsumer: func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Consumer, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return b.Consumer(), nil
		},
		Capabilities: transport.MemoryCapabilities,
	}
}

// Publisher returns a handle publishing into b.
func (b *Broker) Publisher() message.Publisher {
	return &publisher{broker: b}
}

// Consumer returns a handle whose Close removes only the members it created.
func (b *Broker) Consumer() transport.Consumer {
	return &consumer{broker: b}
}

type publisher struct {
	broker *Broker

	mu     sync.RWMutex
	closed bool
}

func (p *publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.broker.Publish(topic, messages...)
}

func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type consumer struct {
	broker *Broker

	mu      sync.Mutex
	members []*member
	closed  bool
}

func (c *consumer) Subscribe(ctx context.Context, topic, group string) (<-chan *message.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	m, err := c.broker.join(ctx, topic, group)
	if err != nil {
		return nil, err
	}
	c.members = append(c.members, m)
	return m.out, nil
}

func (c *consumer) Close() error {
	c.mu.Lock()
	members := c.members
	c.members = nil
	c.closed = true
	c.mu.Unlock()

	for _, m := range members {
		m.stop()
	}
	return nil
}
