package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/simabus/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats", caps.Name)
	assert.True(t, caps.SupportsConsumerGroups)
	assert.False(t, caps.SupportsReliableDelivery())
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.NATSCapabilities, Capabilities())
}

func overrideFactories(t *testing.T) {
	t.Helper()
	pub, sub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = pub
		SubscriberFactory = sub
	})
}

func TestDialPublisher(t *testing.T) {
	t.Run("core nats publisher", func(t *testing.T) {
		overrideFactories(t)

		mockPub := &mockPublisher{}
		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, "nats://localhost:4222", cfg.URL)
			assert.True(t, cfg.JetStream.Disabled)
			assert.NotEmpty(t, cfg.NatsOptions)
			assert.NotNil(t, cfg.Marshaler)
			return mockPub, nil
		}

		pub, err := DialPublisher(context.Background(), &mockConfig{url: "nats://localhost:4222"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, mockPub, pub)
	})

	t.Run("requires url", func(t *testing.T) {
		_, err := DialPublisher(context.Background(), &mockConfig{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "nats: URL is required")
	})

	t.Run("factory error", func(t *testing.T) {
		overrideFactories(t)
		PublisherFactory = func(nats.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("no servers available")
		}
		_, err := DialPublisher(context.Background(), &mockConfig{url: "nats://localhost:4222"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "no servers available")
	})
}

func TestDialConsumer(t *testing.T) {
	overrideFactories(t)

	var prefixes []string
	SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		prefixes = append(prefixes, cfg.QueueGroupPrefix)
		assert.True(t, cfg.JetStream.Disabled)
		return &mockSubscriber{}, nil
	}

	c, err := DialConsumer(context.Background(), &mockConfig{url: "nats://localhost:4222"}, watermill.NopLogger{})
	require.NoError(t, err)

	for _, group := range []string{"audit-consumer", "audit-consumer", "notifications"} {
		_, err := c.Subscribe(context.Background(), "user.created", group)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"audit-consumer", "notifications"}, prefixes)
	require.NoError(t, c.Close())
}

type mockConfig struct {
	url string
}

func (m *mockConfig) GetPubSubSystem() string          { return "nats" }
func (m *mockConfig) GetKafkaBrokers() []string        { return nil }
func (m *mockConfig) GetKafkaClientID() string         { return "sima-test" }
func (m *mockConfig) GetKafkaStartOffset() string      { return "" }
func (m *mockConfig) GetRabbitMQURL() string           { return "" }
func (m *mockConfig) GetNATSURL() string               { return m.url }
func (m *mockConfig) GetAWSRegion() string             { return "" }
func (m *mockConfig) GetAWSAccountID() string          { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string        { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string    { return "" }
func (m *mockConfig) GetAWSEndpoint() string           { return "" }
func (m *mockConfig) GetMemoryPartitions() int         { return 0 }
func (m *mockConfig) GetConnectTimeout() time.Duration { return time.Second }
func (m *mockConfig) GetPublishTimeout() time.Duration { return 0 }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
