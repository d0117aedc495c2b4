// Package transport defines the broker driver contract. Each driver (kafka,
// rabbitmq, nats, aws, memory) lives in its own sub-package and registers itself
// with the registry from init.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Consumer is the consume-side connection of a driver. One Consumer serves
// many subscriptions; group decides how messages are shared between
// processes subscribed with the same name.
type Consumer interface {
	Subscribe(ctx context.Context, topic, group string) (<-chan *message.Message, error)
	Close() error
}

// PublisherDialer performs the physical connect for the publish role.
type PublisherDialer func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error)

// ConsumerDialer performs the physical connect for the consume role.
type ConsumerDialer func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Consumer, error)

// Driver bundles the dialers of one broker technology.
type Driver struct {
	Name          string
	DialPublisher PublisherDialer
	DialConsumer  ConsumerDialer
	Capabilities  Capabilities
}

// Config provides the configuration values needed by drivers without
// depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the driver name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaStartOffset() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// AWS SNS/SQS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string

	// Memory
	GetMemoryPartitions() int

	GetConnectTimeout() time.Duration
	GetPublishTimeout() time.Duration
}
