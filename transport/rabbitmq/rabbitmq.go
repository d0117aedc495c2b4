// Package rabbitmq provides the AMQP driver. A consumer group maps to one
// durable queue per topic named "<topic>_<group>", so group members compete
// on that queue while other groups get their own copy.
package rabbitmq

import (
	"context"
	"errors"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/simabus/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register adds the RabbitMQ driver to the default registry.
func Register() {
	transport.Register(Driver())
}

func Driver() transport.Driver {
	return transport.Driver{
		Name:          TransportName,
		DialPublisher: DialPublisher,
		DialConsumer:  DialConsumer,
		Capabilities:  transport.RabbitMQCapabilities,
	}
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

// QueueConfig returns the durable pub/sub config used for group.
func QueueConfig(url, group string) amqp.Config {
	return amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicNameWithSuffix(group))
}

func dial(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return nil, errors.New("rabbitmq: URL is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
}

// DialPublisher opens a dedicated AMQP connection for publishing.
func DialPublisher(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	conn, err := dial(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	pub, err := PublisherFactory(QueueConfig(cfg.GetRabbitMQURL(), ""), logger, conn)
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	return &publisher{Publisher: pub, conn: conn}, nil
}

// DialConsumer opens a dedicated AMQP connection shared by every group.
func DialConsumer(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Consumer, error) {
	conn, err := dial(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	url := cfg.GetRabbitMQURL()
	groups := transport.NewGroupConsumer(func(group string) (message.Subscriber, error) {
		return SubscriberFactory(QueueConfig(url, group), logger, conn)
	})
	return &consumer{GroupConsumer: groups, conn: conn}, nil
}

// publisher closes the connection it owns after the watermill publisher.
type publisher struct {
	message.Publisher
	conn io.Closer
}

func (p *publisher) Close() error {
	return errors.Join(p.Publisher.Close(), p.conn.Close())
}

type consumer struct {
	*transport.GroupConsumer
	conn io.Closer
}

func (c *consumer) Close() error {
	return errors.Join(c.GroupConsumer.Close(), c.conn.Close())
}
