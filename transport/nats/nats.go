// Package nats provides the NATS core driver. A consumer group maps to a NATS
// queue group; members of one group share the subject's messages.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/simabus/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the NATS driver to the default registry.
func Register() {
	transport.Register(Driver())
}

func Driver() transport.Driver {
	return transport.Driver{
		Name:          TransportName,
		DialPublisher: DialPublisher,
		DialConsumer:  DialConsumer,
		Capabilities:  transport.NATSCapabilities,
	}
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

func connectOptions(cfg transport.Config) []nc.Option {
	opts := []nc.Option{nc.RetryOnFailedConnect(false)}
	if id := cfg.GetKafkaClientID(); id != "" {
		opts = append(opts, nc.Name(id))
	}
	if timeout := cfg.GetConnectTimeout(); timeout > 0 {
		opts = append(opts, nc.Timeout(timeout))
	}
	return opts
}

func urlFrom(ctx context.Context, cfg transport.Config) (string, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return "", errors.New("nats: URL is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return url, nil
}

// DialPublisher connects a core NATS publisher.
func DialPublisher(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	url, err := urlFrom(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: connectOptions(cfg),
			Marshaler:   &nats.NATSMarshaler{},
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
}

// DialConsumer returns a consumer creating one queue-group subscriber per
// group. The first subscriber performs the physical connect, so the URL is
// checked eagerly here.
func DialConsumer(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Consumer, error) {
	url, err := urlFrom(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := connectOptions(cfg)
	return transport.NewGroupConsumer(func(group string) (message.Subscriber, error) {
		return SubscriberFactory(
			nats.SubscriberConfig{
				URL:              url,
				QueueGroupPrefix: group,
				NatsOptions:      opts,
				Unmarshaler:      &nats.NATSMarshaler{},
				JetStream:        nats.JetStreamConfig{Disabled: true},
			},
			logger,
		)
	}), nil
}
