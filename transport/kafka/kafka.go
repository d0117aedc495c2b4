// Package kafka provides the Kafka driver. Publishing goes through a sync
// sarama producer so a send returns only after the broker acknowledged it.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/simabus/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "kafka"

const producerRetryMax = 3

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// ClientFactory opens the sarama client used to probe the cluster before any
// consumer group joins.
var ClientFactory = func(brokers []string, cfg *sarama.Config) (io.Closer, error) {
	return sarama.NewClient(brokers, cfg)
}

func init() {
	Register()
}

// Register adds the Kafka driver to the default registry.
func Register() {
	transport.Register(Driver())
}

// Driver returns the Kafka driver description.
func Driver() transport.Driver {
	return transport.Driver{
		Name:          TransportName,
		DialPublisher: DialPublisher,
		DialConsumer:  DialConsumer,
		Capabilities:  transport.KafkaCapabilities,
	}
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// DialPublisher connects a sync producer to the brokers in cfg.
func DialPublisher(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	brokers, err := brokersFrom(cfg)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             KeyedMarshaler{},
			OverwriteSaramaConfig: publisherSaramaConfig(cfg),
		},
		logger,
	)
}

// DialConsumer probes the cluster and returns a consumer that joins one
// Kafka consumer group per distinct group name.
func DialConsumer(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Consumer, error) {
	brokers, err := brokersFrom(cfg)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	saramaCfg := subscriberSaramaConfig(cfg)
	probe, err := ClientFactory(brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: reach brokers %s: %w", strings.Join(brokers, ","), err)
	}

	groups := transport.NewGroupConsumer(func(group string) (message.Subscriber, error) {
		return SubscriberFactory(
			kafka.SubscriberConfig{
				Brokers:               brokers,
				Unmarshaler:           KeyedMarshaler{},
				ConsumerGroup:         group,
				OverwriteSaramaConfig: subscriberSaramaConfig(cfg),
			},
			logger,
		)
	})
	return &consumer{GroupConsumer: groups, probe: probe}, nil
}

type consumer struct {
	*transport.GroupConsumer
	probe io.Closer
}

func (c *consumer) Close() error {
	return errors.Join(c.GroupConsumer.Close(), c.probe.Close())
}

func brokersFrom(cfg transport.Config) ([]string, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	return brokers, nil
}

func publisherSaramaConfig(cfg transport.Config) *sarama.Config {
	saramaCfg := kafka.DefaultSaramaSyncPublisherConfig()
	applyCommon(saramaCfg, cfg)
	if timeout := cfg.GetPublishTimeout(); timeout > 0 {
		saramaCfg.Producer.Timeout = timeout
	}
	saramaCfg.Producer.Retry.Max = producerRetryMax
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Return.Successes = true
	return saramaCfg
}

func subscriberSaramaConfig(cfg transport.Config) *sarama.Config {
	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	applyCommon(saramaCfg, cfg)
	if strings.EqualFold(cfg.GetKafkaStartOffset(), "latest") {
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	} else {
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	return saramaCfg
}

func applyCommon(saramaCfg *sarama.Config, cfg transport.Config) {
	if id := cfg.GetKafkaClientID(); id != "" {
		saramaCfg.ClientID = id
	}
	if timeout := cfg.GetConnectTimeout(); timeout > 0 {
		saramaCfg.Net.DialTimeout = timeout
		saramaCfg.Net.ReadTimeout = timeout
		saramaCfg.Net.WriteTimeout = timeout
		saramaCfg.Metadata.Timeout = timeout
	}
	saramaCfg.Metadata.Retry.Backoff = 250 * time.Millisecond
}
