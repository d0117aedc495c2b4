// Package simabus is the event backbone shared by the SIMA services. It
// publishes JSON events to named topics and delivers them to consumer groups
// over Kafka, RabbitMQ, NATS, AWS SNS/SQS or an in-process broker, selected
// by Config.PubSubSystem.
//
// A Service owns two lazily opened broker connections, one for publishing and
// one for consuming. Publish returns only after the broker acknowledged the
// event, or with a PublishError whose outcome the caller must treat as
// unknown. Subscribe runs a handler for every message of a topic within a
// consumer group; a handler failure or an undecodable payload is logged and
// skipped so the rest of the stream keeps flowing.
//
// Transports register themselves with DefaultTransportRegistry from init.
// Binaries import them once:
//
//	import _ "github.com/drblury/simabus/transport/transports"
//
// A minimal producer:
//
//	cfg, err := simabus.ConfigFromEnv()
//	...
//	svc, err := simabus.NewService(cfg, simabus.NewSlogServiceLogger(slog.Default()), simabus.ServiceDependencies{})
//	...
//	err = svc.Publish(ctx, simabus.TopicUserCreated.String(), user, nil)
//
// # Topics
//
// The topic catalog is fixed: user.created, user.updated, asset.created,
// asset.updated, audit.log, telemetry.data and notification.send. Publishing
// or subscribing to any other name fails with ErrUnknownTopic, except for the
// configured dead-letter topic.
//
// # Delivery
//
// Delivery is at least once. Events sharing a routing key (the payload id by
// default, or WithKey) keep their order within a consumer group on transports
// that partition. A consumer that stops acknowledges nothing it did not
// finish, so the next member of the group resumes where it left off.
package simabus
