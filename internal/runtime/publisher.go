package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/simabus/internal/runtime/envelope"
	errspkg "github.com/drblury/simabus/internal/runtime/errors"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
	metadatapkg "github.com/drblury/simabus/internal/runtime/metadata"
	"github.com/drblury/simabus/topics"
)

// PublisherSource hands out the publish connection, connecting lazily.
// *connection.Manager satisfies it.
type PublisherSource interface {
	Publisher(ctx context.Context) (message.Publisher, error)
}

// Producer emits JSON events onto the configured transport.
type Producer interface {
	Publish(ctx context.Context, topic string, event any, md metadatapkg.Metadata, opts ...envelope.Option) error
}

// Publisher encodes events and sends them over the publish connection. It is
// safe for concurrent use.
type Publisher struct {
	source  PublisherSource
	timeout time.Duration
	logger  loggingpkg.ServiceLogger
	metrics *Metrics
	allow   func(string) bool
}

// PublisherOption tunes NewPublisher.
type PublisherOption func(*Publisher)

// WithPublishTimeout bounds how long a send waits for the broker. Zero waits
// for ctx only.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.timeout = d }
}

func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// WithTopicFilter replaces the catalog check. Returning false rejects the
// topic with ErrUnknownTopic.
func WithTopicFilter(allow func(topic string) bool) PublisherOption {
	return func(p *Publisher) {
		if allow != nil {
			p.allow = allow
		}
	}
}

// NewPublisher builds a Publisher that accepts catalog topics only.
func NewPublisher(source PublisherSource, logger loggingpkg.ServiceLogger, opts ...PublisherOption) *Publisher {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	p := &Publisher{
		source: source,
		logger: logger,
		allow: func(topic string) bool {
			_, ok := topics.Lookup(topic)
			return ok
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish encodes event and sends it to topic. The routing key is the event's
// top-level "id" unless an option says otherwise. A nil error means the broker
// acknowledged the message.
func (p *Publisher) Publish(ctx context.Context, topic string, event any, md metadatapkg.Metadata, opts ...envelope.Option) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if !p.allow(topic) {
		return &errspkg.PublishError{Topic: topic, Err: errspkg.ErrUnknownTopic}
	}

	env, err := envelope.Encode(topic, event, md, opts...)
	if err != nil {
		p.metrics.observePublish(topic, ResultEncodeError)
		return err
	}
	return p.send(ctx, topic, env.Message())
}

// Forward sends an already-built message as is, e.g. a dead-letter copy.
func (p *Publisher) Forward(ctx context.Context, topic string, msg *message.Message) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	return p.send(ctx, topic, msg)
}

func (p *Publisher) send(ctx context.Context, topic string, msg *message.Message) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	pub, err := p.source.Publisher(ctx)
	if err != nil {
		p.metrics.observePublish(topic, ResultConnectionError)
		return &errspkg.PublishError{Topic: topic, Err: err}
	}

	msg.SetContext(ctx)
	done := make(chan error, 1)
	go func() {
		done <- pub.Publish(topic, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			p.metrics.observePublish(topic, ResultPublishError)
			return &errspkg.PublishError{Topic: topic, Err: err}
		}
	case <-ctx.Done():
		p.metrics.observePublish(topic, ResultUnknownOutcome)
		p.logger.Error("Publish not acknowledged", ctx.Err(), loggingpkg.LogFields{
			"topic":        topic,
			"message_uuid": msg.UUID,
		})
		return &errspkg.PublishError{Topic: topic, Err: errors.Join(errspkg.ErrUnknownOutcome, ctx.Err())}
	}

	p.metrics.observePublish(topic, ResultOK)
	p.logger.Debug("Published message", loggingpkg.LogFields{
		"topic":          topic,
		"message_uuid":   msg.UUID,
		"correlation_id": msg.Metadata.Get(metadatapkg.HeaderCorrelationID),
	})
	return nil
}
