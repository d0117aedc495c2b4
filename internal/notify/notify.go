// Package notify dispatches notification requests received from the bus to
// channel senders.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drblury/simabus/internal/runtime"
	"github.com/drblury/simabus/internal/runtime/envelope"
	idspkg "github.com/drblury/simabus/internal/runtime/ids"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
	"github.com/drblury/simabus/topics"
)

// DefaultGroup is the consumer group of the notification service.
const DefaultGroup = "notifications-consumer"

// Channel selects how a notification is delivered.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
	ChannelInApp Channel = "IN_APP"
)

// ErrMissingRecipient is returned when the channel's address is absent.
var ErrMissingRecipient = errors.New("notify: recipient is required for channel")

// Notification is the payload of notification.send.
type Notification struct {
	Channel  Channel        `json:"channel"`
	UserID   string         `json:"userId,omitempty"`
	Email    string         `json:"email,omitempty"`
	Phone    string         `json:"phone,omitempty"`
	Subject  string         `json:"subject,omitempty"`
	Title    string         `json:"title,omitempty"`
	Message  string         `json:"message,omitempty"`
	Body     string         `json:"body,omitempty"`
	Template string         `json:"template,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// normalized fills Subject and Message from their aliases and defaults the
// channel to IN_APP.
func (n Notification) normalized() Notification {
	n.Channel = Channel(strings.ToUpper(string(n.Channel)))
	switch n.Channel {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
	default:
		n.Channel = ChannelInApp
	}
	if n.Subject == "" {
		n.Subject = n.Title
	}
	if n.Subject == "" {
		n.Subject = "Notification"
	}
	if n.Message == "" {
		n.Message = n.Body
	}
	return n
}

func (n Notification) validate() error {
	switch n.Channel {
	case ChannelEmail:
		if n.Email == "" {
			return fmt.Errorf("%w %s: email", ErrMissingRecipient, n.Channel)
		}
	case ChannelSMS:
		if n.Phone == "" {
			return fmt.Errorf("%w %s: phone", ErrMissingRecipient, n.Channel)
		}
	case ChannelPush:
		if n.UserID == "" {
			return fmt.Errorf("%w %s: userId", ErrMissingRecipient, n.Channel)
		}
	}
	return nil
}

// Receipt acknowledges a sent notification.
type Receipt struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Channel   Channel   `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender delivers notifications on one channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n Notification) error

func (f SenderFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogSender only logs. It stands in for providers that are not configured.
type LogSender struct {
	Logger loggingpkg.ServiceLogger
}

func (s LogSender) Send(ctx context.Context, n Notification) error {
	log := s.Logger
	if log == nil {
		log = loggingpkg.Nop()
	}
	log.Info("Notification sent", loggingpkg.LogFields{
		"channel":  string(n.Channel),
		"user_id":  n.UserID,
		"subject":  n.Subject,
		"template": n.Template,
	})
	return nil
}

// Dispatcher routes notifications to the sender of their channel.
type Dispatcher struct {
	senders map[Channel]Sender
	logger  loggingpkg.ServiceLogger
	now     func() time.Time
}

// Option tunes NewDispatcher.
type Option func(*Dispatcher)

// WithSender replaces the sender of channel.
func WithSender(channel Channel, sender Sender) Option {
	return func(d *Dispatcher) {
		if sender != nil {
			d.senders[channel] = sender
		}
	}
}

// NewDispatcher uses a LogSender for every channel not overridden.
func NewDispatcher(logger loggingpkg.ServiceLogger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	fallback := LogSender{Logger: logger}
	d := &Dispatcher{
		senders: map[Channel]Sender{
			ChannelEmail: fallback,
			ChannelSMS:   fallback,
			ChannelPush:  fallback,
			ChannelInApp: fallback,
		},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send validates n and hands it to its channel sender.
func (d *Dispatcher) Send(ctx context.Context, n Notification) (Receipt, error) {
	n = n.normalized()
	if err := n.validate(); err != nil {
		return Receipt{}, err
	}
	if err := d.senders[n.Channel].Send(ctx, n); err != nil {
		return Receipt{}, fmt.Errorf("notify: send %s: %w", n.Channel, err)
	}
	return Receipt{
		ID:        "notif-" + idspkg.NewMessageID(),
		Status:    "sent",
		Channel:   n.Channel,
		Timestamp: d.now().UTC(),
	}, nil
}

// NotificationHandler consumes notification.send.
func (d *Dispatcher) NotificationHandler() runtime.Handler {
	return runtime.JSONHandler(func(ctx context.Context, n Notification, env envelope.Envelope) error {
		receipt, err := d.Send(ctx, n)
		if err != nil {
			return err
		}
		d.logger.Debug("Notification dispatched", loggingpkg.LogFields{
			"receipt_id":     receipt.ID,
			"correlation_id": env.CorrelationID(),
		})
		return nil
	})
}

type userCreated struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// WelcomeHandler consumes user.created and e-mails users that have an
// address. Users without one are skipped.
func (d *Dispatcher) WelcomeHandler() runtime.Handler {
	return runtime.JSONHandler(func(ctx context.Context, user userCreated, env envelope.Envelope) error {
		if user.Email == "" {
			return nil
		}
		_, err := d.Send(ctx, Notification{
			Channel:  ChannelEmail,
			Email:    user.Email,
			Subject:  "Welcome to SIMA",
			Message:  "Your account has been created.",
			Template: "user_welcome",
			UserID:   user.ID,
		})
		return err
	})
}

// Subscriber is the part of runtime.Service the dispatcher needs.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, handler runtime.Handler) (*runtime.Subscription, error)
}

// SubscribeAll subscribes notification.send and user.created.
func (d *Dispatcher) SubscribeAll(ctx context.Context, sub Subscriber, group string) ([]*runtime.Subscription, error) {
	if group == "" {
		group = DefaultGroup
	}

	bindings := []struct {
		topic   topics.Topic
		handler runtime.Handler
	}{
		{topics.NotificationSend, d.NotificationHandler()},
		{topics.UserCreated, d.WelcomeHandler()},
	}

	subs := make([]*runtime.Subscription, 0, len(bindings))
	for _, b := range bindings {
		s, err := sub.Subscribe(ctx, b.topic.String(), group, b.handler)
		if err != nil {
			for _, started := range subs {
				if started != nil {
					_ = started.Stop(ctx)
				}
			}
			return nil, fmt.Errorf("notify subscribe %s: %w", b.topic, err)
		}
		subs = append(subs, s)
	}
	d.logger.Info("Notification subscriptions ready", loggingpkg.LogFields{"group": group})
	return subs, nil
}
