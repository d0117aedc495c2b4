package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drblury/simabus/internal/runtime"
	"github.com/drblury/simabus/internal/runtime/envelope"
	"github.com/drblury/simabus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
	"github.com/drblury/simabus/topics"
)

// DefaultGroup is the consumer group of the audit service.
const DefaultGroup = "audit-consumer"

// Subscriber is the part of runtime.Service the sink needs.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, handler runtime.Handler) (*runtime.Subscription, error)
}

// Sink appends audit records to a Store.
type Sink struct {
	store  Store
	logger loggingpkg.ServiceLogger
	now    func() time.Time
	newID  func() string
}

// SinkOption tunes NewSink.
type SinkOption func(*Sink)

// WithClock replaces time.Now for CreatedAt.
func WithClock(now func() time.Time) SinkOption {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the UUID generator for record ids.
func WithIDGenerator(newID func() string) SinkOption {
	return func(s *Sink) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func NewSink(store Store, logger loggingpkg.ServiceLogger, opts ...SinkOption) *Sink {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	s := &Sink{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// actorFields are optional attributes copied from the event when present.
type actorFields struct {
	UserID       string          `json:"userId"`
	UserName     string          `json:"userName"`
	Email        string          `json:"email"`
	AssetCode    string          `json:"assetCode"`
	ResourceName string          `json:"resourceName"`
	Description  string          `json:"description"`
	Severity     string          `json:"severity"`
	Payload      json.RawMessage `json:"payload"`
}

// OnEvent appends one record for payload. Every call appends; a redelivered
// event is recorded again.
func (s *Sink) OnEvent(ctx context.Context, entityType, action string, payload json.RawMessage) error {
	return s.append(ctx, Classification{EntityType: entityType, Action: action, EntityID: entityIDOf(payload)}, payload)
}

func (s *Sink) append(ctx context.Context, c Classification, payload json.RawMessage) error {
	if c.EntityType == "" || c.Action == "" {
		return errors.New("audit: entity type and action are required")
	}

	actor := actorOf(payload)
	rec := Record{
		ID:           s.newID(),
		EntityID:     c.EntityID,
		EntityType:   c.EntityType,
		Action:       c.Action,
		ResourceName: firstNonEmpty(actor.ResourceName, actor.Email, actor.AssetCode),
		UserID:       firstNonEmpty(actor.UserID, SystemUser),
		UserName:     firstNonEmpty(actor.UserName, actor.Email, SystemUser),
		Severity:     firstNonEmpty(actor.Severity, DefaultSeverity),
		Description:  actor.Description,
		Payload:      append(json.RawMessage(nil), payload...),
		CreatedAt:    s.now().UTC(),
	}

	if err := s.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	s.logger.Debug("Audit record appended", loggingpkg.LogFields{
		"entity_type": rec.EntityType,
		"action":      rec.Action,
		"entity_id":   rec.EntityID,
	})
	return nil
}

// Handler records every event delivered on topic.
func (s *Sink) Handler(topic string) runtime.Handler {
	return func(ctx context.Context, env envelope.Envelope) error {
		c, err := Classify(topic, env.Payload)
		if err != nil {
			return err
		}
		return s.append(ctx, c, env.Payload)
	}
}

// SubscribeAll subscribes the sink to every topic in DefaultMappings as a
// member of group. Already started subscriptions are stopped when one fails.
func (s *Sink) SubscribeAll(ctx context.Context, sub Subscriber, group string) ([]*runtime.Subscription, error) {
	if group == "" {
		group = DefaultGroup
	}

	var subs []*runtime.Subscription
	for _, topic := range topics.All() {
		if _, ok := DefaultMappings[topic]; !ok {
			continue
		}
		subscription, err := sub.Subscribe(ctx, topic.String(), group, s.Handler(topic.String()))
		if err != nil {
			for _, started := range subs {
				if started != nil {
					_ = started.Stop(ctx)
				}
			}
			return nil, fmt.Errorf("audit subscribe %s: %w", topic, err)
		}
		subs = append(subs, subscription)
	}

	s.logger.Info("Audit subscriptions ready", loggingpkg.LogFields{"group": group, "topics": len(subs)})
	return subs, nil
}

func entityIDOf(payload json.RawMessage) string {
	var shape eventShape
	if err := jsoncodec.Unmarshal(payload, &shape); err != nil {
		return ""
	}
	if id := nestedID(shape.Payload); id != "" {
		return id
	}
	return scalar(shape.ID)
}

// actorOf reads actor fields from the event, or from its nested payload.
func actorOf(payload json.RawMessage) actorFields {
	var actor actorFields
	if err := jsoncodec.Unmarshal(payload, &actor); err != nil {
		return actorFields{}
	}
	if len(actor.Payload) > 0 {
		var nested actorFields
		if err := jsoncodec.Unmarshal(actor.Payload, &nested); err == nil {
			nested.Severity = firstNonEmpty(actor.Severity, nested.Severity)
			nested.UserID = firstNonEmpty(actor.UserID, nested.UserID)
			nested.UserName = firstNonEmpty(actor.UserName, nested.UserName)
			return nested
		}
	}
	return actor
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
