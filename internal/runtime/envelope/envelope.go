// Package envelope defines the unit exchanged on the wire: a JSON payload, a
// header map and an optional routing key.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/simabus/internal/runtime/errors"
	"github.com/drblury/simabus/internal/runtime/ids"
	"github.com/drblury/simabus/internal/runtime/jsoncodec"
	"github.com/drblury/simabus/internal/runtime/metadata"
)

// PayloadPrefixLimit caps how much of a raw payload is copied into logs.
const PayloadPrefixLimit = 256

// Envelope is one message. An empty Key means no routing key; the broker picks
// the partition.
type Envelope struct {
	Topic   string
	Key     string
	Payload []byte
	Headers metadata.Metadata
}

// PartitionKeyer lets an event choose its own routing key instead of the
// top-level "id" field.
type PartitionKeyer interface {
	PartitionKey() string
}

type options struct {
	key           string
	hasKey        bool
	correlationID string
	now           func() time.Time
}

// Option tunes Encode.
type Option func(*options)

// WithKey overrides the routing key. An empty key forces it to be absent.
func WithKey(key string) Option {
	return func(o *options) {
		o.key = key
		o.hasKey = true
	}
}

// WithCorrelationID sets the correlation id unless the headers already carry one.
func WithCorrelationID(id string) Option {
	return func(o *options) { o.correlationID = id }
}

// WithClock replaces time.Now for the timestamp header.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Encode serialises payload for topic and stamps the timestamp and
// correlation-id headers. A json.RawMessage payload is validated and kept
// verbatim.
func Encode(topic string, payload any, headers metadata.Metadata, opts ...Option) (Envelope, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, &errspkg.EncodingError{Topic: topic, Err: err}
	}

	fields := probeFields(body)

	md := headers.Headers()
	md[metadata.HeaderTimestamp] = o.now().UTC().Format(metadata.TimestampLayout)
	if md[metadata.HeaderCorrelationID] == "" {
		switch {
		case o.correlationID != "":
			md[metadata.HeaderCorrelationID] = o.correlationID
		default:
			md[metadata.HeaderCorrelationID] = fields.correlationID
		}
	}

	key := fields.id
	if keyer, ok := payload.(PartitionKeyer); ok {
		key = keyer.PartitionKey()
	}
	if o.hasKey {
		key = o.key
	}

	return Envelope{Topic: topic, Key: key, Payload: body, Headers: md}, nil
}

func marshalPayload(payload any) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("marshal panicked: %v", r)
		}
	}()

	if raw, ok := payload.(json.RawMessage); ok {
		if err := jsoncodec.Valid(raw); err != nil {
			return nil, err
		}
		return append([]byte(nil), raw...), nil
	}
	return jsoncodec.Marshal(payload)
}

type probedFields struct {
	id            string
	correlationID string
}

// probeFields extracts the top-level "id" and "correlationId" of an object
// payload. Anything else yields empty values.
func probeFields(body []byte) probedFields {
	var probe struct {
		ID            json.RawMessage `json:"id"`
		CorrelationID json.RawMessage `json:"correlationId"`
	}
	if err := jsoncodec.Unmarshal(body, &probe); err != nil {
		return probedFields{}
	}
	return probedFields{id: scalarString(probe.ID), correlationID: scalarString(probe.CorrelationID)}
}

func scalarString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "", trimmed == "null":
		return ""
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := jsoncodec.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case strings.HasPrefix(trimmed, "{"), strings.HasPrefix(trimmed, "["):
		return ""
	default:
		return trimmed
	}
}

// Decode validates that payload is JSON and builds an Envelope around it.
func Decode(topic string, payload []byte, headers metadata.Metadata) (Envelope, error) {
	if err := jsoncodec.Valid(payload); err != nil {
		return Envelope{}, &errspkg.DecodingError{Topic: topic, Prefix: PayloadPrefix(payload), Err: err}
	}
	md := headers.Clone()
	key := md[metadata.KeyPartitionKey]
	return Envelope{Topic: topic, Key: key, Payload: payload, Headers: md.Headers()}, nil
}

// FromMessage decodes a transport message received on topic.
func FromMessage(topic string, msg *message.Message) (Envelope, error) {
	if msg == nil {
		return Envelope{}, &errspkg.DecodingError{Topic: topic, Err: fmt.Errorf("nil message")}
	}
	return Decode(topic, msg.Payload, metadata.FromWatermill(msg.Metadata))
}

// Message converts the envelope into a watermill message with a fresh ULID.
// The routing key travels in the internal partition-key entry.
func (e Envelope) Message() *message.Message {
	msg := message.NewMessage(ids.NewMessageID(), e.Payload)
	msg.Metadata = metadata.ToWatermill(e.Headers.Headers())
	if e.Key != "" {
		msg.Metadata.Set(metadata.KeyPartitionKey, e.Key)
	}
	return msg
}

// Unmarshal decodes the payload into v.
func (e Envelope) Unmarshal(v any) error {
	if err := jsoncodec.Unmarshal(e.Payload, v); err != nil {
		return &errspkg.DecodingError{Topic: e.Topic, Prefix: PayloadPrefix(e.Payload), Err: err}
	}
	return nil
}

func (e Envelope) CorrelationID() string { return e.Headers.CorrelationID() }

func (e Envelope) Timestamp() (time.Time, error) { return e.Headers.Timestamp() }

// PayloadPrefix returns at most PayloadPrefixLimit bytes of payload as text.
func PayloadPrefix(payload []byte) string {
	if len(payload) > PayloadPrefixLimit {
		return string(payload[:PayloadPrefixLimit])
	}
	return string(payload)
}
