package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/drblury/simabus/internal/runtime/jsoncodec"
	"github.com/drblury/simabus/topics"
)

// Entity types and actions of the catalog topics.
const (
	EntityUser    = "USER"
	EntityAsset   = "ASSET"
	EntityUnknown = "UNKNOWN"

	ActionCreated = "CREATED"
	ActionUpdated = "UPDATED"
)

// ErrUnmappedTopic is returned for topics the audit consumer does not record.
var ErrUnmappedTopic = errors.New("audit: topic has no audit mapping")

// Mapping is the default classification of events seen on one topic.
type Mapping struct {
	EntityType string
	Action     string
}

// DefaultMappings lists the topics the audit consumer subscribes to.
// audit.log events carry their own resourceType and action.
var DefaultMappings = map[topics.Topic]Mapping{
	topics.UserCreated:  {EntityType: EntityUser, Action: ActionCreated},
	topics.UserUpdated:  {EntityType: EntityUser, Action: ActionUpdated},
	topics.AssetCreated: {EntityType: EntityAsset, Action: ActionCreated},
	topics.AssetUpdated: {EntityType: EntityAsset, Action: ActionUpdated},
	topics.AuditLog:     {EntityType: EntityUnknown, Action: ActionCreated},
}

// Classification is what Classify derives from one event.
type Classification struct {
	EntityType string
	Action     string
	EntityID   string
}

type eventShape struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	ID           json.RawMessage `json:"id"`
	ResourceType string          `json:"resourceType"`
	ResourceID   json.RawMessage `json:"resourceId"`
	Action       string          `json:"action"`
}

// Classify resolves the entity type, action and entity id of an event
// received on topic. A typed event {"type":"ASSET_CREATED","payload":{...}}
// overrides the topic mapping and takes its id from the nested payload. Flat
// events use their top-level id.
func Classify(topic string, payload []byte) (Classification, error) {
	mapping, ok := DefaultMappings[topics.Topic(topic)]
	if !ok {
		return Classification{}, fmt.Errorf("%w: %q", ErrUnmappedTopic, topic)
	}

	var shape eventShape
	if err := jsoncodec.Unmarshal(payload, &shape); err != nil {
		// Arrays and scalars are still recorded, just without an id.
		shape = eventShape{}
	}

	c := Classification{EntityType: mapping.EntityType, Action: mapping.Action}
	if topics.Topic(topic) == topics.AuditLog {
		if shape.ResourceType != "" {
			c.EntityType = strings.ToUpper(shape.ResourceType)
		}
		if shape.Action != "" {
			c.Action = strings.ToUpper(shape.Action)
		}
	}

	// Only wrapped events carry a meaningful type; a flat asset may have a
	// "type" attribute of its own.
	if len(shape.Payload) > 0 {
		if entity, action, ok := splitEventType(shape.Type); ok {
			c.EntityType, c.Action = entity, action
		}
	}

	c.EntityID = nestedID(shape.Payload)
	if c.EntityID == "" {
		c.EntityID = scalar(shape.ID)
	}
	if c.EntityID == "" {
		c.EntityID = scalar(shape.ResourceID)
	}
	return c, nil
}

// splitEventType splits "ENTITY_ACTION" at the first underscore.
func splitEventType(eventType string) (string, string, bool) {
	entity, action, ok := strings.Cut(strings.TrimSpace(eventType), "_")
	if !ok || entity == "" || action == "" {
		return "", "", false
	}
	return strings.ToUpper(entity), strings.ToUpper(action), true
}

func nestedID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var inner struct {
		ID json.RawMessage `json:"id"`
	}
	if err := jsoncodec.Unmarshal(raw, &inner); err != nil {
		return ""
	}
	return scalar(inner.ID)
}

// scalar renders a JSON string or number as text. Objects, arrays and null
// yield "".
func scalar(raw json.RawMessage) string {
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
