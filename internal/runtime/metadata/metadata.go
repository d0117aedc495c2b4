// Package metadata holds the header map carried next to every payload.
package metadata

import (
	"strings"
	"time"
)

// Wire header names. They must match exactly across services.
const (
	HeaderCorrelationID = "correlation-id"
	HeaderTimestamp     = "timestamp"

	HeaderDeadLetterReason = "dead-letter-reason"
	HeaderOriginalTopic    = "original-topic"
)

// Transport-internal keys. Drivers translate them to native broker concepts
// (message key, partition, offset) and strip or restore them on the way.
const (
	KeyPartitionKey = "_simabus_key"
	KeyPartition    = "_simabus_partition"
	KeyOffset       = "_simabus_offset"
)

// TimestampLayout is ISO-8601 with sub-second precision in UTC.
const TimestampLayout = time.RFC3339Nano

// Metadata represents the headers carried alongside an event.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// WithAll returns a cloned metadata map with entries layered on top.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Headers returns a copy without the transport-internal keys.
func (m Metadata) Headers() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		if IsInternal(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func (m Metadata) CorrelationID() string { return m[HeaderCorrelationID] }

// Timestamp parses the timestamp header.
func (m Metadata) Timestamp() (time.Time, error) {
	return time.Parse(TimestampLayout, m[HeaderTimestamp])
}

// IsInternal reports whether key is reserved for drivers.
func IsInternal(key string) bool {
	return strings.HasPrefix(key, "_simabus_")
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
