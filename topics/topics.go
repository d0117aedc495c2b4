// Package topics is the shared catalog of logical topic names. Producers and
// consumers agree on these names and on the payload shape out of band; adding
// a topic is a deploy-time change to this file.
package topics

import "sort"

// Topic is a logical channel name on the broker.
type Topic string

const (
	UserCreated      Topic = "user.created"
	UserUpdated      Topic = "user.updated"
	AssetCreated     Topic = "asset.created"
	AssetUpdated     Topic = "asset.updated"
	AuditLog         Topic = "audit.log"
	TelemetryData    Topic = "telemetry.data"
	NotificationSend Topic = "notification.send"
)

var catalog = map[Topic]struct{}{
	UserCreated:      {},
	UserUpdated:      {},
	AssetCreated:     {},
	AssetUpdated:     {},
	AuditLog:         {},
	TelemetryData:    {},
	NotificationSend: {},
}

func (t Topic) String() string { return string(t) }

// Known reports whether t is part of the catalog.
func (t Topic) Known() bool {
	_, ok := catalog[t]
	return ok
}

// Lookup resolves a raw name to a catalog topic.
func Lookup(name string) (Topic, bool) {
	t := Topic(name)
	return t, t.Known()
}

// All returns every catalog topic sorted by name.
func All() []Topic {
	out := make([]Topic, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
