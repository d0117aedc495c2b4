package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies message metadata into a Metadata map that is safe to
// mutate. It never returns nil.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// ToWatermill copies md into a fresh message.Metadata.
func ToWatermill(md Metadata) message.Metadata {
	out := make(message.Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// PartitionKey returns the routing key a publisher attached to msg.
func PartitionKey(msg *message.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Metadata.Get(KeyPartitionKey)
}
