package kafka

import (
	"strconv"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/simabus/internal/runtime/metadata"
)

// KeyedMarshaler maps the routing key to the Kafka message key. Without a key
// the record key stays nil and the partitioner picks any partition.
type KeyedMarshaler struct {
	kafka.DefaultMarshaler
}

func (m KeyedMarshaler) Marshal(topic string, msg *message.Message) (*sarama.ProducerMessage, error) {
	key := metadata.PartitionKey(msg)

	outgoing := message.NewMessage(msg.UUID, msg.Payload)
	for k, v := range msg.Metadata {
		if metadata.IsInternal(k) {
			continue
		}
		outgoing.Metadata.Set(k, v)
	}

	pm, err := m.DefaultMarshaler.Marshal(topic, outgoing)
	if err != nil {
		return nil, err
	}
	if key != "" {
		pm.Key = sarama.StringEncoder(key)
	}
	return pm, nil
}

// Unmarshal restores the key and records partition and offset so failure logs
// can point at the record.
func (m KeyedMarshaler) Unmarshal(kafkaMsg *sarama.ConsumerMessage) (*message.Message, error) {
	msg, err := m.DefaultMarshaler.Unmarshal(kafkaMsg)
	if err != nil {
		return nil, err
	}
	if len(kafkaMsg.Key) > 0 {
		msg.Metadata.Set(metadata.KeyPartitionKey, string(kafkaMsg.Key))
	}
	msg.Metadata.Set(metadata.KeyPartition, strconv.FormatInt(int64(kafkaMsg.Partition), 10))
	msg.Metadata.Set(metadata.KeyOffset, strconv.FormatInt(kafkaMsg.Offset, 10))
	return msg, nil
}
