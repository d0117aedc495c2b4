package transport

// Capabilities describes the delivery features of a driver.
type Capabilities struct {
	Name string

	// SupportsOrdering indicates messages within a partition or queue are
	// delivered in order.
	SupportsOrdering bool

	// SupportsAck indicates the driver waits for an explicit acknowledgement
	// before moving the consumer position.
	SupportsAck bool

	// SupportsNack indicates a negative acknowledgement triggers redelivery.
	SupportsNack bool

	// SupportsPartitioning indicates the routing key selects an ordered lane.
	SupportsPartitioning bool

	// SupportsConsumerGroups indicates members of one group share the stream
	// instead of each receiving every message.
	SupportsConsumerGroups bool

	// SupportsDurability indicates messages survive a broker restart.
	SupportsDurability bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once delivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// PreservesKeyOrder reports whether messages sharing a routing key reach a
// group member in publish order.
func (c Capabilities) PreservesKeyOrder() bool {
	return c.SupportsOrdering && c.SupportsPartitioning
}

var (
	MemoryCapabilities = Capabilities{
		Name:                   "memory",
		SupportsOrdering:       true,
		SupportsAck:            true,
		SupportsNack:           true,
		SupportsPartitioning:   true,
		SupportsConsumerGroups: true,
	}

	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsOrdering:       true,
		SupportsAck:            true,
		SupportsNack:           true,
		SupportsPartitioning:   true,
		SupportsConsumerGroups: true,
		SupportsDurability:     true,
		MaxMessageSize:         1048576, // Default 1MB
	}

	RabbitMQCapabilities = Capabilities{
		Name:                   "rabbitmq",
		SupportsOrdering:       true,
		SupportsAck:            true,
		SupportsNack:           true,
		SupportsConsumerGroups: true,
		SupportsDurability:     true,
	}

	// Standard SNS topics and SQS queues do not order; a nack makes the
	// message visible again on the group's queue.
	AWSCapabilities = Capabilities{
		Name:                   "aws",
		SupportsAck:            true,
		SupportsNack:           true,
		SupportsConsumerGroups: true,
		SupportsDurability:     true,
		MaxMessageSize:         262144, // 256KB
	}

	// NATS core has no persistence; a nack only matters while the
	// subscription is alive.
	NATSCapabilities = Capabilities{
		Name:                   "nats",
		SupportsAck:            false,
		SupportsNack:           false,
		SupportsConsumerGroups: true,
		MaxMessageSize:         1048576, // Default 1MB
	}
)
