// Package transports registers every built-in transport with the default
// registry. Binaries import it for its side effect.
package transports

import (
	_ "github.com/drblury/simabus/transport/aws"
	_ "github.com/drblury/simabus/transport/kafka"
	_ "github.com/drblury/simabus/transport/memory"
	_ "github.com/drblury/simabus/transport/nats"
	_ "github.com/drblury/simabus/transport/rabbitmq"
)
