// Package transports registers every built-in broker with the default registry.
package transports

import (
	_ "github.com/drblury/decodeflow/transport/aws"
	_ "github.com/drblury/decodeflow/transport/channel"
	_ "github.com/drblury/decodeflow/transport/http"
	_ "github.com/drblury/decodeflow/transport/io"
	_ "github.com/drblury/decodeflow/transport/kafka"
	_ "github.com/drblury/decodeflow/transport/nats"
	_ "github.com/drblury/decodeflow/transport/rabbitmq"
)
