// Package transport connects the decoding stage to a message broker.
// Every broker lives in its own sub-package and registers a Builder together
// with its Delivery semantics on the Registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is the publisher/subscriber pair the stage consumes envelopes from
// and emits canonical events to.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder creates a Transport from configuration.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes only the broker settings a Builder needs.
type Config interface {
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetIOFile() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// Delivery describes what a broker does with envelopes the stage refuses.
type Delivery struct {
	Name string
	// Redelivers is true when a nacked message is handed out again. When false an
	// escalated envelope is lost unless a recovery handler saved it first.
	Redelivers bool
	// Ordered is true when messages on one topic arrive in publish order.
	Ordered bool
	// MaxPayload is the largest message body the broker accepts. Zero means unbounded.
	MaxPayload int64
}

// Accepts reports whether a payload of size bytes fits the broker limit.
func (d Delivery) Accepts(size int) bool {
	return d.MaxPayload <= 0 || int64(size) <= d.MaxPayload
}

// Delivery semantics of the built-in brokers.
var (
	ChannelDelivery  = Delivery{Name: "channel", Redelivers: true, Ordered: true}
	KafkaDelivery    = Delivery{Name: "kafka", Redelivers: true, Ordered: true, MaxPayload: 1 << 20}
	RabbitMQDelivery = Delivery{Name: "rabbitmq", Redelivers: true, Ordered: true}
	NATSDelivery     = Delivery{Name: "nats", MaxPayload: 1 << 20}
	AWSDelivery      = Delivery{Name: "aws", Redelivers: true, MaxPayload: 256 << 10}
	HTTPDelivery     = Delivery{Name: "http"}
	IODelivery       = Delivery{Name: "io", Ordered: true}
)
