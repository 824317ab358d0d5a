// Package channel runs the stage over in-process Go channels. Envelopes never
// leave the process, which makes it the transport of choice for tests and for
// embedding the stage next to its producer.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/decodeflow/transport"
)

// TransportName is the PubSubSystem value selecting this transport.
const TransportName = "channel"

// OutputBuffer is the per-subscriber buffer used by Build.
const OutputBuffer = 64

// Factory creates the shared pub/sub. Tests replace it.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the channel transport to the default registry under both
// "channel" and "gochannel".
func Register() {
	transport.Register(TransportName, Build, transport.ChannelDelivery)
	transport.Register("gochannel", Build, transport.ChannelDelivery)
}

// Build creates a fresh in-memory pub/sub shared by publisher and subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: OutputBuffer}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}
