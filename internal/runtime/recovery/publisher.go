package recovery

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/drblury/decodeflow/internal/runtime/config"
	rterrors "github.com/drblury/decodeflow/internal/runtime/errors"
	"github.com/drblury/decodeflow/internal/runtime/metadata"
	"github.com/drblury/decodeflow/transport"
)

// payloadNamespace seeds the name-based message UUIDs of recovered payloads,
// so a redelivered envelope is republished under the same message UUID.
var payloadNamespace = uuid.MustParse("6f1f3c2e-4b1a-5d8e-9c57-2a9d0b1e7c44")

// PublisherHandler publishes rejected payloads, unmodified, to a topic.
type PublisherHandler struct {
	Publisher message.Publisher
	// Topic overrides config.Config.RecoveryTopic.
	Topic string
	// Delivery bounds the payload size the broker accepts.
	Delivery transport.Delivery

	prepared bool
}

// NewPublisherHandler returns a handler publishing through pub.
func NewPublisherHandler(pub message.Publisher, topic string, delivery transport.Delivery) *PublisherHandler {
	return &PublisherHandler{Publisher: pub, Topic: topic, Delivery: delivery}
}

func (h *PublisherHandler) Prepare(_ context.Context, cfg config.Config) error {
	if h.Publisher == nil {
		return rterrors.ErrPublisherRequired
	}
	if h.Topic == "" {
		h.Topic = cfg.RecoveryTopic
	}
	if h.Topic == "" {
		return rterrors.ErrTopicRequired
	}
	h.prepared = true
	return nil
}

func (h *PublisherHandler) Save(ctx context.Context, raw []byte) error {
	if !h.prepared {
		return ErrNotPrepared
	}
	if !h.Delivery.Accepts(len(raw)) {
		return fmt.Errorf("recovery: %d byte payload exceeds the %s limit of %d bytes", len(raw), h.Delivery.Name, h.Delivery.MaxPayload)
	}

	r, hasRejection := RejectionFrom(ctx)
	msg := message.NewMessage(PayloadUUID(raw, r.CorrelationID), raw)
	if hasRejection {
		md := metadata.New(metadata.KeyRecoveryReason, r.Reason())
		if r.CorrelationID != "" {
			md = md.With(metadata.KeyCorrelationID, r.CorrelationID)
		}
		if r.Identity != "" {
			md = md.With(metadata.KeyDecoderIdentity, r.Identity)
		}
		metadata.Apply(msg, md)
	}
	msg.SetContext(ctx)

	return h.Publisher.Publish(h.Topic, msg)
}

// Cleanup is a no-op: the publisher belongs to the caller.
func (h *PublisherHandler) Cleanup() error { return nil }

// PayloadUUID returns the deterministic message UUID for raw rejected under
// correlationID. Distinct envelopes carrying identical bytes differ by
// correlation id; without one, identical bytes share a UUID.
func PayloadUUID(raw []byte, correlationID string) string {
	if correlationID == "" {
		return uuid.NewSHA1(payloadNamespace, raw).String()
	}
	name := make([]byte, 0, len(correlationID)+1+len(raw))
	name = append(name, correlationID...)
	name = append(name, 0)
	name = append(name, raw...)
	return uuid.NewSHA1(payloadNamespace, name).String()
}
