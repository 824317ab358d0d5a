// Package event builds canonical events and moves them on and off the wire.
package event

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	rterrors "github.com/drblury/decodeflow/internal/runtime/errors"
	"github.com/drblury/decodeflow/internal/runtime/ids"
	"github.com/drblury/decodeflow/internal/runtime/jsoncodec"
	"github.com/drblury/decodeflow/internal/runtime/metadata"
)

// ContentType is set on every encoded event message.
const ContentType = "application/json"

// CanonicalEvent is the decoded form of one envelope.
type CanonicalEvent struct {
	// ID is the producer's message id when it supplied one, otherwise a ULID.
	ID string `json:"id"`
	// DataSourceID is empty when no data source could be attributed.
	DataSourceID string         `json:"dataSourceId"`
	Decoder      string         `json:"decoder,omitempty"`
	Time         time.Time      `json:"time"`
	Fields       map[string]any `json:"fields"`
}

// New builds an event, generating an id when messageID is empty.
func New(messageID, dataSourceID string, fields map[string]any) CanonicalEvent {
	id := messageID
	if id == "" {
		id = ids.CreateULID()
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return CanonicalEvent{
		ID:           id,
		DataSourceID: dataSourceID,
		Time:         time.Now().UTC(),
		Fields:       fields,
	}
}

// WithDecoder records the identity of the decoder that produced the event.
func (e CanonicalEvent) WithDecoder(identity string) CanonicalEvent {
	e.Decoder = identity
	return e
}

// ToMessage encodes e as a Watermill message. The message UUID is the event
// id, and the reserved metadata keys carry the event's lineage.
func ToMessage(e CanonicalEvent, md metadata.Metadata) (*message.Message, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("event: id is required")
	}
	payload, err := jsoncodec.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s: %w", e.ID, err)
	}

	msg := message.NewMessage(e.ID, payload)
	metadata.Apply(msg, md.Custom())
	metadata.Apply(msg, metadata.New(
		metadata.KeyEventID, e.ID,
		metadata.KeyDataSourceID, e.DataSourceID,
		metadata.KeyDecoderIdentity, e.Decoder,
		"content_type", ContentType,
	))
	if corr := md[metadata.KeyCorrelationID]; corr != "" {
		msg.Metadata.Set(metadata.KeyCorrelationID, corr)
	}
	return msg, nil
}

// FromMessage decodes an event produced by ToMessage.
func FromMessage(msg *message.Message) (CanonicalEvent, error) {
	if msg == nil || len(msg.Payload) == 0 {
		return CanonicalEvent{}, rterrors.ErrEventPayloadRequired
	}
	var e CanonicalEvent
	if err := jsoncodec.UnmarshalNumbers(msg.Payload, &e); err != nil {
		return CanonicalEvent{}, fmt.Errorf("event: unmarshal %s: %w", msg.UUID, err)
	}
	return e, nil
}
