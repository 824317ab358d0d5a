package identity

import (
	"errors"

	rterrors "github.com/drblury/decodeflow/internal/runtime/errors"
	"github.com/drblury/decodeflow/internal/runtime/jsoncodec"
)

// Wrapper is the self-describing JSON payload producers send when the stage is
// not bound to a fixed decoder. Data travels base64 encoded.
type Wrapper struct {
	ID        string `json:"id"`
	Version   int64  `json:"version"`
	MessageID string `json:"messageId,omitempty"`
	Data      []byte `json:"data"`
}

// Wrap encodes body into a wrapper for sourceID@version.
func Wrap(sourceID string, version int64, messageID string, body []byte) ([]byte, error) {
	if sourceID == "" {
		return nil, rterrors.ErrMissingSourceID
	}
	return jsoncodec.Marshal(Wrapper{ID: sourceID, Version: version, MessageID: messageID, Data: body})
}

// Extractor turns raw payload bytes into an Envelope.
type Extractor struct {
	// FixedDecoderID, when set, binds every payload to one decoder and disables
	// wrapper parsing.
	FixedDecoderID *int64
}

// Extract derives the identity of raw. With a fixed decoder the body is never
// inspected; otherwise raw must be a Wrapper with a non-empty id. Failures are
// returned as *errors.ExtractionError.
func (e Extractor) Extract(raw []byte) (Envelope, error) {
	if e.FixedDecoderID != nil {
		return Envelope{Body: raw, Identity: ByID(*e.FixedDecoderID)}, nil
	}

	if len(raw) == 0 {
		return Envelope{}, &rterrors.ExtractionError{Err: errors.New("empty payload")}
	}

	var w Wrapper
	if err := jsoncodec.Unmarshal(raw, &w); err != nil {
		return Envelope{}, &rterrors.ExtractionError{Err: err}
	}
	if w.ID == "" {
		return Envelope{}, &rterrors.ExtractionError{Err: rterrors.ErrMissingSourceID}
	}

	body := w.Data
	if body == nil {
		body = []byte{}
	}
	return Envelope{
		Body:      body,
		Identity:  BySource(w.ID, w.Version),
		MessageID: w.MessageID,
	}, nil
}
