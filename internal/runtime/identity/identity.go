// Package identity derives the decoder selection key from inbound envelopes.
package identity

import (
	"fmt"
	"strconv"
)

// Kind tells the two forms of DecoderIdentity apart.
type Kind uint8

const (
	// KindID is an explicit numeric decoder id.
	KindID Kind = iota + 1
	// KindSource is a (source id, version) pair embedded in the payload.
	KindSource
)

func (k Kind) String() string {
	switch k {
	case KindID:
		return "decoder"
	case KindSource:
		return "source"
	default:
		return "unknown"
	}
}

// DecoderIdentity selects the decoder for a payload. It is a comparable value
// and is used directly as a cache key: two identities are equal exactly when
// they have the same kind and the same fields.
type DecoderIdentity struct {
	kind     Kind
	id       int64
	sourceID string
	version  int64
}

// ByID returns the identity of an explicitly bound decoder.
func ByID(id int64) DecoderIdentity {
	return DecoderIdentity{kind: KindID, id: id}
}

// BySource returns the identity of the decoder registered for a data source version.
func BySource(sourceID string, version int64) DecoderIdentity {
	return DecoderIdentity{kind: KindSource, sourceID: sourceID, version: version}
}

// Kind reports which constructor built the identity. The zero value has kind 0.
func (d DecoderIdentity) Kind() Kind { return d.kind }

// IsZero reports whether d was never constructed.
func (d DecoderIdentity) IsZero() bool { return d.kind == 0 }

// DecoderID returns the explicit id; ok is false for source identities.
func (d DecoderIdentity) DecoderID() (id int64, ok bool) {
	return d.id, d.kind == KindID
}

// Source returns the embedded source id and version; ok is false for explicit ids.
func (d DecoderIdentity) Source() (sourceID string, version int64, ok bool) {
	return d.sourceID, d.version, d.kind == KindSource
}

// String renders "decoder:42" or "source:meter@3".
func (d DecoderIdentity) String() string {
	switch d.kind {
	case KindID:
		return "decoder:" + strconv.FormatInt(d.id, 10)
	case KindSource:
		return fmt.Sprintf("source:%s@%d", d.sourceID, d.version)
	default:
		return "identity:none"
	}
}

// Envelope is an inbound payload after identity extraction.
type Envelope struct {
	// Body is what the decoder receives: the whole payload for a fixed decoder,
	// the wrapper's data otherwise.
	Body      []byte
	Identity  DecoderIdentity
	MessageID string
}
