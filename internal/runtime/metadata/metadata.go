// Package metadata holds the message headers decodeflow reads and writes.
package metadata

// Reserved header keys. The stage stamps these on every emitted event message.
const (
	// KeyCorrelationID links an event to the envelope it was decoded from.
	KeyCorrelationID = "correlation_id"
	// KeyEventID is the canonical event id.
	KeyEventID = "event_id"
	// KeyDataSourceID is the data source the event was attributed to.
	KeyDataSourceID = "data_source_id"
	// KeyDecoderIdentity is the rendered identity of the decoder that produced the event.
	KeyDecoderIdentity = "decoder_identity"
	// KeyRecoveryReason is set on payloads published to the recovery topic.
	KeyRecoveryReason = "recovery_reason"
)

var reserved = map[string]struct{}{
	KeyCorrelationID:   {},
	KeyEventID:         {},
	KeyDataSourceID:    {},
	KeyDecoderIdentity: {},
	KeyRecoveryReason:  {},
}

// IsReserved reports whether key is written by decodeflow itself.
func IsReserved(key string) bool {
	_, ok := reserved[key]
	return ok
}

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a copy containing key=value.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a copy containing every entry of entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Custom returns the entries whose keys are not reserved.
func (m Metadata) Custom() Metadata {
	custom := make(Metadata, len(m))
	for k, v := range m {
		if !IsReserved(k) {
			custom[k] = v
		}
	}
	return custom
}

// New constructs Metadata from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
