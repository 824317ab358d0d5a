package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired      = sterrors.New("decodeflow: service is required")
	ErrConfigRequired       = sterrors.New("decodeflow: configuration is required")
	ErrLoggerRequired       = sterrors.New("decodeflow: logger is required")
	ErrCatalogRequired      = sterrors.New("decodeflow: catalog client is required")
	ErrPublisherRequired    = sterrors.New("decodeflow: publisher is required")
	ErrTopicRequired        = sterrors.New("decodeflow: topic is required")
	ErrEventPayloadRequired = sterrors.New("decodeflow: event payload is required")
	ErrMissingSourceID      = sterrors.New("decodeflow: wrapper has no source id")
	ErrEntryPointNotFound   = sterrors.New("decodeflow: decoder entry point not found")
	ErrNilDecoder           = sterrors.New("decodeflow: decoder factory returned nil")
)

// ConfigValidationError reports an invalid Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "decodeflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// ExtractionError means the envelope body could not be parsed into an identity and body.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return "extract decoder identity: " + e.Err.Error()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ResolutionError means a catalog lookup or an artifact fetch/load/instantiate failed.
type ResolutionError struct {
	Identity string
	Op       string
	Err      error
}

func (e *ResolutionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("resolve %s: %v", e.Identity, e.Err)
	}
	return fmt.Sprintf("resolve %s: %s: %v", e.Identity, e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// DecodeError means the decoder rejected the payload body.
type DecodeError struct {
	Identity string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode with %s: %v", e.Identity, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RecoveryError means the recovery handler failed to persist a rejected payload.
// Cause is the failure that sent the payload to recovery in the first place.
type RecoveryError struct {
	Err   error
	Cause error
}

func (e *RecoveryError) Error() string {
	if e.Cause == nil {
		return "save rejected payload: " + e.Err.Error()
	}
	return fmt.Sprintf("save rejected payload: %v (rejected because: %v)", e.Err, e.Cause)
}

func (e *RecoveryError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// IsRecoverable reports whether err belongs to the class of failures that the
// stage hands to its recovery handler instead of failing the envelope.
func IsRecoverable(err error) bool {
	var recoveryErr *RecoveryError
	if sterrors.As(err, &recoveryErr) {
		return false
	}
	var (
		extractErr *ExtractionError
		resolveErr *ResolutionError
		decodeErr  *DecodeError
	)
	return sterrors.As(err, &extractErr) || sterrors.As(err, &resolveErr) || sterrors.As(err, &decodeErr)
}
