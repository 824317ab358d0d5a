// Package recovery persists payloads the stage could not turn into events.
package recovery

import (
	"context"
	"errors"

	"github.com/drblury/decodeflow/internal/runtime/config"
)

var (
	ErrNotPrepared      = errors.New("recovery: handler used before Prepare")
	ErrDestinationEmpty = errors.New("recovery: no destination configured")
)

// Handler is the sink for rejected payloads. Prepare runs once before the
// first Save, Save may be called concurrently, Cleanup runs once at shutdown.
// Save must return an error when the payload was not persisted.
type Handler interface {
	Prepare(ctx context.Context, cfg config.Config) error
	Save(ctx context.Context, raw []byte) error
	Cleanup() error
}

// Rejection describes why a payload reached the recovery handler.
type Rejection struct {
	Cause         error
	CorrelationID string
	Identity      string
}

// Reason renders the cause for storage; empty when there is none.
func (r Rejection) Reason() string {
	if r.Cause == nil {
		return ""
	}
	return r.Cause.Error()
}

type rejectionKey struct{}

// WithRejection attaches r to ctx for the handler's Save call.
func WithRejection(ctx context.Context, r Rejection) context.Context {
	return context.WithValue(ctx, rejectionKey{}, r)
}

// RejectionFrom returns the rejection stored in ctx, if any.
func RejectionFrom(ctx context.Context) (Rejection, bool) {
	r, ok := ctx.Value(rejectionKey{}).(Rejection)
	return r, ok
}
