package runtime

import (
	"context"
	"time"

	"github.com/drblury/decodeflow/internal/runtime/event"
	loggingpkg "github.com/drblury/decodeflow/internal/runtime/logging"
)

// EnvelopeContext describes one envelope as it leaves the stage.
type EnvelopeContext struct {
	// Context is the context the envelope was processed with.
	Context context.Context
	// Identity is the rendered decoder identity, empty when extraction failed.
	Identity string
	// CorrelationID is taken from the inbound message metadata.
	CorrelationID string
	// Size is the raw payload length in bytes.
	Size int
	// StartedAt is when processing began.
	StartedAt time.Time
	// Duration is how long the stage took for the envelope.
	Duration time.Duration
}

// StageHooks are callbacks for the three ways an envelope can leave the stage.
// All hooks are optional. Hooks run on the processing goroutine and must not block.
type StageHooks struct {
	// OnDecoded is called after an event was built.
	OnDecoded func(ctx EnvelopeContext, evt event.CanonicalEvent)

	// OnRecovered is called after the recovery handler saved a rejected payload.
	OnRecovered func(ctx EnvelopeContext, cause error)

	// OnEscalated is called when a rejected payload could not be saved and the
	// envelope is failed back to the broker.
	OnEscalated func(ctx EnvelopeContext, err error)
}

// Merge combines two StageHooks. The hooks from other run after those from h.
func (h StageHooks) Merge(other StageHooks) StageHooks {
	return StageHooks{
		OnDecoded:   chainDecodedHooks(h.OnDecoded, other.OnDecoded),
		OnRecovered: chainErrorHooks(h.OnRecovered, other.OnRecovered),
		OnEscalated: chainErrorHooks(h.OnEscalated, other.OnEscalated),
	}
}

func chainDecodedHooks(a, b func(EnvelopeContext, event.CanonicalEvent)) func(EnvelopeContext, event.CanonicalEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx EnvelopeContext, evt event.CanonicalEvent) {
		a(ctx, evt)
		b(ctx, evt)
	}
}

func chainErrorHooks(a, b func(EnvelopeContext, error)) func(EnvelopeContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx EnvelopeContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks returns hooks that log every envelope outcome at Debug.
func LoggingHooks(logger loggingpkg.ServiceLogger) StageHooks {
	fields := func(ctx EnvelopeContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			loggingpkg.FieldIdentity: ctx.Identity,
			"correlation_id":         ctx.CorrelationID,
			"size":                   ctx.Size,
			"duration_ms":            ctx.Duration.Milliseconds(),
		}
	}
	return StageHooks{
		OnDecoded: func(ctx EnvelopeContext, evt event.CanonicalEvent) {
			f := fields(ctx)
			f["event_id"] = evt.ID
			f[loggingpkg.FieldDataSourceID] = evt.DataSourceID
			logger.Debug("Envelope decoded", f)
		},
		OnRecovered: func(ctx EnvelopeContext, cause error) {
			f := fields(ctx)
			f["cause"] = cause.Error()
			logger.Debug("Envelope recovered", f)
		},
		OnEscalated: func(ctx EnvelopeContext, err error) {
			f := fields(ctx)
			f["error"] = err.Error()
			logger.Debug("Envelope escalated", f)
		},
	}
}

// AlertingHooks returns hooks that call alertFunc for every escalated envelope.
func AlertingHooks(alertFunc func(ctx EnvelopeContext, err error)) StageHooks {
	return StageHooks{
		OnEscalated: alertFunc,
	}
}
