package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/decodeflow/internal/runtime/cache"
	"github.com/drblury/decodeflow/internal/runtime/catalog"
	configpkg "github.com/drblury/decodeflow/internal/runtime/config"
	"github.com/drblury/decodeflow/internal/runtime/decoders"
	errspkg "github.com/drblury/decodeflow/internal/runtime/errors"
	"github.com/drblury/decodeflow/internal/runtime/event"
	"github.com/drblury/decodeflow/internal/runtime/identity"
	"github.com/drblury/decodeflow/internal/runtime/loader"
	loggingpkg "github.com/drblury/decodeflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/decodeflow/internal/runtime/metadata"
	"github.com/drblury/decodeflow/internal/runtime/recovery"
)

// TracerName is the OpenTelemetry instrumentation name used by the stage.
const TracerName = "github.com/drblury/decodeflow"

// errNoRecoveryHandler is reported when a rejected payload has nowhere to go.
var errNoRecoveryHandler = errors.New("no recovery handler configured")

// DecoderLoader builds a decoder from catalog metadata. *loader.ArtifactLoader
// is the production implementation.
type DecoderLoader interface {
	Load(ctx context.Context, identity string, meta catalog.DecoderMetadata) (loader.Decoder, error)
}

// ErrorReporter receives every escalated envelope failure.
type ErrorReporter interface {
	ReportError(err error)
}

// ErrorReporterFunc adapts a function to ErrorReporter.
type ErrorReporterFunc func(err error)

func (f ErrorReporterFunc) ReportError(err error) { f(err) }

// Disposition is what happened to an envelope.
type Disposition int

const (
	// Emitted means a canonical event was built; the envelope is acknowledged.
	Emitted Disposition = iota + 1
	// Recovered means decoding failed but the recovery handler saved the raw
	// payload; the envelope is acknowledged.
	Recovered
	// Failed means decoding failed and the payload could not be saved; the
	// envelope is not acknowledged.
	Failed
)

func (d Disposition) String() string {
	switch d {
	case Emitted:
		return OutcomeEmitted
	case Recovered:
		return OutcomeRecovered
	case Failed:
		return OutcomeEscalated
	default:
		return "unknown"
	}
}

// Result is the outcome of Stage.Process.
type Result struct {
	Disposition Disposition
	// Event is set when Disposition is Emitted.
	Event event.CanonicalEvent
	// Message is Event encoded for the sink, set when Disposition is Emitted.
	Message *message.Message
	// Cause is the decoding failure for Recovered and Failed envelopes.
	Cause error
	// Err is the error reported upward for Failed envelopes.
	Err error
}

// StageDependencies are the collaborators of a Stage. Catalog is required.
type StageDependencies struct {
	Catalog catalog.Client
	// Loader defaults to an ArtifactLoader over Catalog that serves the
	// built-in decoders.
	Loader DecoderLoader
	// Recovery receives rejected payloads. Nil escalates every failure.
	Recovery recovery.Handler
	Reporter ErrorReporter
	Metrics  *StageMetrics
	Hooks    StageHooks
	Tracer   trace.Tracer
}

// Stage decodes raw envelopes into canonical events. It owns the two
// resolution caches; separate stages never share decoders.
type Stage struct {
	extractor         identity.Extractor
	fixedDataSourceID string

	catalog catalog.Client
	loader  DecoderLoader

	decoders    *cache.Cache[identity.DecoderIdentity, loader.Decoder]
	dataSources *cache.Cache[identity.DecoderIdentity, catalog.DataSourceMetadata]

	recovery recovery.Handler
	reporter ErrorReporter
	metrics  *StageMetrics
	hooks    StageHooks
	tracer   trace.Tracer
	logger   loggingpkg.ServiceLogger
}

// NewStage builds a stage for conf.
func NewStage(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps StageDependencies) (*Stage, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if deps.Catalog == nil {
		return nil, errspkg.ErrCatalogRequired
	}

	s := &Stage{
		extractor:         identity.Extractor{FixedDecoderID: conf.FixedDecoderID},
		fixedDataSourceID: conf.FixedDataSourceID,
		catalog:           deps.Catalog,
		loader:            deps.Loader,
		recovery:          deps.Recovery,
		reporter:          deps.Reporter,
		metrics:           deps.Metrics,
		hooks:             deps.Hooks,
		tracer:            deps.Tracer,
		logger:            log,
	}
	if s.loader == nil {
		registry := decoders.NewRegistry()
		artifacts := loader.NewArtifactLoader(deps.Catalog, conf.ArtifactDir, loader.RegistryOpener{Registry: registry}, registry, log)
		artifacts.Extension = conf.ArtifactExtension
		s.loader = artifacts
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(TracerName)
	}

	var decoderOpts, dataSourceOpts []cache.Option
	if conf.SuppressDuplicateLoads {
		decoderOpts = append(decoderOpts, cache.WithDuplicateSuppression())
		dataSourceOpts = append(dataSourceOpts, cache.WithDuplicateSuppression())
	}
	if s.metrics != nil {
		decoderOpts = append(decoderOpts, cache.WithObserver(s.metrics.CacheObserver(CacheDecoders)))
		dataSourceOpts = append(dataSourceOpts, cache.WithObserver(s.metrics.CacheObserver(CacheDataSources)))
	}
	s.decoders = cache.New[identity.DecoderIdentity, loader.Decoder](decoderOpts...)
	s.dataSources = cache.New[identity.DecoderIdentity, catalog.DataSourceMetadata](dataSourceOpts...)

	return s, nil
}

// Process decodes raw. Failures are sent to the recovery handler; the result
// says whether the envelope should be acknowledged.
func (s *Stage) Process(ctx context.Context, raw []byte) Result {
	return s.process(ctx, raw, "", nil)
}

// Handler adapts the stage to a Watermill handler: emitted events become the
// single output message, recovered envelopes are acked without output and
// failed ones are nacked by returning the error.
func (s *Stage) Handler() message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		correlationID := middleware.MessageCorrelationID(msg)
		md := metadatapkg.FromWatermill(msg.Metadata)
		if correlationID != "" {
			md = md.With(metadatapkg.KeyCorrelationID, correlationID)
		}
		res := s.process(msg.Context(), msg.Payload, correlationID, md)
		if res.Disposition != Emitted {
			return nil, res.Err
		}
		return []*message.Message{res.Message}, nil
	}
}

// process runs one envelope. md is copied onto the emitted event message.
func (s *Stage) process(ctx context.Context, raw []byte, correlationID string, md metadatapkg.Metadata) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.tracer.Start(ctx, "decodeflow.Process", trace.WithAttributes(
		attribute.Int("envelope.size", len(raw)),
	))
	defer span.End()

	envCtx := EnvelopeContext{
		Context:       ctx,
		CorrelationID: correlationID,
		Size:          len(raw),
		StartedAt:     time.Now(),
	}

	evt, out, err := s.decode(ctx, raw, md, &envCtx)
	var res Result
	if err != nil {
		res = s.recover(envCtx, raw, err)
		span.RecordError(err)
		if res.Disposition == Failed {
			span.SetStatus(codes.Error, res.Err.Error())
		}
	} else {
		res = Result{Disposition: Emitted, Event: evt, Message: out}
		s.record(OutcomeEmitted, "")
		if s.hooks.OnDecoded != nil {
			envCtx.Duration = time.Since(envCtx.StartedAt)
			s.hooks.OnDecoded(envCtx, evt)
		}
	}
	span.SetAttributes(
		attribute.String("decoder.identity", envCtx.Identity),
		attribute.String("envelope.outcome", res.Disposition.String()),
	)
	return res
}

// decode runs extraction, resolution, decoding and encoding of the event.
// Every error it returns is one of the three recoverable stage errors; an
// event that cannot be encoded is a decode error.
func (s *Stage) decode(ctx context.Context, raw []byte, md metadatapkg.Metadata, envCtx *EnvelopeContext) (event.CanonicalEvent, *message.Message, error) {
	env, err := s.extractor.Extract(raw)
	if err != nil {
		return event.CanonicalEvent{}, nil, err
	}
	envCtx.Identity = env.Identity.String()

	dec, err := s.ResolveDecoder(ctx, env.Identity)
	if err != nil {
		return event.CanonicalEvent{}, nil, err
	}

	dataSourceID, err := s.resolveDataSourceID(ctx, env.Identity)
	if err != nil {
		return event.CanonicalEvent{}, nil, err
	}

	fields, err := s.invoke(dec, env)
	if err != nil {
		return event.CanonicalEvent{}, nil, err
	}

	evt := event.New(env.MessageID, dataSourceID, fields).WithDecoder(envCtx.Identity)
	out, err := event.ToMessage(evt, md)
	if err != nil {
		return event.CanonicalEvent{}, nil, &errspkg.DecodeError{Identity: envCtx.Identity, Err: err}
	}
	return evt, out, nil
}

// invoke calls the decoder, converting a panic into a DecodeError.
func (s *Stage) invoke(dec loader.Decoder, env identity.Envelope) (fields map[string]any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.DecodeError{Identity: env.Identity.String(), Err: fmt.Errorf("decoder panicked: %v", r)}
		}
		if s.metrics != nil {
			s.metrics.ObserveDecode(env.Identity.String(), time.Since(start))
		}
	}()

	fields, err = dec.Decode(env.Body)
	if err != nil {
		return nil, &errspkg.DecodeError{Identity: env.Identity.String(), Err: err}
	}
	return fields, nil
}

// ResolveDecoder returns the cached decoder for id, loading it through the
// catalog on a miss. Failed loads are not cached.
func (s *Stage) ResolveDecoder(ctx context.Context, id identity.DecoderIdentity) (loader.Decoder, error) {
	return s.decoders.GetOrLoad(ctx, id, func(ctx context.Context) (loader.Decoder, error) {
		start := time.Now()
		defer s.observeResolve(CacheDecoders, start)

		meta, err := s.lookupDecoder(ctx, id)
		if err != nil {
			return nil, &errspkg.ResolutionError{Identity: id.String(), Op: "lookup decoder", Err: err}
		}
		s.logger.Debug("Loading decoder", loggingpkg.LogFields{
			loggingpkg.FieldIdentity:   id.String(),
			loggingpkg.FieldEntryPoint: meta.EntryPoint,
			loggingpkg.FieldArtifact:   meta.ArtifactLocation,
		})

		dec, err := s.loader.Load(ctx, id.String(), meta)
		if err != nil {
			var resErr *errspkg.ResolutionError
			if errors.As(err, &resErr) {
				return nil, err
			}
			return nil, &errspkg.ResolutionError{Identity: id.String(), Op: "load decoder", Err: err}
		}
		return dec, nil
	})
}

func (s *Stage) lookupDecoder(ctx context.Context, id identity.DecoderIdentity) (catalog.DecoderMetadata, error) {
	if decoderID, ok := id.DecoderID(); ok {
		return s.catalog.DecoderByID(ctx, decoderID)
	}
	sourceID, version, _ := id.Source()
	return s.catalog.DecoderBySource(ctx, sourceID, version)
}

// resolveDataSourceID picks the data source id stamped on the event: the
// configured id, else the catalog's id for an embedded source identity. A
// source unknown to the catalog yields "", any other lookup failure is a
// resolution error.
func (s *Stage) resolveDataSourceID(ctx context.Context, id identity.DecoderIdentity) (string, error) {
	if s.fixedDataSourceID != "" {
		return s.fixedDataSourceID, nil
	}
	sourceID, version, ok := id.Source()
	if !ok {
		return "", nil
	}

	meta, err := s.dataSources.GetOrLoad(ctx, id, func(ctx context.Context) (catalog.DataSourceMetadata, error) {
		defer s.observeResolve(CacheDataSources, time.Now())
		return s.catalog.DataSource(ctx, sourceID, version)
	})
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		s.logger.Debug("No data source registered", loggingpkg.LogFields{loggingpkg.FieldIdentity: id.String()})
		return "", nil
	case err != nil:
		return "", &errspkg.ResolutionError{Identity: id.String(), Op: "lookup data source", Err: err}
	}
	return meta.DataSourceID, nil
}

// recover is the single place a decoding failure is dispatched: saved by the
// recovery handler and acked, or escalated and nacked.
func (s *Stage) recover(envCtx EnvelopeContext, raw []byte, cause error) Result {
	class := failureClass(cause)
	log := s.logger.With(loggingpkg.LogFields{
		loggingpkg.FieldIdentity: envCtx.Identity,
		"correlation_id":         envCtx.CorrelationID,
		"failure":                class,
	})

	escalate := func(err error) Result {
		log.Error("Escalating envelope", err, nil)
		if s.reporter != nil {
			s.reporter.ReportError(err)
		}
		s.record(OutcomeEscalated, class)
		if s.hooks.OnEscalated != nil {
			envCtx.Duration = time.Since(envCtx.StartedAt)
			s.hooks.OnEscalated(envCtx, err)
		}
		return Result{Disposition: Failed, Cause: cause, Err: err}
	}

	if s.recovery == nil {
		return escalate(fmt.Errorf("%w: %w", errNoRecoveryHandler, cause))
	}

	log.Info("Failed to decode envelope, saving with recovery handler", loggingpkg.LogFields{"error": cause.Error()})

	ctx := recovery.WithRejection(envCtx.Context, recovery.Rejection{
		Cause:         cause,
		CorrelationID: envCtx.CorrelationID,
		Identity:      envCtx.Identity,
	})
	start := time.Now()
	err := s.recovery.Save(ctx, raw)
	if s.metrics != nil {
		s.metrics.ObserveRecovery(time.Since(start))
	}
	if err != nil {
		return escalate(&errspkg.RecoveryError{Err: err, Cause: cause})
	}

	s.record(OutcomeRecovered, class)
	if s.hooks.OnRecovered != nil {
		envCtx.Duration = time.Since(envCtx.StartedAt)
		s.hooks.OnRecovered(envCtx, cause)
	}
	return Result{Disposition: Recovered, Cause: cause}
}

func (s *Stage) record(outcome, class string) {
	if s.metrics != nil {
		s.metrics.RecordOutcome(outcome, class)
	}
}

func (s *Stage) observeResolve(cacheName string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveResolve(cacheName, time.Since(start))
	}
}

// CachedDecoders returns the identities with a cached decoder, sorted.
func (s *Stage) CachedDecoders() []string {
	return s.decoders.Keys()
}

// CachedDataSources returns the cached data source metadata by identity.
func (s *Stage) CachedDataSources() map[string]catalog.DataSourceMetadata {
	out := make(map[string]catalog.DataSourceMetadata)
	s.dataSources.Range(func(id identity.DecoderIdentity, meta catalog.DataSourceMetadata) bool {
		out[id.String()] = meta
		return true
	})
	return out
}

// CacheStats reports both resolution caches.
func (s *Stage) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		CacheDecoders:    s.decoders.Stats(),
		CacheDataSources: s.dataSources.Stats(),
	}
}

func failureClass(err error) string {
	var (
		extractErr *errspkg.ExtractionError
		resolveErr *errspkg.ResolutionError
		decodeErr  *errspkg.DecodeError
	)
	switch {
	case errors.As(err, &extractErr):
		return "extraction"
	case errors.As(err, &resolveErr):
		return "resolution"
	case errors.As(err, &decodeErr):
		return "decode"
	default:
		return "unknown"
	}
}
