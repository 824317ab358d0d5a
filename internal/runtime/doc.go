/*
Package runtime hosts the decoding stage of a decodeflow pipeline.

# Architecture Overview

A Stage turns raw envelopes into canonical events. For every envelope it

  - extracts the decoder identity (a fixed decoder id, or the source id and
    version embedded in a JSON wrapper),
  - resolves the decoder through a per-stage cache, loading it from the
    catalog on a miss,
  - resolves the data source id the event is attributed to,
  - runs the decoder and builds the event.

Any failure along the way is handed to the recovery handler together with
the unmodified envelope bytes. Only when the handler cannot save the payload
(or none is configured) is the envelope failed back to the broker.

The Service runs a Stage on a Watermill router: it consumes Conf.InputTopic,
publishes events to Conf.OutputTopic and wires the default middleware chain.

# Package Structure

## Stage (stage.go)

Process and Handler, the two resolution caches, and the single recovery
dispatch point.

## Service (service.go)

Transport construction, default collaborators built from Config, the router
and its lifecycle. The recovery handler is prepared before the router starts
and cleaned up after it stops.

## Middleware (middleware.go)

  - CorrelationID: every envelope carries a correlation id
  - LogMessages: Trace logging of envelope metadata
  - Tracer: OpenTelemetry span per envelope
  - Metrics: Watermill router metrics and the /metrics endpoint
  - Retry: retries escalations that may be transient
  - Recoverer: panic recovery

## Observability (metrics.go, hooks.go, admin.go)

StageMetrics counts outcomes, cache events and decoder latency. StageHooks
are callbacks for decoded, recovered and escalated envelopes. The admin
endpoints list cached decoders and data sources.

# Sub-packages

  - cache/: generic resolution cache without negative caching
  - catalog/: catalog client (HTTP and in-memory)
  - config/: Service configuration with validation
  - decoders/: built-in JSON, CSV and protobuf decoders
  - errors/: sentinel errors and the stage failure classes
  - event/: canonical events and their wire form
  - identity/: decoder identities and envelope extraction
  - ids/: ULID generation
  - jsoncodec/: JSON marshaling
  - loader/: decoder registry, artifact persistence and opening
  - logging/: logger interface and adapters
  - metadata/: message metadata keys
  - recovery/: file and topic recovery handlers
  - transport/: broker selection for a Service

# Usage Example

	cfg := &decodeflow.Config{
		CatalogURL:    "http://catalog:8080",
		ArtifactDir:   "/var/lib/decodeflow/artifacts",
		PubSubSystem:  "kafka",
		KafkaBrokers:  []string{"localhost:9092"},
		InputTopic:    "meters.raw",
		OutputTopic:   "meters.events",
		RecoveryTopic: "meters.rejected",
	}

	svc := decodeflow.NewService(cfg, logger, ctx, decodeflow.ServiceDependencies{})
	svc.Start(ctx)
*/
package runtime
