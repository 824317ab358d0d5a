// Package decodeflow is the decode stage of a streaming ingestion pipeline,
// built on Watermill. It consumes raw envelopes from a broker, finds the
// decoder each envelope needs, decodes the payload into a canonical event and
// publishes the event downstream.
//
// Decoders are described by a remote catalog. A Stage resolves each decoder
// identity once, caches the decoder for the life of the stage, and never
// caches a failed resolution, so a decoder published to the catalog after a
// failure is picked up by the next envelope. Envelopes that cannot be decoded
// are saved, byte for byte, by a recovery handler (a recovery topic or a
// JSON-lines file) and acknowledged. Only when the payload cannot be saved is
// the envelope failed back to the broker.
//
// A minimal setup fills Config with the catalog URL, the artifact directory
// and a transport, creates a Service and calls Start.
//
// # Transports
//
// decodeflow runs over 7 message transports:
//   - channel: In-memory Go channels for tests and embedding
//   - kafka: Consumer-group streaming
//   - rabbitmq: AMQP durable queues
//   - aws: SNS/SQS with LocalStack support
//   - nats: Core NATS messaging
//   - http: Envelopes posted over HTTP
//   - io: File-based envelopes
//
// # Middleware
//
// The default middleware chain adds correlation ids, Trace logging,
// OpenTelemetry spans, Prometheus router metrics, retries of transient
// escalations and panic recovery. Custom middleware can be added via
// ServiceDependencies.Middlewares.
//
// # Hooks
//
// StageHooks provides OnDecoded, OnRecovered and OnEscalated callbacks for
// logging, metrics and alerting around each envelope.
package decodeflow
