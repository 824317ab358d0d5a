package decodeflow

import (
	"context"

	runtimepkg "github.com/drblury/decodeflow/internal/runtime"
	"github.com/drblury/decodeflow/internal/runtime/cache"
	"github.com/drblury/decodeflow/internal/runtime/catalog"
	configpkg "github.com/drblury/decodeflow/internal/runtime/config"
	"github.com/drblury/decodeflow/internal/runtime/decoders"
	errspkg "github.com/drblury/decodeflow/internal/runtime/errors"
	"github.com/drblury/decodeflow/internal/runtime/event"
	"github.com/drblury/decodeflow/internal/runtime/identity"
	idspkg "github.com/drblury/decodeflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/decodeflow/internal/runtime/jsoncodec"
	"github.com/drblury/decodeflow/internal/runtime/loader"
	loggingpkg "github.com/drblury/decodeflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/decodeflow/internal/runtime/metadata"
	"github.com/drblury/decodeflow/internal/runtime/recovery"
	transportpkg "github.com/drblury/decodeflow/internal/runtime/transport"
	brokers "github.com/drblury/decodeflow/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	Stage             = runtimepkg.Stage
	StageDependencies = runtimepkg.StageDependencies
	Result            = runtimepkg.Result
	Disposition       = runtimepkg.Disposition
	DecoderLoader     = runtimepkg.DecoderLoader
	ErrorReporter     = runtimepkg.ErrorReporter
	ErrorReporterFunc = runtimepkg.ErrorReporterFunc

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	// Envelope lifecycle hooks
	EnvelopeContext = runtimepkg.EnvelopeContext
	StageHooks      = runtimepkg.StageHooks

	StageMetrics         = runtimepkg.StageMetrics
	StageMetricsSnapshot = runtimepkg.StageMetricsSnapshot
	CacheStats           = cache.Stats
	DecodersView         = runtimepkg.DecodersView

	CanonicalEvent  = event.CanonicalEvent
	DecoderIdentity = identity.DecoderIdentity
	Wrapper         = identity.Wrapper

	// Catalog
	CatalogClient      = catalog.Client
	DecoderMetadata    = catalog.DecoderMetadata
	DataSourceMetadata = catalog.DataSourceMetadata
	HTTPCatalog        = catalog.HTTPClient
	HTTPCatalogOption  = catalog.HTTPOption
	MemoryCatalog      = catalog.Memory
	CatalogStatusError = catalog.StatusError

	// Decoder loading
	Decoder         = loader.Decoder
	DecoderFunc     = loader.DecoderFunc
	DecoderFactory  = loader.Factory
	DecoderRegistry = loader.Registry
	Opener          = loader.Opener
	RegistryOpener  = loader.RegistryOpener
	PluginOpener    = loader.PluginOpener
	ArtifactLoader  = loader.ArtifactLoader

	// Recovery
	RecoveryHandler   = recovery.Handler
	Rejection         = recovery.Rejection
	FileRecovery      = recovery.FileHandler
	RecoveryRecord    = recovery.Record
	PublisherRecovery = recovery.PublisherHandler

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	ExtractionError       = errspkg.ExtractionError
	ResolutionError       = errspkg.ResolutionError
	DecodeError           = errspkg.DecodeError
	RecoveryError         = errspkg.RecoveryError

	// Broker registry
	TransportBuilder  = brokers.Builder
	TransportConfig   = brokers.Config
	TransportRegistry = brokers.Registry
	Delivery          = brokers.Delivery
)

// Dispositions reported in Result.
const (
	Emitted   = runtimepkg.Emitted
	Recovered = runtimepkg.Recovered
	Failed    = runtimepkg.Failed
)

// Entry points of the built-in decoders.
const (
	EntryPointJSON           = decoders.EntryPointJSON
	EntryPointCSV            = decoders.EntryPointCSV
	EntryPointProtobufStruct = decoders.EntryPointProtobufStruct
	EntryPointProtoJSON      = decoders.EntryPointProtoJSON
)

// Metadata keys stamped on emitted events and recovered payloads.
const (
	MetadataKeyCorrelationID   = metadatapkg.KeyCorrelationID
	MetadataKeyEventID         = metadatapkg.KeyEventID
	MetadataKeyDataSourceID    = metadatapkg.KeyDataSourceID
	MetadataKeyDecoderIdentity = metadatapkg.KeyDecoderIdentity
	MetadataKeyRecoveryReason  = metadatapkg.KeyRecoveryReason
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	NewStage       = runtimepkg.NewStage
	ValidateConfig = configpkg.ValidateConfig

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	RetryableEscalation     = runtimepkg.RetryableEscalation

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewStageMetrics = runtimepkg.NewStageMetrics

	NewHTTPCatalog          = catalog.NewHTTPClient
	WithCatalogTimeout      = catalog.WithTimeout
	WithCatalogHTTPClient   = catalog.WithHTTPClient
	NewMemoryCatalog        = catalog.NewMemory
	ErrCatalogNotFound      = catalog.ErrNotFound
	NewDecoderRegistry      = loader.NewRegistry
	NewBuiltinRegistry      = decoders.NewRegistry
	RegisterBuiltinDecoders = decoders.RegisterBuiltins
	NewArtifactLoader       = loader.NewArtifactLoader

	NewFileRecovery      = recovery.NewFileHandler
	NewPublisherRecovery = recovery.NewPublisherHandler
	RejectionFrom        = recovery.RejectionFrom

	DecoderByID     = identity.ByID
	DecoderBySource = identity.BySource
	WrapPayload     = identity.Wrap

	NewEvent         = event.New
	EventToMessage   = event.ToMessage
	EventFromMessage = event.FromMessage

	DefaultTransportRegistry = brokers.DefaultRegistry
	RegisterTransport        = brokers.Register
	BuildTransport           = brokers.Build
	DeliveryOf               = brokers.DeliveryOf

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrCatalogRequired      = errspkg.ErrCatalogRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrEventPayloadRequired = errspkg.ErrEventPayloadRequired
	ErrMissingSourceID      = errspkg.ErrMissingSourceID
	ErrEntryPointNotFound   = errspkg.ErrEntryPointNotFound
	IsRecoverable           = errspkg.IsRecoverable

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewJSONServiceLogger = loggingpkg.NewJSONServiceLogger
	DiscardLogger        = loggingpkg.Discard

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Process decodes a single envelope with svc's stage. It is a shortcut for
// svc.Stage().Process and returns ErrServiceRequired when svc is nil.
func Process(ctx context.Context, svc *Service, raw []byte) (Result, error) {
	if svc == nil || svc.Stage() == nil {
		return Result{}, ErrServiceRequired
	}
	return svc.Stage().Process(ctx, raw), nil
}
