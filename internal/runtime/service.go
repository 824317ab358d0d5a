package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/decodeflow/internal/runtime/catalog"
	configpkg "github.com/drblury/decodeflow/internal/runtime/config"
	"github.com/drblury/decodeflow/internal/runtime/decoders"
	errspkg "github.com/drblury/decodeflow/internal/runtime/errors"
	"github.com/drblury/decodeflow/internal/runtime/loader"
	loggingpkg "github.com/drblury/decodeflow/internal/runtime/logging"
	"github.com/drblury/decodeflow/internal/runtime/recovery"
	transportpkg "github.com/drblury/decodeflow/internal/runtime/transport"
	brokers "github.com/drblury/decodeflow/transport"
	httptransport "github.com/drblury/decodeflow/transport/http"
)

// HandlerName is the router handler name of the decoding stage.
const HandlerName = "decodeflow"

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to build them from the configuration.
type ServiceDependencies struct {
	// Catalog defaults to an HTTP client for Conf.CatalogURL.
	Catalog catalog.Client
	// Opener defaults to a RegistryOpener over Decoders.
	Opener loader.Opener
	// Decoders defaults to the built-in decoders.
	Decoders *loader.Registry
	// Recovery defaults to a PublisherHandler when Conf.RecoveryTopic is set,
	// else a FileHandler when Conf.RecoveryFile is set, else none.
	Recovery recovery.Handler
	Reporter ErrorReporter
	Hooks    StageHooks

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	// MetricsRegisterer defaults to the Prometheus default registerer.
	MetricsRegisterer prometheus.Registerer
	Tracer            trace.Tracer
}

// Service hosts a Stage on a Watermill router: it consumes envelopes from
// Conf.InputTopic and publishes canonical events to Conf.OutputTopic.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	delivery   brokers.Delivery
	router     *message.Router

	stage    *Stage
	recovery recovery.Handler
	metrics  *StageMetrics

	registerer prometheus.Registerer
	tracer     trace.Tracer

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	servers       []*http.Server
}

// NewService constructs a Service for the supplied configuration. It panics
// when the service cannot be built; use TryNewService to get the error.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService constructs a Service, returning configuration and connection errors.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating decoding service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf,
	})

	s := &Service{
		Conf:       conf,
		Logger:     log,
		registerer: deps.MetricsRegisterer,
		tracer:     deps.Tracer,
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(TracerName)
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber
	s.delivery = transport.Delivery

	if s.stage, err = s.buildStage(deps); err != nil {
		return nil, err
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	in, out := conf.Topics()
	s.router.AddHandler(HandlerName, in, s.subscriber, out, s.publisher, s.stage.Handler())

	return s, nil
}

func (s *Service) buildStage(deps ServiceDependencies) (*Stage, error) {
	client := deps.Catalog
	if client == nil {
		httpClient, err := catalog.NewHTTPClient(s.Conf.CatalogURL, catalog.WithTimeout(s.Conf.EffectiveCatalogTimeout()))
		if err != nil {
			return nil, err
		}
		client = httpClient
	}

	registry := deps.Decoders
	if registry == nil {
		registry = decoders.NewRegistry()
	}
	opener := deps.Opener
	if opener == nil {
		opener = loader.RegistryOpener{Registry: registry}
	}
	artifacts := loader.NewArtifactLoader(client, s.Conf.ArtifactDir, opener, registry, s.Logger)
	artifacts.Extension = s.Conf.ArtifactExtension

	s.recovery = deps.Recovery
	if s.recovery == nil {
		s.recovery = s.defaultRecoveryHandler()
	}

	if s.Conf.MetricsEnabled {
		s.metrics = NewStageMetrics(s.registerer)
		if err := s.metrics.Register(); err != nil {
			return nil, err
		}
	}

	return NewStage(s.Conf, s.Logger, StageDependencies{
		Catalog:  client,
		Loader:   artifacts,
		Recovery: s.recovery,
		Reporter: deps.Reporter,
		Metrics:  s.metrics,
		Hooks:    deps.Hooks,
		Tracer:   s.tracer,
	})
}

func (s *Service) defaultRecoveryHandler() recovery.Handler {
	switch {
	case s.Conf.RecoveryTopic != "":
		return recovery.NewPublisherHandler(s.publisher, s.Conf.RecoveryTopic, s.delivery)
	case s.Conf.RecoveryFile != "":
		return recovery.NewFileHandler(s.Conf.RecoveryFile)
	default:
		return nil
	}
}

// Start prepares the recovery handler and runs the router until ctx is
// cancelled. The recovery handler is cleaned up when the router stops.
func (s *Service) Start(ctx context.Context) error {
	if s.recovery != nil {
		if err := s.recovery.Prepare(ctx, *s.Conf); err != nil {
			return fmt.Errorf("prepare recovery handler: %w", err)
		}
		defer s.cleanupRecovery()
	} else if !s.delivery.Redelivers {
		s.Logger.Info("No recovery handler configured and the transport does not redeliver: envelopes that fail to decode will be lost", loggingpkg.LogFields{
			"pubsub_system": s.delivery.Name,
		})
	}

	// Metrics and admin endpoints answer while the router starts.
	s.StartAdminServer()
	s.startHTTPServers()
	defer s.stopHTTPServers()

	if srv, ok := s.subscriber.(httptransport.Server); ok {
		go func() {
			<-s.router.Running()
			if err := srv.StartHTTPServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP transport server stopped", err, nil)
			}
		}()
	}

	return routerRun(s.router, ctx)
}

func (s *Service) cleanupRecovery() {
	if err := s.recovery.Cleanup(); err != nil {
		s.Logger.Error("Failed to clean up recovery handler", err, nil)
	}
}

// Stage returns the decoding stage.
func (s *Service) Stage() *Stage { return s.stage }

// Delivery returns the delivery semantics of the configured transport.
func (s *Service) Delivery() brokers.Delivery { return s.delivery }

// Metrics returns the stage metrics, nil when metrics are disabled.
func (s *Service) Metrics() *StageMetrics { return s.metrics }

// Publisher returns the transport publisher events are emitted with.
func (s *Service) Publisher() message.Publisher { return s.publisher }

// Subscriber returns the transport subscriber envelopes are consumed with.
func (s *Service) Subscriber() message.Subscriber { return s.subscriber }

// Close stops the router and closes the transport. A router that never ran
// is not closed: it would wait for handlers that were never started.
func (s *Service) Close() error {
	var errs []error
	if s.router != nil && s.router.IsRunning() {
		errs = append(errs, s.router.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.subscriber != nil {
		errs = append(errs, s.subscriber.Close())
	}
	return errors.Join(errs...)
}

func (s *Service) transportName() string {
	if s.delivery.Name != "" {
		return s.delivery.Name
	}
	return strings.ToLower(s.Conf.PubSubSystem)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// RegisterHTTPHandler mounts handler on the server for port. Servers start with Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
		s.servers = append(s.servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (s *Service) stopHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for _, srv := range s.servers {
		_ = srv.Close()
	}
	s.servers = nil
}
