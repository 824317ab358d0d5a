package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/decodeflow/internal/runtime/config"
	errspkg "github.com/drblury/decodeflow/internal/runtime/errors"
	"github.com/drblury/decodeflow/internal/runtime/event"
	loggingpkg "github.com/drblury/decodeflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/decodeflow/internal/runtime/metadata"
	"github.com/drblury/decodeflow/internal/runtime/recovery"
	transportpkg "github.com/drblury/decodeflow/internal/runtime/transport"
	brokers "github.com/drblury/decodeflow/transport"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

type gochannelFactory struct {
	pubSub   *gochannel.GoChannel
	delivery brokers.Delivery
	err      error
}

func newGochannelFactory() *gochannelFactory {
	return &gochannelFactory{
		pubSub:   gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{}),
		delivery: brokers.ChannelDelivery,
	}
}

func (f *gochannelFactory) Build(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
	if f.err != nil {
		return transportpkg.Transport{}, f.err
	}
	return transportpkg.Transport{Publisher: f.pubSub, Subscriber: f.pubSub, Delivery: f.delivery}, nil
}

type lifecycleRecovery struct {
	savingRecovery
	prepareErr error
	prepared   atomic.Bool
	cleaned    atomic.Bool
}

func (r *lifecycleRecovery) Prepare(context.Context, configpkg.Config) error {
	if r.prepareErr != nil {
		return r.prepareErr
	}
	r.prepared.Store(true)
	return nil
}

func (r *lifecycleRecovery) Cleanup() error {
	r.cleaned.Store(true)
	return nil
}

func serviceConfig(t *testing.T) *configpkg.Config {
	t.Helper()
	return &configpkg.Config{
		CatalogURL:  "http://catalog.test",
		ArtifactDir: t.TempDir(),
	}
}

func newTestService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) *Service {
	t.Helper()
	if deps.TransportFactory == nil {
		deps.TransportFactory = newGochannelFactory()
	}
	if deps.Catalog == nil {
		deps.Catalog = meterCatalog()
	}
	if deps.MetricsRegisterer == nil {
		deps.MetricsRegisterer = prometheus.NewRegistry()
	}
	svc, err := TryNewService(conf, newTestLogger(), context.Background(), deps)
	require.NoError(t, err)
	return svc
}

func TestTryNewServiceValidatesInputs(t *testing.T) {
	_, err := TryNewService(nil, newTestLogger(), context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = TryNewService(serviceConfig(t), nil, context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	_, err = TryNewService(&configpkg.Config{}, newTestLogger(), context.Background(), ServiceDependencies{})
	var validationErr errspkg.ConfigValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, err.Error(), "catalog: URL is required")
	assert.Contains(t, err.Error(), "artifacts: directory is required")
}

func TestTryNewServiceReportsTransportFailure(t *testing.T) {
	factory := newGochannelFactory()
	factory.err = errors.New("dial failed")

	_, err := TryNewService(serviceConfig(t), newTestLogger(), context.Background(), ServiceDependencies{TransportFactory: factory})

	assert.EqualError(t, err, "build transport: dial failed")
}

func TestNewServicePanicsOnError(t *testing.T) {
	assert.Panics(t, func() {
		NewService(&configpkg.Config{}, newTestLogger(), context.Background(), ServiceDependencies{})
	})
}

func TestNewServiceUsesDefaultChannelTransport(t *testing.T) {
	svc, err := TryNewService(serviceConfig(t), newTestLogger(), context.Background(), ServiceDependencies{
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	assert.Equal(t, "channel", svc.Delivery().Name)
	assert.NotNil(t, svc.Publisher())
	assert.NotNil(t, svc.Stage())
	assert.Nil(t, svc.Metrics())
}

func TestNewServiceRejectsUnknownTransport(t *testing.T) {
	conf := serviceConfig(t)
	conf.PubSubSystem = "gcp"

	_, err := TryNewService(conf, newTestLogger(), context.Background(), ServiceDependencies{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestNewServiceDefaultRecoveryHandler(t *testing.T) {
	t.Run("topic", func(t *testing.T) {
		conf := serviceConfig(t)
		conf.RecoveryTopic = "decodeflow.rejected"
		conf.RecoveryFile = filepath.Join(t.TempDir(), "rejected.jsonl")
		svc := newTestService(t, conf, ServiceDependencies{})

		handler, ok := svc.recovery.(*recovery.PublisherHandler)
		require.True(t, ok, "got %T", svc.recovery)
		assert.Equal(t, "decodeflow.rejected", handler.Topic)
	})

	t.Run("file", func(t *testing.T) {
		conf := serviceConfig(t)
		conf.RecoveryFile = filepath.Join(t.TempDir(), "rejected.jsonl")
		svc := newTestService(t, conf, ServiceDependencies{})

		_, ok := svc.recovery.(*recovery.FileHandler)
		assert.True(t, ok, "got %T", svc.recovery)
	})

	t.Run("none", func(t *testing.T) {
		svc := newTestService(t, serviceConfig(t), ServiceDependencies{})
		assert.Nil(t, svc.recovery)
	})

	t.Run("explicit", func(t *testing.T) {
		conf := serviceConfig(t)
		conf.RecoveryTopic = "ignored"
		rec := &lifecycleRecovery{}
		svc := newTestService(t, conf, ServiceDependencies{Recovery: rec})
		assert.Same(t, rec, svc.recovery)
	})
}

func TestNewServiceMetricsEnabled(t *testing.T) {
	conf := serviceConfig(t)
	conf.MetricsEnabled = true
	svc := newTestService(t, conf, ServiceDependencies{})

	require.NotNil(t, svc.Metrics())
	svc.Stage().Process(context.Background(), wrap(t, "meter", 3, "", `{}`))
	assert.Equal(t, uint64(1), svc.Metrics().GetSnapshot().Emitted)
}

func TestNewServiceRegistersMiddlewares(t *testing.T) {
	called := false
	newTestService(t, serviceConfig(t), ServiceDependencies{
		Middlewares: []MiddlewareRegistration{{
			Name: "custom",
			Builder: func(*Service) (message.HandlerMiddleware, error) {
				called = true
				return func(h message.HandlerFunc) message.HandlerFunc { return h }, nil
			},
		}},
	})
	assert.True(t, called)
}

func TestNewServiceMiddlewareErrors(t *testing.T) {
	_, err := TryNewService(serviceConfig(t), newTestLogger(), context.Background(), ServiceDependencies{
		TransportFactory:          newGochannelFactory(),
		Catalog:                   meterCatalog(),
		DisableDefaultMiddlewares: true,
		Middlewares: []MiddlewareRegistration{{
			Name:    "bad",
			Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, errors.New("boom") },
		}},
	})
	assert.EqualError(t, err, "failed to register middleware bad: boom")

	_, err = TryNewService(serviceConfig(t), newTestLogger(), context.Background(), ServiceDependencies{
		TransportFactory:          newGochannelFactory(),
		Catalog:                   meterCatalog(),
		DisableDefaultMiddlewares: true,
		Middlewares:               []MiddlewareRegistration{{}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anonymous_middleware")
}

func TestServiceStartAbortsWhenRecoveryPrepareFails(t *testing.T) {
	rec := &lifecycleRecovery{prepareErr: errors.New("read-only filesystem")}
	svc := newTestService(t, serviceConfig(t), ServiceDependencies{Recovery: rec})

	origRun := routerRun
	t.Cleanup(func() { routerRun = origRun })
	ran := false
	routerRun = func(*message.Router, context.Context) error {
		ran = true
		return nil
	}

	err := svc.Start(context.Background())

	assert.EqualError(t, err, "prepare recovery handler: read-only filesystem")
	assert.False(t, ran)
	assert.False(t, rec.cleaned.Load())
}

func TestServiceStartCleansUpRecoveryHandler(t *testing.T) {
	rec := &lifecycleRecovery{}
	svc := newTestService(t, serviceConfig(t), ServiceDependencies{Recovery: rec})

	origRun := routerRun
	t.Cleanup(func() { routerRun = origRun })
	routerRun = func(*message.Router, context.Context) error {
		assert.True(t, rec.prepared.Load())
		assert.False(t, rec.cleaned.Load())
		return nil
	}

	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, rec.cleaned.Load())
}

func TestServiceStartReturnsWhenContextCancelled(t *testing.T) {
	svc := newTestService(t, serviceConfig(t), ServiceDependencies{})

	origRun := routerRun
	t.Cleanup(func() { routerRun = origRun })
	called := make(chan struct{}, 1)
	routerRun = func(_ *message.Router, runCtx context.Context) error {
		called <- struct{}{}
		<-runCtx.Done()
		return runCtx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("routerRun override not invoked")
	}
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("service start did not return after context cancellation")
	}
}

func runService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("service did not stop")
		}
	})

	select {
	case <-svc.router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestServiceDecodesEnvelopesEndToEnd(t *testing.T) {
	conf := serviceConfig(t)
	conf.InputTopic = "meters.raw"
	conf.OutputTopic = "meters.events"
	conf.RecoveryTopic = "meters.rejected"
	factory := newGochannelFactory()
	svc := newTestService(t, conf, ServiceDependencies{TransportFactory: factory})

	events, err := factory.pubSub.Subscribe(context.Background(), "meters.events")
	require.NoError(t, err)
	rejected, err := factory.pubSub.Subscribe(context.Background(), "meters.rejected")
	require.NoError(t, err)

	runService(t, svc)

	in := message.NewMessage(watermill.NewUUID(), wrap(t, "meter", 3, "evt-42", `{"kwh":3}`))
	in.Metadata.Set(metadatapkg.KeyCorrelationID, "corr-e2e")
	require.NoError(t, factory.pubSub.Publish("meters.raw", in))

	out := receive(t, events)
	evt, err := event.FromMessage(out)
	require.NoError(t, err)
	assert.Equal(t, "evt-42", evt.ID)
	assert.Equal(t, "ds-meter", evt.DataSourceID)
	assert.Equal(t, "corr-e2e", out.Metadata.Get(metadatapkg.KeyCorrelationID))

	junk := []byte(`{"version":1}`)
	require.NoError(t, factory.pubSub.Publish("meters.raw", message.NewMessage(watermill.NewUUID(), junk)))

	saved := receive(t, rejected)
	assert.Equal(t, junk, []byte(saved.Payload))
	assert.Equal(t, recovery.PayloadUUID(junk, saved.Metadata.Get(metadatapkg.KeyCorrelationID)), saved.UUID)
	assert.Contains(t, saved.Metadata.Get(metadatapkg.KeyRecoveryReason), "wrapper has no source id")
}

func TestServiceClose(t *testing.T) {
	svc := newTestService(t, serviceConfig(t), ServiceDependencies{})

	done := make(chan error, 1)
	go func() { done <- svc.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("closing a service that never started blocked")
	}
}

func TestServiceCloseAfterRun(t *testing.T) {
	svc := newTestService(t, serviceConfig(t), ServiceDependencies{})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- svc.Start(ctx) }()
	select {
	case <-svc.router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.NoError(t, svc.Close())
}

func TestServiceTransportName(t *testing.T) {
	svc := &Service{Conf: &configpkg.Config{PubSubSystem: "Kafka"}}
	assert.Equal(t, "kafka", svc.transportName())

	svc.delivery = brokers.NATSDelivery
	assert.Equal(t, "nats", svc.transportName())
}
