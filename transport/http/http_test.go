package http

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/decodeflow/internal/runtime/config"
	"github.com/drblury/decodeflow/transport"
)

type fakePublisher struct{ closed bool }

func (f *fakePublisher) Publish(string, ...*message.Message) error { return nil }
func (f *fakePublisher) Close() error                              { f.closed = true; return nil }

type fakeSubscriber struct{}

func (fakeSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (fakeSubscriber) Close() error { return nil }

func stubFactories(t *testing.T) {
	t.Helper()
	pub, sub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = pub
		SubscriberFactory = sub
	})
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()

	Register()

	assert.Equal(t, transport.HTTPDelivery, transport.DeliveryOf(TransportName))
}

func TestTopicURL(t *testing.T) {
	assert.Equal(t, "http://sink:8080/events", TopicURL("http://sink:8080/", "events"))
	assert.Equal(t, "http://sink:8080/events", TopicURL("http://sink:8080", "/events"))
}

func TestBuild(t *testing.T) {
	stubFactories(t)

	var marshal watermillhttp.MarshalMessageFunc
	pub := &fakePublisher{}
	PublisherFactory = func(cfg watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		marshal = cfg.MarshalMessageFunc
		return pub, nil
	}
	SubscriberFactory = func(addr string, cfg watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, ":9000", addr)
		assert.NotNil(t, cfg.UnmarshalMessageFunc)
		return fakeSubscriber{}, nil
	}

	tr, err := Build(context.Background(), &config.Config{
		HTTPServerAddress: ":9000",
		HTTPPublisherURL:  "http://sink:8080",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)

	req, err := marshal("events", message.NewMessage("m1", []byte(`{}`)))
	require.NoError(t, err)
	assert.Equal(t, "http://sink:8080/events", req.URL.String())
}

func TestBuildSubscriberErrorClosesPublisher(t *testing.T) {
	stubFactories(t)

	pub := &fakePublisher{}
	PublisherFactory = func(watermillhttp.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return pub, nil
	}
	SubscriberFactory = func(string, watermillhttp.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("address in use")
	}

	_, err := Build(context.Background(), &config.Config{}, watermill.NopLogger{})
	assert.EqualError(t, err, "address in use")
	assert.True(t, pub.closed)
}

func TestBuildPublisherError(t *testing.T) {
	stubFactories(t)
	PublisherFactory = func(watermillhttp.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, errors.New("publisher error")
	}

	_, err := Build(context.Background(), &config.Config{}, watermill.NopLogger{})
	assert.EqualError(t, err, "publisher error")
}
