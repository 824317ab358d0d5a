// Package transport resolves the configured broker for a Service.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/decodeflow/internal/runtime/config"
	brokers "github.com/drblury/decodeflow/transport"

	_ "github.com/drblury/decodeflow/transport/transports"
)

// Transport is the broker connection plus its delivery semantics.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Delivery   brokers.Delivery
}

// Factory abstracts how a Service obtains its broker connection.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory builds transports from the default broker registry. An empty
// PubSubSystem selects the in-memory channel transport.
func DefaultFactory() Factory {
	return registryFactory{registry: brokers.DefaultRegistry}
}

// RegistryFactory builds transports from reg.
func RegistryFactory(reg *brokers.Registry) Factory {
	return registryFactory{registry: reg}
}

type registryFactory struct {
	registry *brokers.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	selected := *conf
	selected.PubSubSystem = strings.ToLower(conf.PubSubSystem)
	if selected.PubSubSystem == "" {
		selected.PubSubSystem = "channel"
	}

	t, err := f.registry.Build(ctx, &selected, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:  t.Publisher,
		Subscriber: t.Subscriber,
		Delivery:   f.registry.Delivery(selected.PubSubSystem),
	}, nil
}
