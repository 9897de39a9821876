// Package cmd provides the factories the orgflow command uses to assemble its infrastructure.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/orgflow/pkg/channels/gochannel"
	"github.com/dukex/orgflow/pkg/channels/kafka"
	"github.com/dukex/orgflow/pkg/config"
	"github.com/dukex/orgflow/pkg/eventbus"
)

const serviceName = "orgflow"

// NewEventBus creates the event bus for provider.
func NewEventBus(provider string, brokers []string, logger *slog.Logger) (eventbus.EventBus, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case config.EventBusGoChannel, "":
		pub, sub := gochannel.CreateChannel(watermillLogger)

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case config.EventBusKafka:
		pub, sub, err := kafka.CreateChannel(watermillLogger, brokers, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
