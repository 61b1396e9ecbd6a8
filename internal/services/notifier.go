package services

import (
	"context"
	"encoding/json"

	"foodorder/internal/models"

	"github.com/rs/zerolog/log"
)

// EventPublisher is the transport behind the notification dispatcher.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Notifier informs the notification dispatcher of status transitions.
// It never reports failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, event models.StatusEvent)
}

// EventNotifier publishes status events with routing key "order.<status>".
type EventNotifier struct {
	publisher EventPublisher
}

// NewEventNotifier creates a new EventNotifier. A nil publisher disables publication.
func NewEventNotifier(publisher EventPublisher) *EventNotifier {
	return &EventNotifier{publisher: publisher}
}

func (n *EventNotifier) Notify(ctx context.Context, event models.StatusEvent) {
	if n.publisher == nil {
		log.Debug().Str("order_id", event.OrderID).Msg("event publisher is not initialized, skipping status event")
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("order_id", event.OrderID).Msg("failed to marshal status event")
		return
	}

	routingKey := "order." + string(event.Status)
	if err := n.publisher.Publish(context.WithoutCancel(ctx), routingKey, body); err != nil {
		log.Warn().Err(err).
			Str("order_id", event.OrderID).
			Str("routing_key", routingKey).
			Msg("failed to publish status event")
		return
	}
	log.Debug().Str("order_id", event.OrderID).Str("routing_key", routingKey).Msg("published status event")
}

// NoopNotifier drops every event.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, models.StatusEvent) {}
