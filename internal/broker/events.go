package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/ivallejo/coffee-sub000/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCompleted publishes an OrderCompleted event for the receipt
// collaborator and the reconciliation worker.
func (ep *EventPublisher) PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishShiftOpened publishes a ShiftOpened event
func (ep *EventPublisher) PublishShiftOpened(ctx context.Context, event *models.ShiftOpenedEvent) error {
	key := fmt.Sprintf("shift-%d", event.ShiftID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishShiftClosed publishes a ShiftClosed event
func (ep *EventPublisher) PublishShiftClosed(ctx context.Context, event *models.ShiftClosedEvent) error {
	key := fmt.Sprintf("shift-%d", event.ShiftID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishStockLow publishes a StockLow event for catalog views
func (ep *EventPublisher) PublishStockLow(ctx context.Context, event *models.StockLowEvent) error {
	key := fmt.Sprintf("product-%d", event.ProductID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishRewardGranted publishes a RewardGranted event for the customer UI
func (ep *EventPublisher) PublishRewardGranted(ctx context.Context, event *models.RewardGrantedEvent) error {
	key := fmt.Sprintf("customer-%d", event.CustomerID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming events to registered handlers
type EventHandler struct {
	onOrderCompleted func(context.Context, *models.OrderCompletedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOrderCompleted registers a handler for OrderCompleted events
func (eh *EventHandler) OnOrderCompleted(handler func(context.Context, *models.OrderCompletedEvent) error) {
	eh.onOrderCompleted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderCompleted:
		if eh.onOrderCompleted != nil {
			var event models.OrderCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderCompleted event: %w", err)
			}
			return eh.onOrderCompleted(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
