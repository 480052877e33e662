package worker

import (
	"context"
	"errors"
	"log"

	"github.com/ivallejo/coffee-sub000/internal/broker"
	"github.com/ivallejo/coffee-sub000/internal/models"
	"github.com/ivallejo/coffee-sub000/internal/service"
)

// LineItemSource loads the persisted line items for a completed order.
type LineItemSource interface {
	GetLineItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderLineItem, error)
}

// ReconciliationWorker consumes OrderCompleted events and re-runs inventory
// consumption for each. Consumption is idempotent per order id, so orders
// whose consumption already applied are a no-op and orders degraded at
// checkout (or lost to a crash between commit and consumption) get their
// stock deductions applied here.
type ReconciliationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewReconciliationWorker creates a new reconciliation worker
func NewReconciliationWorker(
	consumer *broker.Consumer,
	engine *service.ConsumptionEngine,
	items LineItemSource,
) *ReconciliationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderCompleted(func(ctx context.Context, event *models.OrderCompletedEvent) error {
		lineItems, err := items.GetLineItemsByOrderID(ctx, event.OrderID)
		if err != nil {
			log.Printf("Failed to load line items for order %d: %v", event.OrderID, err)
			return err
		}

		if _, err := engine.Consume(ctx, event.OrderID, lineItems); err != nil {
			if errors.Is(err, models.ErrRecipeCycle) || errors.Is(err, models.ErrInsufficientStock) {
				// Not retryable; the operator reconciles these by hand.
				log.Printf("Consumption for order %d needs manual reconciliation: %v", event.OrderID, err)
				return nil
			}
			log.Printf("Reconciliation consumption failed for order %d: %v", event.OrderID, err)
			return err
		}
		return nil
	})

	return &ReconciliationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *ReconciliationWorker) Start(ctx context.Context) error {
	log.Println("Starting reconciliation worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ReconciliationWorker) Stop() error {
	log.Println("Stopping reconciliation worker...")
	return w.consumer.Close()
}
