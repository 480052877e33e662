package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ivallejo/coffee-sub000/internal/models"
	"github.com/ivallejo/coffee-sub000/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderStore is the slice of the store the orchestrator needs.
type OrderStore interface {
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	UpsertOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderLineItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetLineItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderLineItem, error)
	VoidOrder(ctx context.Context, orderID int64) error
}

// FinalizeLocker guards against double-submitted finalize calls from a
// terminal. Lock failure degrades to running without the guard.
type FinalizeLocker interface {
	AcquireFinalizeLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseFinalizeLock(ctx context.Context, key string) error
}

// OrderEventPublisher publishes the completed order for the receipt
// collaborator and the reconciliation worker.
type OrderEventPublisher interface {
	PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error
}

// Checkout sequences document allocation, order persistence, inventory
// consumption, loyalty evaluation and shift bookkeeping for one sale.
type Checkout struct {
	orders      OrderStore
	allocator   *DocumentAllocator
	consumption *ConsumptionEngine
	loyalty     *LoyaltyEngine
	shifts      *ShiftLedger
	locker      FinalizeLocker
	publisher   OrderEventPublisher
	logger      *zap.Logger
	taxRate     decimal.Decimal
}

// NewCheckout creates a new checkout orchestrator
func NewCheckout(
	orders OrderStore,
	allocator *DocumentAllocator,
	consumption *ConsumptionEngine,
	loyalty *LoyaltyEngine,
	shifts *ShiftLedger,
	locker FinalizeLocker,
	publisher OrderEventPublisher,
	taxRate decimal.Decimal,
) *Checkout {
	return &Checkout{
		orders:      orders,
		allocator:   allocator,
		consumption: consumption,
		loyalty:     loyalty,
		shifts:      shifts,
		locker:      locker,
		publisher:   publisher,
		logger:      util.GetLogger(),
		taxRate:     taxRate,
	}
}

// CartItem is one line of the cart being finalized.
type CartItem struct {
	ProductID int64           `json:"product_id" binding:"required"`
	VariantID *int64          `json:"variant_id,omitempty"`
	Quantity  decimal.Decimal `json:"quantity" binding:"required"`
	Modifiers *string         `json:"modifiers,omitempty"`
	Notes     *string         `json:"notes,omitempty"`
}

// FinalizeRequest is the inbound contract for committing a sale. The acting
// cashier is always an explicit parameter, never ambient state.
type FinalizeRequest struct {
	CashierID       int64      `json:"cashier_id" binding:"required"`
	CustomerID      *int64     `json:"customer_id,omitempty"`
	ExistingOrderID *int64     `json:"existing_order_id,omitempty"`
	DocumentType    string     `json:"document_type" binding:"required"`
	Items           []CartItem `json:"items" binding:"required,min=1"`
	PaymentMethod   string     `json:"payment_method" binding:"required"`
	PaymentMetadata *string    `json:"payment_metadata,omitempty"`
	AmountTendered  decimal.Decimal `json:"amount_tendered"`
	TableReference  *string    `json:"table_reference,omitempty"`
	IdempotencyKey  string     `json:"idempotency_key,omitempty"`
}

// Degraded step names reported on a committed sale.
const (
	StepInventory = "inventory"
	StepLoyalty   = "loyalty"
)

// DegradedStep records a post-commit step that failed. The sale stands; the
// operator reconciles the step.
type DegradedStep struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

// FinalizeResult is the two-phase outcome of a finalize call: a committed
// order plus any degraded post-commit steps.
type FinalizeResult struct {
	Order       *models.Order          `json:"order"`
	Items       []models.OrderLineItem `json:"items"`
	Consumption *ConsumptionResult     `json:"consumption,omitempty"`
	Loyalty     *EvaluationResult      `json:"loyalty,omitempty"`
	Warnings    []DegradedStep         `json:"warnings,omitempty"`
}

// Finalize commits a sale. The sequence is fixed: open-shift check, document
// allocation, order upsert, then consumption and loyalty. The first two
// failures abort with nothing persisted beyond the allocated number (gaps in
// numbering are acceptable). Once the order row commits, the sale is final:
// consumption and loyalty failures become warnings, never rollbacks.
func (c *Checkout) Finalize(ctx context.Context, req *FinalizeRequest) (*FinalizeResult, error) {
	ctx, span := util.StartSpan(ctx, "Checkout.Finalize")
	defer span.End()

	if req.IdempotencyKey != "" && c.locker != nil {
		acquired, err := c.locker.AcquireFinalizeLock(ctx, req.IdempotencyKey, 30*time.Second)
		if err != nil {
			c.logger.Warn("Finalize lock unavailable, proceeding without it", zap.Error(err))
		} else if !acquired {
			return nil, fmt.Errorf("finalize already in progress for key %s", req.IdempotencyKey)
		} else {
			defer func() {
				if err := c.locker.ReleaseFinalizeLock(ctx, req.IdempotencyKey); err != nil {
					c.logger.Warn("Failed to release finalize lock", zap.Error(err))
				}
			}()
		}
	}

	// Step 1: the acting cashier must have an open shift.
	shift, err := c.shifts.GetOpenShift(ctx, req.CashierID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open shift: %w", err)
	}
	if shift == nil {
		util.OrdersFailedTotal.WithLabelValues("no_open_shift").Inc()
		return nil, fmt.Errorf("%w: cashier %d", models.ErrNoOpenShift, req.CashierID)
	}

	// Step 2: allocate the document number. The allocation is committed even
	// if a later step fails.
	allocation, err := c.allocator.Allocate(ctx, req.DocumentType)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("no_active_series").Inc()
		return nil, err
	}

	items, totals, err := c.priceCart(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	changeDue := decimal.Zero
	if req.PaymentMethod == models.PaymentMethodCash && req.AmountTendered.GreaterThan(totals.total) {
		changeDue = req.AmountTendered.Sub(totals.total)
	}

	order := &models.Order{
		ShiftID:         shift.ID,
		CashierID:       req.CashierID,
		CustomerID:      req.CustomerID,
		Subtotal:        totals.subtotal,
		Tax:             totals.tax,
		Total:           totals.total,
		PaymentMethod:   req.PaymentMethod,
		PaymentMetadata: req.PaymentMetadata,
		AmountTendered:  req.AmountTendered,
		ChangeDue:       changeDue,
		Status:          models.OrderStatusCompleted,
		DocumentType:    req.DocumentType,
		DocumentSeries:  allocation.Series,
		DocumentNumber:  allocation.Number,
		TableReference:  req.TableReference,
	}
	if req.ExistingOrderID != nil {
		order.ID = *req.ExistingOrderID
	}

	// Step 3: the commit point. After this the sale is irreversible from the
	// cashier's perspective.
	if err := c.orders.UpsertOrderWithItems(ctx, order, items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	util.OrdersFinalizedTotal.Inc()
	c.logger.Info("Order committed",
		zap.Int64("order_id", order.ID),
		zap.String("document", order.DocumentReference()),
		zap.String("total", order.Total.String()))

	result := &FinalizeResult{Order: order, Items: items}

	// Step 4: inventory consumption, best-effort relative to the commit.
	consumption, err := c.consumption.Consume(ctx, order.ID, items)
	if err != nil {
		util.OrdersDegradedTotal.WithLabelValues(StepInventory).Inc()
		c.logger.Error("Inventory consumption degraded",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		result.Warnings = append(result.Warnings, DegradedStep{Step: StepInventory, Reason: err.Error()})
	} else {
		result.Consumption = consumption
	}

	// Step 5: loyalty evaluation, best-effort, skipped for anonymous sales.
	loyalty, err := c.loyalty.Evaluate(ctx, req.CustomerID, order.ID, order.Total)
	if err != nil {
		util.OrdersDegradedTotal.WithLabelValues(StepLoyalty).Inc()
		c.logger.Error("Loyalty evaluation degraded",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		result.Warnings = append(result.Warnings, DegradedStep{Step: StepLoyalty, Reason: err.Error()})
	} else {
		result.Loyalty = loyalty
	}

	c.shifts.RecordSale(ctx, shift.ID, order.PaymentMethod, order.Total)
	c.publishCompleted(ctx, order, items, result.Warnings)

	return result, nil
}

type cartTotals struct {
	subtotal decimal.Decimal
	tax      decimal.Decimal
	total    decimal.Decimal
}

// priceCart resolves products and freezes unit prices at time of sale.
// Line prices are tax-inclusive; a non-zero tax rate splits the tax out.
func (c *Checkout) priceCart(ctx context.Context, cart []CartItem) ([]models.OrderLineItem, cartTotals, error) {
	ids := make([]int64, 0, len(cart))
	for _, item := range cart {
		if !item.Quantity.IsPositive() {
			return nil, cartTotals{}, fmt.Errorf("quantity must be positive for product %d", item.ProductID)
		}
		ids = append(ids, item.ProductID)
	}

	products, err := c.orders.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, cartTotals{}, err
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	items := make([]models.OrderLineItem, 0, len(cart))
	total := decimal.Zero
	for _, item := range cart {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, cartTotals{}, fmt.Errorf("%w: %d", models.ErrProductNotFound, item.ProductID)
		}
		line := models.OrderLineItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: product.BasePrice,
			Modifiers: item.Modifiers,
			Notes:     item.Notes,
		}
		items = append(items, line)
		total = total.Add(line.LineTotal())
	}

	totals := cartTotals{total: total, subtotal: total, tax: decimal.Zero}
	if c.taxRate.IsPositive() {
		totals.subtotal = total.Div(decimal.NewFromInt(1).Add(c.taxRate)).Round(2)
		totals.tax = total.Sub(totals.subtotal)
	}
	return items, totals, nil
}

func (c *Checkout) publishCompleted(ctx context.Context, order *models.Order, items []models.OrderLineItem, warnings []DegradedStep) {
	if c.publisher == nil {
		return
	}

	eventItems := make([]models.LineItemData, 0, len(items))
	for i := range items {
		eventItems = append(eventItems, models.LineItemData{
			ProductID: items[i].ProductID,
			Quantity:  items[i].Quantity,
			UnitPrice: items[i].UnitPrice,
			Modifiers: items[i].Modifiers,
		})
	}
	degraded := make([]string, 0, len(warnings))
	for _, w := range warnings {
		degraded = append(degraded, w.Step)
	}

	event := &models.OrderCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCompleted,
			Timestamp: time.Now(),
		},
		OrderID:           order.ID,
		ShiftID:           order.ShiftID,
		CashierID:         order.CashierID,
		CustomerID:        order.CustomerID,
		DocumentReference: order.DocumentReference(),
		Subtotal:          order.Subtotal,
		Tax:               order.Tax,
		Total:             order.Total,
		PaymentMethod:     order.PaymentMethod,
		PaymentMetadata:   order.PaymentMetadata,
		ChangeDue:         order.ChangeDue,
		Items:             eventItems,
		Degraded:          degraded,
	}
	if err := c.publisher.PublishOrderCompleted(ctx, event); err != nil {
		c.logger.Error("Failed to publish OrderCompleted event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// TabRequest opens or rewrites a pending order (an open tab). Line items are
// fully replaced on every save; the document number is only allocated when
// the tab is finalized.
type TabRequest struct {
	CashierID      int64      `json:"cashier_id" binding:"required"`
	CustomerID     *int64     `json:"customer_id,omitempty"`
	OrderID        *int64     `json:"order_id,omitempty"`
	Items          []CartItem `json:"items" binding:"required,min=1"`
	TableReference *string    `json:"table_reference,omitempty"`
}

// SaveTab creates or rewrites a pending order.
func (c *Checkout) SaveTab(ctx context.Context, req *TabRequest) (*FinalizeResult, error) {
	ctx, span := util.StartSpan(ctx, "Checkout.SaveTab")
	defer span.End()

	shift, err := c.shifts.GetOpenShift(ctx, req.CashierID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open shift: %w", err)
	}
	if shift == nil {
		return nil, fmt.Errorf("%w: cashier %d", models.ErrNoOpenShift, req.CashierID)
	}

	items, totals, err := c.priceCart(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ShiftID:        shift.ID,
		CashierID:      req.CashierID,
		CustomerID:     req.CustomerID,
		Subtotal:       totals.subtotal,
		Tax:            totals.tax,
		Total:          totals.total,
		PaymentMethod:  "",
		AmountTendered: decimal.Zero,
		ChangeDue:      decimal.Zero,
		Status:         models.OrderStatusPending,
		DocumentType:   models.DocumentTypeTicket,
		TableReference: req.TableReference,
	}
	if req.OrderID != nil {
		order.ID = *req.OrderID
	}

	if err := c.orders.UpsertOrderWithItems(ctx, order, items); err != nil {
		return nil, fmt.Errorf("failed to save tab: %w", err)
	}

	c.logger.Info("Tab saved",
		zap.Int64("order_id", order.ID),
		zap.Int64("cashier_id", req.CashierID))
	return &FinalizeResult{Order: order, Items: items}, nil
}

// Void moves a pending order to voided. Completed orders are terminal and
// cannot be voided.
func (c *Checkout) Void(ctx context.Context, orderID int64) error {
	return c.orders.VoidOrder(ctx, orderID)
}

// GetOrder retrieves an order with its line items.
func (c *Checkout) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderLineItem, error) {
	order, err := c.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := c.orders.GetLineItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}
