package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ivallejo/coffee-sub000/internal/models"
	"github.com/ivallejo/coffee-sub000/internal/store"
	"github.com/ivallejo/coffee-sub000/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InventoryStore is the slice of the store the consumption engine needs.
type InventoryStore interface {
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	GetProducts(ctx context.Context) ([]models.Product, error)
	GetLowStockProducts(ctx context.Context, threshold decimal.Decimal) ([]models.Product, error)
	GetRecipeEdges(ctx context.Context, parentIDs []int64) ([]models.RecipeEdge, error)
	HasSaleMovements(ctx context.Context, orderID int64) (bool, error)
	ApplyConsumption(ctx context.Context, orderID int64, actor string, deductions []store.StockDeduction) ([]store.StockDeduction, error)
	AddMovement(ctx context.Context, m *models.InventoryMovement) (decimal.Decimal, error)
	GetMovementsByProduct(ctx context.Context, productID int64, limit int) ([]models.InventoryMovement, error)
}

// StockMirror is the Redis read-model side of the engine. Mirror updates are
// best-effort; the Postgres ledger stays authoritative.
type StockMirror interface {
	ApplyStockDelta(ctx context.Context, productID int64, delta decimal.Decimal) (decimal.Decimal, error)
	SetStock(ctx context.Context, productID int64, stock decimal.Decimal) error
}

// StockEventPublisher publishes low-stock signals for catalog views.
type StockEventPublisher interface {
	PublishStockLow(ctx context.Context, event *models.StockLowEvent) error
}

// ConsumptionEngine expands sold line items into raw-ingredient consumption
// and applies the stock deltas.
type ConsumptionEngine struct {
	store            InventoryStore
	mirror           StockMirror
	publisher        StockEventPublisher
	logger           *zap.Logger
	enforceStockGate bool
	lowStockLevel    decimal.Decimal
}

// NewConsumptionEngine creates a new consumption engine. With
// enforceStockGate false (the default policy) consumption is applied even
// when it drives stock negative; negative stock is a catalog signal, not a
// sale blocker.
func NewConsumptionEngine(store InventoryStore, mirror StockMirror, publisher StockEventPublisher, enforceStockGate bool, lowStockLevel decimal.Decimal) *ConsumptionEngine {
	return &ConsumptionEngine{
		store:            store,
		mirror:           mirror,
		publisher:        publisher,
		logger:           util.GetLogger(),
		enforceStockGate: enforceStockGate,
		lowStockLevel:    lowStockLevel,
	}
}

// Deduction is one applied stock decrement.
type Deduction struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	NewStock  decimal.Decimal `json:"new_stock"`
}

// ConsumptionResult reports what a Consume call did.
type ConsumptionResult struct {
	OrderID        int64       `json:"order_id"`
	AlreadyApplied bool        `json:"already_applied"`
	Deductions     []Deduction `json:"deductions"`
}

// Consume expands the line items into simple-product consumption and applies
// it as OUT movements plus cached-stock decrements, one movement per
// aggregated ingredient. Re-running for an order id that already has sale
// movements is a no-op. A recipe cycle aborts before any mutation.
func (e *ConsumptionEngine) Consume(ctx context.Context, orderID int64, items []models.OrderLineItem) (*ConsumptionResult, error) {
	ctx, span := util.StartSpan(ctx, "ConsumptionEngine.Consume")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ConsumptionLatency.Observe(time.Since(start).Seconds())
	}()

	applied, err := e.store.HasSaleMovements(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check prior movements: %w", err)
	}
	if applied {
		util.ConsumptionSkippedTotal.Inc()
		e.logger.Info("Consumption already applied, skipping", zap.Int64("order_id", orderID))
		return &ConsumptionResult{OrderID: orderID, AlreadyApplied: true}, nil
	}

	consumption, err := e.expand(ctx, items)
	if err != nil {
		return nil, err
	}

	// Deterministic order keeps movement rows and tests stable.
	ids := make([]int64, 0, len(consumption))
	for id := range consumption {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	deductions := make([]store.StockDeduction, 0, len(ids))
	for _, id := range ids {
		deductions = append(deductions, store.StockDeduction{ProductID: id, Quantity: consumption[id]})
	}

	if e.enforceStockGate {
		if err := e.checkStock(ctx, deductions); err != nil {
			return nil, err
		}
	}

	actor := fmt.Sprintf("order-%d", orderID)
	appliedDeductions, err := e.store.ApplyConsumption(ctx, orderID, actor, deductions)
	if err != nil {
		return nil, fmt.Errorf("failed to apply consumption: %w", err)
	}
	if appliedDeductions == nil {
		// A concurrent run got there first.
		util.ConsumptionSkippedTotal.Inc()
		return &ConsumptionResult{OrderID: orderID, AlreadyApplied: true}, nil
	}

	result := &ConsumptionResult{OrderID: orderID, Deductions: make([]Deduction, 0, len(appliedDeductions))}
	for _, d := range appliedDeductions {
		util.MovementsRecordedTotal.WithLabelValues(models.MovementOut, models.MovementReasonSale).Inc()
		result.Deductions = append(result.Deductions, Deduction{
			ProductID: d.ProductID,
			Quantity:  d.Quantity,
			NewStock:  d.NewStock,
		})
		e.mirrorDelta(ctx, d.ProductID, d.Quantity.Neg(), d.NewStock)
	}

	e.logger.Info("Consumption applied",
		zap.Int64("order_id", orderID),
		zap.Int("ingredients", len(result.Deductions)))
	return result, nil
}

// expand resolves line items to aggregated simple-product quantities,
// multiplying recipe quantities along each path. The walk carries an on-path
// visited set: a product reachable from itself fails with ErrRecipeCycle
// before any stock is touched.
func (e *ConsumptionEngine) expand(ctx context.Context, items []models.OrderLineItem) (map[int64]decimal.Decimal, error) {
	products := make(map[int64]*models.Product)
	edges := make(map[int64][]models.RecipeEdge)
	acc := make(map[int64]decimal.Decimal)

	for i := range items {
		path := make(map[int64]bool)
		if err := e.expandProduct(ctx, items[i].ProductID, items[i].Quantity, path, products, edges, acc); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (e *ConsumptionEngine) expandProduct(
	ctx context.Context,
	productID int64,
	quantity decimal.Decimal,
	path map[int64]bool,
	products map[int64]*models.Product,
	edges map[int64][]models.RecipeEdge,
	acc map[int64]decimal.Decimal,
) error {
	if path[productID] {
		return fmt.Errorf("%w: product %d includes itself", models.ErrRecipeCycle, productID)
	}

	product, err := e.getProduct(ctx, productID, products)
	if err != nil {
		return err
	}

	if product.Type == models.ProductTypeSimple {
		acc[productID] = acc[productID].Add(quantity)
		return nil
	}

	productEdges, err := e.getEdges(ctx, productID, edges)
	if err != nil {
		return err
	}

	path[productID] = true
	defer delete(path, productID)

	for _, edge := range productEdges {
		childQty := quantity.Mul(edge.QuantityPerUnit)
		if err := e.expandProduct(ctx, edge.IngredientProductID, childQty, path, products, edges, acc); err != nil {
			return err
		}
	}
	return nil
}

func (e *ConsumptionEngine) getProduct(ctx context.Context, id int64, cache map[int64]*models.Product) (*models.Product, error) {
	if p, ok := cache[id]; ok {
		return p, nil
	}
	fetched, err := e.store.GetProductsByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	cache[id] = &fetched[0]
	return cache[id], nil
}

func (e *ConsumptionEngine) getEdges(ctx context.Context, parentID int64, cache map[int64][]models.RecipeEdge) ([]models.RecipeEdge, error) {
	if edges, ok := cache[parentID]; ok {
		return edges, nil
	}
	fetched, err := e.store.GetRecipeEdges(ctx, []int64{parentID})
	if err != nil {
		return nil, err
	}
	cache[parentID] = fetched
	return fetched, nil
}

// checkStock is the optional pre-check gate. It reads fresh stock from the
// authoritative store; a sale that would drive any ingredient negative fails
// before any movement is written.
func (e *ConsumptionEngine) checkStock(ctx context.Context, deductions []store.StockDeduction) error {
	ids := make([]int64, 0, len(deductions))
	for _, d := range deductions {
		ids = append(ids, d.ProductID)
	}

	products, err := e.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return err
	}

	stock := make(map[int64]decimal.Decimal, len(products))
	for i := range products {
		stock[products[i].ID] = products[i].Stock
	}

	for _, d := range deductions {
		if stock[d.ProductID].LessThan(d.Quantity) {
			return fmt.Errorf("%w: product %d has %s, need %s",
				models.ErrInsufficientStock, d.ProductID, stock[d.ProductID], d.Quantity)
		}
	}
	return nil
}

// AddManualMovement records a non-recipe-driven adjustment from the
// inventory screens and updates cached stock directly.
func (e *ConsumptionEngine) AddManualMovement(ctx context.Context, productID int64, movementType string, quantity decimal.Decimal, reason, notes, actor string) (*models.InventoryMovement, error) {
	ctx, span := util.StartSpan(ctx, "ConsumptionEngine.AddManualMovement")
	defer span.End()

	if movementType != models.MovementIn && movementType != models.MovementOut {
		return nil, fmt.Errorf("unknown movement type: %s", movementType)
	}
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("quantity must be positive")
	}

	movement := &models.InventoryMovement{
		ProductID: productID,
		Type:      movementType,
		Quantity:  quantity,
		Reason:    reason,
		Actor:     actor,
	}
	if notes != "" {
		movement.Notes = &notes
	}

	newStock, err := e.store.AddMovement(ctx, movement)
	if err != nil {
		return nil, err
	}

	util.MovementsRecordedTotal.WithLabelValues(movementType, reason).Inc()

	delta := quantity
	if movementType == models.MovementOut {
		delta = delta.Neg()
	}
	e.mirrorDelta(ctx, productID, delta, newStock)

	e.logger.Info("Manual movement recorded",
		zap.Int64("product_id", productID),
		zap.String("type", movementType),
		zap.String("reason", reason))
	return movement, nil
}

// mirrorDelta pushes the delta to the Redis mirror and emits a low-stock
// signal off the authoritative value. Mirror failure is logged, never fatal.
func (e *ConsumptionEngine) mirrorDelta(ctx context.Context, productID int64, delta, authoritative decimal.Decimal) {
	if e.mirror != nil {
		if _, err := e.mirror.ApplyStockDelta(ctx, productID, delta); err != nil {
			e.logger.Warn("Failed to update stock mirror",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
	}

	if e.publisher != nil && authoritative.LessThanOrEqual(e.lowStockLevel) {
		event := &models.StockLowEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeStockLow,
				Timestamp: time.Now(),
			},
			ProductID: productID,
			Stock:     authoritative,
		}
		if err := e.publisher.PublishStockLow(ctx, event); err != nil {
			e.logger.Warn("Failed to publish StockLow event", zap.Error(err))
		}
	}
}

// GetMovements returns movement history for a product, newest first.
func (e *ConsumptionEngine) GetMovements(ctx context.Context, productID int64, limit int) ([]models.InventoryMovement, error) {
	return e.store.GetMovementsByProduct(ctx, productID, limit)
}

// GetLowStock returns simple products at or below the threshold.
func (e *ConsumptionEngine) GetLowStock(ctx context.Context, threshold decimal.Decimal) ([]models.Product, error) {
	return e.store.GetLowStockProducts(ctx, threshold)
}

// SyncStockMirror seeds the Redis mirror from the authoritative store.
func (e *ConsumptionEngine) SyncStockMirror(ctx context.Context) error {
	if e.mirror == nil {
		return nil
	}

	products, err := e.store.GetProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get products: %w", err)
	}

	for i := range products {
		if products[i].Type != models.ProductTypeSimple {
			continue
		}
		if err := e.mirror.SetStock(ctx, products[i].ID, products[i].Stock); err != nil {
			e.logger.Error("Failed to seed stock mirror",
				zap.Int64("product_id", products[i].ID),
				zap.Error(err))
		}
	}

	e.logger.Info("Stock mirror synced", zap.Int("count", len(products)))
	return nil
}
