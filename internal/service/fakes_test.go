package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ivallejo/coffee-sub000/internal/models"
	"github.com/ivallejo/coffee-sub000/internal/store"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr[T any](v T) *T { return &v }

// fakeStore implements the store slices the services depend on, backed by
// in-memory maps. Mutations are guarded so the allocator concurrency test
// can hammer it from multiple goroutines.
type fakeStore struct {
	mu sync.Mutex

	series    map[string]*models.DocumentSeries // by document type, active only
	products  map[int64]*models.Product
	edges     map[int64][]models.RecipeEdge
	movements []models.InventoryMovement

	shifts      map[int64]*models.Shift
	nextShiftID int64

	orders      map[int64]*models.Order
	orderItems  map[int64][]models.OrderLineItem
	nextOrderID int64

	rules        []models.LoyaltyRule
	grants       []models.RewardGrant
	monthlySpend map[int64]decimal.Decimal
	loyalty      map[int64]*models.CustomerLoyaltyState

	failApplyConsumption bool
	failLoyaltyRules     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		series:       make(map[string]*models.DocumentSeries),
		products:     make(map[int64]*models.Product),
		edges:        make(map[int64][]models.RecipeEdge),
		shifts:       make(map[int64]*models.Shift),
		orders:       make(map[int64]*models.Order),
		orderItems:   make(map[int64][]models.OrderLineItem),
		monthlySpend: make(map[int64]decimal.Decimal),
		loyalty:      make(map[int64]*models.CustomerLoyaltyState),
	}
}

func (f *fakeStore) addSimpleProduct(id int64, stock, price string) {
	f.products[id] = &models.Product{
		ID:        id,
		Type:      models.ProductTypeSimple,
		Stock:     dec(stock),
		BasePrice: dec(price),
	}
}

func (f *fakeStore) addCompositeProduct(id int64, price string, edges ...models.RecipeEdge) {
	f.products[id] = &models.Product{
		ID:        id,
		Type:      models.ProductTypeComposite,
		BasePrice: dec(price),
	}
	f.edges[id] = edges
}

// SeriesStore

func (f *fakeStore) AllocateDocumentNumber(ctx context.Context, documentType string) (*store.AllocatedNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.series[documentType]
	if !ok || !s.IsActive {
		return nil, fmt.Errorf("%w: %s", models.ErrNoActiveSeries, documentType)
	}
	s.CurrentNumber++
	return &store.AllocatedNumber{SeriesCode: s.SeriesCode, Number: s.CurrentNumber}, nil
}

func (f *fakeStore) GetSeries(ctx context.Context) ([]models.DocumentSeries, error) {
	var out []models.DocumentSeries
	for _, s := range f.series {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeStore) CreateSeries(ctx context.Context, series *models.DocumentSeries) error {
	f.series[series.DocumentType] = series
	return nil
}

func (f *fakeStore) ActivateSeries(ctx context.Context, seriesID int64) (*models.DocumentSeries, error) {
	for _, s := range f.series {
		if s.ID == seriesID {
			s.IsActive = true
			return s, nil
		}
	}
	return nil, fmt.Errorf("document series not found: %d", seriesID)
}

// InventoryStore

func (f *fakeStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetProducts(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	for _, p := range f.products {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) GetLowStockProducts(ctx context.Context, threshold decimal.Decimal) ([]models.Product, error) {
	var out []models.Product
	for _, p := range f.products {
		if p.Type == models.ProductTypeSimple && p.Stock.LessThanOrEqual(threshold) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetRecipeEdges(ctx context.Context, parentIDs []int64) ([]models.RecipeEdge, error) {
	var out []models.RecipeEdge
	for _, id := range parentIDs {
		out = append(out, f.edges[id]...)
	}
	return out, nil
}

func (f *fakeStore) HasSaleMovements(ctx context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.movements {
		if m.ReferenceOrderID != nil && *m.ReferenceOrderID == orderID && m.Reason == models.MovementReasonSale {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ApplyConsumption(ctx context.Context, orderID int64, actor string, deductions []store.StockDeduction) ([]store.StockDeduction, error) {
	if f.failApplyConsumption {
		return nil, fmt.Errorf("database unavailable")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	applied := make([]store.StockDeduction, 0, len(deductions))
	for _, d := range deductions {
		p := f.products[d.ProductID]
		p.Stock = p.Stock.Sub(d.Quantity)
		d.NewStock = p.Stock
		f.movements = append(f.movements, models.InventoryMovement{
			ProductID:        d.ProductID,
			Type:             models.MovementOut,
			Quantity:         d.Quantity,
			Reason:           models.MovementReasonSale,
			ReferenceOrderID: ptr(orderID),
			Actor:            actor,
			CreatedAt:        time.Now(),
		})
		applied = append(applied, d)
	}
	return applied, nil
}

func (f *fakeStore) AddMovement(ctx context.Context, m *models.InventoryMovement) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.products[m.ProductID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %d", models.ErrProductNotFound, m.ProductID)
	}

	delta := m.Quantity
	if m.Type == models.MovementOut {
		delta = delta.Neg()
	}
	p.Stock = p.Stock.Add(delta)

	m.ID = int64(len(f.movements) + 1)
	m.CreatedAt = time.Now()
	f.movements = append(f.movements, *m)
	return p.Stock, nil
}

func (f *fakeStore) GetMovementsByProduct(ctx context.Context, productID int64, limit int) ([]models.InventoryMovement, error) {
	var out []models.InventoryMovement
	for _, m := range f.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

// ShiftStore

func (f *fakeStore) OpenShift(ctx context.Context, cashierID int64, startCash decimal.Decimal) (*models.Shift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.shifts {
		if s.CashierID == cashierID && s.EndTime == nil {
			return nil, fmt.Errorf("%w: cashier %d", models.ErrShiftAlreadyOpen, cashierID)
		}
	}

	f.nextShiftID++
	shift := &models.Shift{
		ID:        f.nextShiftID,
		CashierID: cashierID,
		StartTime: time.Now(),
		StartCash: startCash,
	}
	f.shifts[shift.ID] = shift
	return shift, nil
}

func (f *fakeStore) GetOpenShiftByCashier(ctx context.Context, cashierID int64) (*models.Shift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.shifts {
		if s.CashierID == cashierID && s.EndTime == nil {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetShiftByID(ctx context.Context, id int64) (*models.Shift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shifts[id]
	if !ok {
		return nil, fmt.Errorf("shift not found: %d", id)
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) CloseShift(ctx context.Context, shiftID int64, countedCash, expectedCash decimal.Decimal) (*models.Shift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.shifts[shiftID]
	if !ok || s.EndTime != nil {
		return nil, fmt.Errorf("%w: %d", models.ErrShiftNotOpen, shiftID)
	}
	now := time.Now()
	s.EndTime = &now
	s.EndCash = &countedCash
	s.ExpectedCash = &expectedCash
	copied := *s
	return &copied, nil
}

func (f *fakeStore) GetShiftTotals(ctx context.Context, shiftID int64) ([]models.ShiftTotal, error) {
	buckets := make(map[string]*models.ShiftTotal)
	for _, o := range f.orders {
		if o.ShiftID != shiftID || o.Status != models.OrderStatusCompleted {
			continue
		}
		b, ok := buckets[o.PaymentMethod]
		if !ok {
			b = &models.ShiftTotal{PaymentMethod: o.PaymentMethod}
			buckets[o.PaymentMethod] = b
		}
		b.OrderCount++
		b.Amount = b.Amount.Add(o.Total)
	}
	var out []models.ShiftTotal
	for _, b := range buckets {
		out = append(out, *b)
	}
	return out, nil
}

func (f *fakeStore) GetShiftCashTotal(ctx context.Context, shiftID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, o := range f.orders {
		if o.ShiftID == shiftID && o.Status == models.OrderStatusCompleted && o.PaymentMethod == models.PaymentMethodCash {
			total = total.Add(o.Total)
		}
	}
	return total, nil
}

func (f *fakeStore) AddShiftNote(ctx context.Context, shiftID int64, note string) error {
	s, ok := f.shifts[shiftID]
	if !ok || s.EndTime == nil {
		return fmt.Errorf("shift not found or still open: %d", shiftID)
	}
	s.Notes = &note
	return nil
}

// OrderStore

func (f *fakeStore) UpsertOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderLineItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if order.ID != 0 {
		existing, ok := f.orders[order.ID]
		if !ok || existing.Status != models.OrderStatusPending {
			order.ID = 0
		}
	}
	if order.ID == 0 {
		f.nextOrderID++
		order.ID = f.nextOrderID
		order.CreatedAt = time.Now()
	}
	order.UpdatedAt = time.Now()

	copied := *order
	f.orders[order.ID] = &copied
	stored := make([]models.OrderLineItem, len(items))
	copy(stored, items)
	for i := range stored {
		stored[i].OrderID = order.ID
		stored[i].ID = int64(i + 1)
	}
	f.orderItems[order.ID] = stored
	return nil
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, id)
	}
	copied := *o
	return &copied, nil
}

func (f *fakeStore) GetLineItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderLineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orderItems[orderID], nil
}

func (f *fakeStore) VoidOrder(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %d", models.ErrOrderNotFound, orderID)
	}
	if o.Status != models.OrderStatusPending {
		return fmt.Errorf("%w: %d", models.ErrOrderNotPending, orderID)
	}
	o.Status = models.OrderStatusVoided
	return nil
}

// LoyaltyStore

func (f *fakeStore) GetActiveLoyaltyRules(ctx context.Context) ([]models.LoyaltyRule, error) {
	if f.failLoyaltyRules {
		return nil, fmt.Errorf("database unavailable")
	}
	var out []models.LoyaltyRule
	for _, r := range f.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetMonthlySpend(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	return f.monthlySpend[customerID], nil
}

func (f *fakeStore) InsertRewardGrant(ctx context.Context, grant *models.RewardGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	grant.ID = int64(len(f.grants) + 1)
	grant.CreatedAt = time.Now()
	f.grants = append(f.grants, *grant)
	return nil
}

func (f *fakeStore) AccrueLoyalty(ctx context.Context, customerID, points int64, spend decimal.Decimal) (*models.CustomerLoyaltyState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, ok := f.loyalty[customerID]
	if !ok {
		state = &models.CustomerLoyaltyState{CustomerID: customerID, LifetimeSpend: decimal.Zero}
		f.loyalty[customerID] = state
	}
	state.PointsBalance += points
	state.LifetimeSpend = state.LifetimeSpend.Add(spend)
	state.UpdatedAt = time.Now()
	copied := *state
	return &copied, nil
}

func (f *fakeStore) GetLoyaltyState(ctx context.Context, customerID int64) (*models.CustomerLoyaltyState, error) {
	if state, ok := f.loyalty[customerID]; ok {
		copied := *state
		return &copied, nil
	}
	return &models.CustomerLoyaltyState{CustomerID: customerID, LifetimeSpend: decimal.Zero}, nil
}
