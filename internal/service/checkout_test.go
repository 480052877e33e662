package service

import (
	"context"
	"testing"

	"github.com/ivallejo/coffee-sub000/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckoutFixture(t *testing.T, fs *fakeStore, taxRate decimal.Decimal) *Checkout {
	t.Helper()
	allocator := NewDocumentAllocator(fs)
	consumption := NewConsumptionEngine(fs, nil, nil, false, dec("5"))
	loyalty := NewLoyaltyEngine(fs, nil, dec("1"))
	shifts := NewShiftLedger(fs, nil)
	return NewCheckout(fs, allocator, consumption, loyalty, shifts, nil, nil, taxRate)
}

func activeTicketSeries(f *fakeStore, code string, current int64) {
	f.series[models.DocumentTypeTicket] = &models.DocumentSeries{
		ID:            1,
		DocumentType:  models.DocumentTypeTicket,
		SeriesCode:    code,
		CurrentNumber: current,
		IsActive:      true,
	}
}

func TestFinalizeHappyPath(t *testing.T) {
	fs := newFakeStore()
	activeTicketSeries(fs, "T001", 41)
	fs.addSimpleProduct(1, "100", "3.50")
	fs.addSimpleProduct(2, "100", "2.25")

	checkout := newCheckoutFixture(t, fs, decimal.Zero)
	ledger := NewShiftLedger(fs, nil)
	shift, err := ledger.Open(context.Background(), 7, dec("100"))
	require.NoError(t, err)

	result, err := checkout.Finalize(context.Background(), &FinalizeRequest{
		CashierID:      7,
		DocumentType:   models.DocumentTypeTicket,
		PaymentMethod:  models.PaymentMethodCash,
		AmountTendered: dec("10.00"),
		Items: []CartItem{
			{ProductID: 1, Quantity: dec("2")},
			{ProductID: 2, Quantity: dec("1")},
		},
	})
	require.NoError(t, err)
	require.Empty(t, result.Warnings)

	order := result.Order
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, shift.ID, order.ShiftID)
	assert.Equal(t, "T001-00000042", order.DocumentReference())
	assert.True(t, order.Total.Equal(dec("9.25")), "total %s", order.Total)
	assert.True(t, order.ChangeDue.Equal(dec("0.75")), "change %s", order.ChangeDue)

	// Unit prices are frozen on the line items.
	require.Len(t, result.Items, 2)
	assert.True(t, result.Items[0].UnitPrice.Equal(dec("3.50")))

	// Inventory was consumed in the same call.
	require.NotNil(t, result.Consumption)
	assert.True(t, fs.products[1].Stock.Equal(dec("98")))
	assert.True(t, fs.products[2].Stock.Equal(dec("99")))
}

func TestFinalizeSplitsTaxFromInclusivePrices(t *testing.T) {
	fs := newFakeStore()
	activeTicketSeries(fs, "T001", 0)
	fs.addSimpleProduct(1, "100", "11.80")

	checkout := newCheckoutFixture(t, fs, dec("0.18"))
	_, err := NewShiftLedger(fs, nil).Open(context.Background(), 7, dec("0"))
	require.NoError(t, err)

	result, err := checkout.Finalize(context.Background(), &FinalizeRequest{
		CashierID:     7,
		DocumentType:  models.DocumentTypeTicket,
		PaymentMethod: models.PaymentMethodCard,
		Items:         []CartItem{{ProductID: 1, Quantity: dec("1")}},
	})
	require.NoError(t, err)

	assert.True(t, result.Order.Total.Equal(dec("11.80")))
	assert.True(t, result.Order.Subtotal.Equal(dec("10.00")), "subtotal %s", result.Order.Subtotal)
	assert.True(t, result.Order.Tax.Equal(dec("1.80")), "tax %s", result.Order.Tax)
}

func TestFinalizeRequiresOpenShift(t *testing.T) {
	fs := newFakeStore()
	activeTicketSeries(fs, "T001", 0)
	fs.addSimpleProduct(1, "10", "3.50")

	checkout := newCheckoutFixture(t, fs, decimal.Zero)

	_, err := checkout.Finalize(context.Background(), &FinalizeRequest{
		CashierID:     7,
		DocumentType:  models.DocumentTypeTicket,
		PaymentMethod: models.PaymentMethodCash,
		Items:         []CartItem{{ProductID: 1, Quantity: dec("1")}},
	})
	assert.ErrorIs(t, err, models.ErrNoOpenShift)
	assert.Empty(t, fs.orders)
}

func TestFinalizeRequiresActiveSeries(t *testing.T) {
	fs := newFakeStore()
	fs.addSimpleProduct(1, "10", "3.50")

	checkout := newCheckoutFixture(t, fs, decimal.Zero)
	_, err := NewShiftLedger(fs, nil).Open(context.Background(), 7, dec("0"))
	require.NoError(t, err)

	_, err = checkout.Finalize(context.Background(), &FinalizeRequest{
		CashierID:     7,
		DocumentType:  models.DocumentTypeTicket,
		PaymentMethod: models.PaymentMethodCash,
		Items:         []CartItem{{ProductID: 1, Quantity: dec("1")}},
	})
	assert.ErrorIs(t, err, models.ErrNoActiveSeries)
	assert.Empty(t, fs.orders)
}

// A consumption failure after the order row commits is a warning on the
// result, never an error, and the order stays completed.
func TestFinalizeDegradedInventoryStillCommits(t *testing.T) {
	fs := newFakeStore()
	activeTicketSeries(fs, "T001", 0)
	fs.addSimpleProduct(1, "10", "3.50")
	fs.failApplyConsumption = true

	checkout := newCheckoutFixture(t, fs, decimal.Zero)
	_, err := NewShiftLedger(fs, nil).Open(context.Background(), 7, dec("0"))
	require.NoError(t, err)

	result, err := checkout.Finalize(context.Background(), &FinalizeRequest{
		CashierID:     7,
		DocumentType:  models.DocumentTypeTicket,
		PaymentMethod: models.PaymentMethodCash,
		Items:         []CartItem{{ProductID: 1, Quantity: dec("1")}},
	})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, StepInventory, result.Warnings[0].Step)
	assert.Nil(t, result.Consumption)

	stored, err := fs.GetOrderByID(context.Background(), result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, stored.Status)
	// Stock untouched by the failed step.
	assert.True(t, fs.products[1].Stock.Equal(dec("10")))
}

func TestFinalizeDegradedLoyaltyStillCommits(t *testing.T) {
	fs := newFakeStore()
	activeTicketSeries(fs, "T001", 0)
	fs.addSimpleProduct(1, "10", "3.50")
	fs.failLoyaltyRules = true

	checkout := newCheckoutFixture(t, fs, decimal.Zero)
	_, err := NewShiftLedger(fs, nil).Open(context.Background(), 7, dec("0"))
	require.NoError(t, err)

	result, err := checkout.Finalize(context.Background(), &FinalizeRequest{
		CashierID:     7,
		CustomerID:    ptr(int64(9)),
		DocumentType:  models.DocumentTypeTicket,
		PaymentMethod: models.PaymentMethodCard,
		Items:         []CartItem{{ProductID: 1, Quantity: dec("1")}},
	})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, StepLoyalty, result.Warnings[0].Step)
	// Inventory still ran.
	assert.True(t, fs.products[1].Stock.Equal(dec("9")))
}

func TestFinalizeRejectsNonPositiveQuantity(t *testing.T) {
	fs := newFakeStore()
	activeTicketSeries(fs, "T001", 0)
	fs.addSimpleProduct(1, "10", "3.50")

	checkout := newCheckoutFixture(t, fs, decimal.Zero)
	_, err := NewShiftLedger(fs, nil).Open(context.Background(), 7, dec("0"))
	require.NoError(t, err)

	_, err = checkout.Finalize(context.Background(), &FinalizeRequest{
		CashierID:     7,
		DocumentType:  models.DocumentTypeTicket,
		PaymentMethod: models.PaymentMethodCash,
		Items:         []CartItem{{ProductID: 1, Quantity: dec("0")}},
	})
	assert.Error(t, err)
	assert.Empty(t, fs.orders)
}

func TestSaveTabAndFinalizeIt(t *testing.T) {
	fs := newFakeStore()
	activeTicketSeries(fs, "T001", 0)
	fs.addSimpleProduct(1, "10", "3.50")
	fs.addSimpleProduct(2, "10", "2.25")

	checkout := newCheckoutFixture(t, fs, decimal.Zero)
	_, err := NewShiftLedger(fs, nil).Open(context.Background(), 7, dec("0"))
	require.NoError(t, err)

	tab, err := checkout.SaveTab(context.Background(), &TabRequest{
		CashierID:      7,
		Items:          []CartItem{{ProductID: 1, Quantity: dec("1")}},
		TableReference: ptr("table 4"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, tab.Order.Status)
	assert.Zero(t, tab.Order.DocumentNumber)

	// Re-saving the tab replaces the line items wholesale.
	tab, err = checkout.SaveTab(context.Background(), &TabRequest{
		CashierID: 7,
		OrderID:   ptr(tab.Order.ID),
		Items: []CartItem{
			{ProductID: 1, Quantity: dec("2")},
			{ProductID: 2, Quantity: dec("1")},
		},
	})
	require.NoError(t, err)
	items, err := fs.GetLineItemsByOrderID(context.Background(), tab.Order.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	result, err := checkout.Finalize(context.Background(), &FinalizeRequest{
		CashierID:       7,
		ExistingOrderID: ptr(tab.Order.ID),
		DocumentType:    models.DocumentTypeTicket,
		PaymentMethod:   models.PaymentMethodCash,
		AmountTendered:  dec("10.00"),
		Items: []CartItem{
			{ProductID: 1, Quantity: dec("2")},
			{ProductID: 2, Quantity: dec("1")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, tab.Order.ID, result.Order.ID)
	assert.Equal(t, models.OrderStatusCompleted, result.Order.Status)
	assert.Equal(t, "T001-00000001", result.Order.DocumentReference())
}

func TestSaveTabRequiresOpenShift(t *testing.T) {
	fs := newFakeStore()
	fs.addSimpleProduct(1, "10", "3.50")

	checkout := newCheckoutFixture(t, fs, decimal.Zero)

	_, err := checkout.SaveTab(context.Background(), &TabRequest{
		CashierID: 7,
		Items:     []CartItem{{ProductID: 1, Quantity: dec("1")}},
	})
	assert.ErrorIs(t, err, models.ErrNoOpenShift)
}

func TestVoidPendingOrderOnly(t *testing.T) {
	fs := newFakeStore()
	activeTicketSeries(fs, "T001", 0)
	fs.addSimpleProduct(1, "10", "3.50")

	checkout := newCheckoutFixture(t, fs, decimal.Zero)
	_, err := NewShiftLedger(fs, nil).Open(context.Background(), 7, dec("0"))
	require.NoError(t, err)

	tab, err := checkout.SaveTab(context.Background(), &TabRequest{
		CashierID: 7,
		Items:     []CartItem{{ProductID: 1, Quantity: dec("1")}},
	})
	require.NoError(t, err)
	require.NoError(t, checkout.Void(context.Background(), tab.Order.ID))

	voided, _, err := checkout.GetOrder(context.Background(), tab.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusVoided, voided.Status)

	completed, err := checkout.Finalize(context.Background(), &FinalizeRequest{
		CashierID:     7,
		DocumentType:  models.DocumentTypeTicket,
		PaymentMethod: models.PaymentMethodCash,
		Items:         []CartItem{{ProductID: 1, Quantity: dec("1")}},
	})
	require.NoError(t, err)

	err = checkout.Void(context.Background(), completed.Order.ID)
	assert.ErrorIs(t, err, models.ErrOrderNotPending)
}

func TestFinalizeUnknownProduct(t *testing.T) {
	fs := newFakeStore()
	activeTicketSeries(fs, "T001", 0)

	checkout := newCheckoutFixture(t, fs, decimal.Zero)
	_, err := NewShiftLedger(fs, nil).Open(context.Background(), 7, dec("0"))
	require.NoError(t, err)

	_, err = checkout.Finalize(context.Background(), &FinalizeRequest{
		CashierID:     7,
		DocumentType:  models.DocumentTypeTicket,
		PaymentMethod: models.PaymentMethodCash,
		Items:         []CartItem{{ProductID: 99, Quantity: dec("1")}},
	})
	assert.ErrorIs(t, err, models.ErrProductNotFound)
}
