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

// ShiftStore is the slice of the store the ledger needs.
type ShiftStore interface {
	OpenShift(ctx context.Context, cashierID int64, startCash decimal.Decimal) (*models.Shift, error)
	GetOpenShiftByCashier(ctx context.Context, cashierID int64) (*models.Shift, error)
	GetShiftByID(ctx context.Context, id int64) (*models.Shift, error)
	CloseShift(ctx context.Context, shiftID int64, countedCash, expectedCash decimal.Decimal) (*models.Shift, error)
	GetShiftTotals(ctx context.Context, shiftID int64) ([]models.ShiftTotal, error)
	GetShiftCashTotal(ctx context.Context, shiftID int64) (decimal.Decimal, error)
	AddShiftNote(ctx context.Context, shiftID int64, note string) error
}

// ShiftEventPublisher publishes shift lifecycle events for reporting.
type ShiftEventPublisher interface {
	PublishShiftOpened(ctx context.Context, event *models.ShiftOpenedEvent) error
	PublishShiftClosed(ctx context.Context, event *models.ShiftClosedEvent) error
}

// ShiftLedger tracks open cash-drawer periods per cashier. Totals are never
// stored on the shift row; they are derived from completed orders on demand.
type ShiftLedger struct {
	store     ShiftStore
	publisher ShiftEventPublisher
	logger    *zap.Logger
}

// NewShiftLedger creates a new shift ledger
func NewShiftLedger(store ShiftStore, publisher ShiftEventPublisher) *ShiftLedger {
	return &ShiftLedger{
		store:     store,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Open starts a shift for the cashier. A cashier with an open shift gets
// ErrShiftAlreadyOpen; the uniqueness is enforced by the store's partial
// unique index, not a read-then-insert.
func (sl *ShiftLedger) Open(ctx context.Context, cashierID int64, startCash decimal.Decimal) (*models.Shift, error) {
	ctx, span := util.StartSpan(ctx, "ShiftLedger.Open")
	defer span.End()

	if startCash.IsNegative() {
		return nil, fmt.Errorf("start cash cannot be negative")
	}

	shift, err := sl.store.OpenShift(ctx, cashierID, startCash)
	if err != nil {
		return nil, err
	}

	util.ShiftsOpenedTotal.Inc()
	sl.logger.Info("Shift opened",
		zap.Int64("shift_id", shift.ID),
		zap.Int64("cashier_id", cashierID),
		zap.String("start_cash", startCash.String()))

	if sl.publisher != nil {
		event := &models.ShiftOpenedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeShiftOpened,
				Timestamp: time.Now(),
			},
			ShiftID:   shift.ID,
			CashierID: cashierID,
			StartCash: startCash,
		}
		if err := sl.publisher.PublishShiftOpened(ctx, event); err != nil {
			sl.logger.Warn("Failed to publish ShiftOpened event", zap.Error(err))
		}
	}

	return shift, nil
}

// GetOpenShift returns the cashier's open shift, or nil. The session layer
// uses this to block sign-out while a drawer is open.
func (sl *ShiftLedger) GetOpenShift(ctx context.Context, cashierID int64) (*models.Shift, error) {
	return sl.store.GetOpenShiftByCashier(ctx, cashierID)
}

// HasOpenShift is the cheap form of GetOpenShift.
func (sl *ShiftLedger) HasOpenShift(ctx context.Context, cashierID int64) (bool, error) {
	shift, err := sl.store.GetOpenShiftByCashier(ctx, cashierID)
	if err != nil {
		return false, err
	}
	return shift != nil, nil
}

// RecordSale is the orchestrator's hook after an order completes. The shift
// stores no running totals, so this is pure aggregation bookkeeping: metrics
// and a log line. Totals and Close always derive sums from completed orders.
func (sl *ShiftLedger) RecordSale(ctx context.Context, shiftID int64, paymentMethod string, amount decimal.Decimal) {
	util.ShiftSalesRecorded.WithLabelValues(paymentMethod).Inc()
	sl.logger.Debug("Sale recorded against shift",
		zap.Int64("shift_id", shiftID),
		zap.String("payment_method", paymentMethod),
		zap.String("amount", amount.String()))
}

// Totals derives the shift's sales grouped by payment method.
func (sl *ShiftLedger) Totals(ctx context.Context, shiftID int64) ([]models.ShiftTotal, error) {
	return sl.store.GetShiftTotals(ctx, shiftID)
}

// CloseResult is the reconciliation outcome of closing a shift.
type CloseResult struct {
	Shift        *models.Shift   `json:"shift"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	CountedCash  decimal.Decimal `json:"counted_cash"`
	Discrepancy  decimal.Decimal `json:"discrepancy"`
}

// Close reconciles and closes the shift. Expected cash is start cash plus
// the sum of cash-method completed orders; the counted amount is persisted
// verbatim and the signed difference is reported, never corrected.
func (sl *ShiftLedger) Close(ctx context.Context, shiftID int64, countedCash decimal.Decimal) (*CloseResult, error) {
	ctx, span := util.StartSpan(ctx, "ShiftLedger.Close")
	defer span.End()

	shift, err := sl.store.GetShiftByID(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if !shift.IsOpen() {
		return nil, fmt.Errorf("%w: %d", models.ErrShiftNotOpen, shiftID)
	}

	cashTotal, err := sl.store.GetShiftCashTotal(ctx, shiftID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive cash total: %w", err)
	}
	expected := shift.StartCash.Add(cashTotal)

	closed, err := sl.store.CloseShift(ctx, shiftID, countedCash, expected)
	if err != nil {
		return nil, err
	}

	discrepancy := countedCash.Sub(expected)
	util.ShiftsClosedTotal.Inc()
	sl.logger.Info("Shift closed",
		zap.Int64("shift_id", shiftID),
		zap.String("expected_cash", expected.String()),
		zap.String("counted_cash", countedCash.String()),
		zap.String("discrepancy", discrepancy.String()))

	if sl.publisher != nil {
		event := &models.ShiftClosedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeShiftClosed,
				Timestamp: time.Now(),
			},
			ShiftID:      shiftID,
			CashierID:    closed.CashierID,
			ExpectedCash: expected,
			CountedCash:  countedCash,
			Discrepancy:  discrepancy,
		}
		if err := sl.publisher.PublishShiftClosed(ctx, event); err != nil {
			sl.logger.Warn("Failed to publish ShiftClosed event", zap.Error(err))
		}
	}

	return &CloseResult{
		Shift:        closed,
		ExpectedCash: expected,
		CountedCash:  countedCash,
		Discrepancy:  discrepancy,
	}, nil
}

// AddNote appends an audit note to a closed shift.
func (sl *ShiftLedger) AddNote(ctx context.Context, shiftID int64, note string) error {
	if note == "" {
		return fmt.Errorf("note is required")
	}
	return sl.store.AddShiftNote(ctx, shiftID, note)
}
