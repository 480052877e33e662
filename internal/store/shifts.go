package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ivallejo/coffee-sub000/internal/models"

	"github.com/shopspring/decimal"
)

// OpenShift creates a new open shift for the cashier. The check-and-insert
// relies on a partial unique index on (cashier_id) WHERE end_time IS NULL,
// so two concurrent opens cannot both succeed.
func (s *Store) OpenShift(ctx context.Context, cashierID int64, startCash decimal.Decimal) (*models.Shift, error) {
	var shift models.Shift
	err := s.db.GetContext(ctx, &shift, `
		INSERT INTO shifts (cashier_id, start_time, start_cash)
		VALUES ($1, NOW(), $2)
		RETURNING *`,
		cashierID, startCash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: cashier %d", models.ErrShiftAlreadyOpen, cashierID)
		}
		return nil, err
	}
	return &shift, nil
}

// GetOpenShiftByCashier returns the cashier's open shift, or nil when none.
func (s *Store) GetOpenShiftByCashier(ctx context.Context, cashierID int64) (*models.Shift, error) {
	var shift models.Shift
	err := s.db.GetContext(ctx, &shift,
		"SELECT * FROM shifts WHERE cashier_id = $1 AND end_time IS NULL", cashierID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shift, nil
}

// GetShiftByID retrieves a shift by ID
func (s *Store) GetShiftByID(ctx context.Context, id int64) (*models.Shift, error) {
	var shift models.Shift
	err := s.db.GetContext(ctx, &shift, "SELECT * FROM shifts WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("shift not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &shift, nil
}

// CloseShift records the count and expected cash and stamps end_time. The
// WHERE clause only matches an open shift, so closing twice (or closing a
// shift that was never open) affects zero rows.
func (s *Store) CloseShift(ctx context.Context, shiftID int64, countedCash, expectedCash decimal.Decimal) (*models.Shift, error) {
	var shift models.Shift
	err := s.db.GetContext(ctx, &shift, `
		UPDATE shifts SET end_time = NOW(), end_cash = $2, expected_cash = $3
		WHERE id = $1 AND end_time IS NULL
		RETURNING *`,
		shiftID, countedCash, expectedCash)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", models.ErrShiftNotOpen, shiftID)
	}
	if err != nil {
		return nil, err
	}
	return &shift, nil
}

// GetShiftTotals derives the shift's totals from its completed orders,
// grouped by payment method. The shift row stores no running totals.
func (s *Store) GetShiftTotals(ctx context.Context, shiftID int64) ([]models.ShiftTotal, error) {
	var totals []models.ShiftTotal
	err := s.db.SelectContext(ctx, &totals, `
		SELECT payment_method, COUNT(*) AS order_count, COALESCE(SUM(total), 0) AS amount
		FROM orders
		WHERE shift_id = $1 AND status = $2
		GROUP BY payment_method
		ORDER BY payment_method`,
		shiftID, models.OrderStatusCompleted)
	return totals, err
}

// GetShiftCashTotal sums the cash-method completed order totals for a shift.
func (s *Store) GetShiftCashTotal(ctx context.Context, shiftID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(total), 0) FROM orders
		WHERE shift_id = $1 AND status = $2 AND payment_method = $3`,
		shiftID, models.OrderStatusCompleted, models.PaymentMethodCash)
	return total, err
}

// AddShiftNote appends an audit note to a closed shift. Notes are the only
// mutable field after close.
func (s *Store) AddShiftNote(ctx context.Context, shiftID int64, note string) error {
	stamped := fmt.Sprintf("[%s] %s", time.Now().Format(time.RFC3339), note)
	res, err := s.db.ExecContext(ctx, `
		UPDATE shifts SET notes = CASE WHEN notes IS NULL THEN $2 ELSE notes || E'\n' || $2 END
		WHERE id = $1 AND end_time IS NOT NULL`,
		shiftID, stamped)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("shift not found or still open: %d", shiftID)
	}
	return nil
}
