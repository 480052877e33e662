package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ivallejo/coffee-sub000/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const orderInsert = `
	INSERT INTO orders (shift_id, cashier_id, customer_id, subtotal, tax, total,
		payment_method, payment_metadata, amount_tendered, change_due, status,
		document_type, document_series, document_number, table_reference)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING id, created_at, updated_at`

const orderUpdate = `
	UPDATE orders SET shift_id = $2, cashier_id = $3, customer_id = $4,
		subtotal = $5, tax = $6, total = $7, payment_method = $8,
		payment_metadata = $9, amount_tendered = $10, change_due = $11,
		status = $12, document_type = $13, document_series = $14,
		document_number = $15, table_reference = $16, updated_at = NOW()
	WHERE id = $1 AND status = $17
	RETURNING id, created_at, updated_at`

// UpsertOrderWithItems persists the order and replaces its line items with
// the given set, atomically. When order.ID is non-zero it tries to rewrite
// that order while it is still pending; if the row is gone (e.g. concurrently
// voided) it falls back to inserting a fresh order instead of failing.
func (s *Store) UpsertOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderLineItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.upsertOrderTx(ctx, tx, order); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM order_line_items WHERE order_id = $1", order.ID); err != nil {
		return fmt.Errorf("failed to clear line items: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err := tx.GetContext(ctx, &items[i].ID, `
			INSERT INTO order_line_items (order_id, product_id, variant_id, quantity, unit_price, modifiers, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].VariantID,
			items[i].Quantity, items[i].UnitPrice, items[i].Modifiers, items[i].Notes)
		if err != nil {
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) upsertOrderTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	if order.ID != 0 {
		err := tx.GetContext(ctx, order, orderUpdate,
			order.ID, order.ShiftID, order.CashierID, order.CustomerID,
			order.Subtotal, order.Tax, order.Total, order.PaymentMethod,
			order.PaymentMetadata, order.AmountTendered, order.ChangeDue,
			order.Status, order.DocumentType, order.DocumentSeries,
			order.DocumentNumber, order.TableReference, models.OrderStatusPending)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to update order %d: %w", order.ID, err)
		}
		// Pending order vanished underneath us; create a new one.
		order.ID = 0
	}

	err := tx.GetContext(ctx, order, orderInsert,
		order.ShiftID, order.CashierID, order.CustomerID,
		order.Subtotal, order.Tax, order.Total, order.PaymentMethod,
		order.PaymentMetadata, order.AmountTendered, order.ChangeDue,
		order.Status, order.DocumentType, order.DocumentSeries,
		order.DocumentNumber, order.TableReference)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetLineItemsByOrderID retrieves all line items for an order
func (s *Store) GetLineItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderLineItem, error) {
	var items []models.OrderLineItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_line_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// VoidOrder moves a pending order to voided. Completed orders are terminal.
func (s *Store) VoidOrder(ctx context.Context, orderID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.OrderStatusVoided, orderID, models.OrderStatusPending)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetOrderByID(ctx, orderID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %d", models.ErrOrderNotPending, orderID)
	}
	return nil
}

// GetMonthlySpend sums the customer's completed order totals for the current
// calendar month. Read fresh every evaluation, never cached.
func (s *Store) GetMonthlySpend(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	var spend decimal.Decimal
	err := s.db.GetContext(ctx, &spend, `
		SELECT COALESCE(SUM(total), 0) FROM orders
		WHERE customer_id = $1 AND status = $2
		AND created_at >= date_trunc('month', NOW())`,
		customerID, models.OrderStatusCompleted)
	return spend, err
}
