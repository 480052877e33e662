package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCompleted = "ORDER_COMPLETED"
	EventTypeShiftOpened    = "SHIFT_OPENED"
	EventTypeShiftClosed    = "SHIFT_CLOSED"
	EventTypeStockLow       = "STOCK_LOW"
	EventTypeRewardGranted  = "REWARD_GRANTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCompletedEvent is published after a sale is finalized. It carries
// everything the receipt-printing collaborator needs: frozen line prices,
// totals, payment info and the document reference.
type OrderCompletedEvent struct {
	BaseEvent
	OrderID           int64           `json:"order_id"`
	ShiftID           int64           `json:"shift_id"`
	CashierID         int64           `json:"cashier_id"`
	CustomerID        *int64          `json:"customer_id,omitempty"`
	DocumentReference string          `json:"document_reference"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Tax               decimal.Decimal `json:"tax"`
	Total             decimal.Decimal `json:"total"`
	PaymentMethod     string          `json:"payment_method"`
	PaymentMetadata   *string         `json:"payment_metadata,omitempty"`
	ChangeDue         decimal.Decimal `json:"change_due"`
	Items             []LineItemData  `json:"items"`
	Degraded          []string        `json:"degraded,omitempty"`
}

// ShiftOpenedEvent is published when a cashier opens a drawer.
type ShiftOpenedEvent struct {
	BaseEvent
	ShiftID   int64           `json:"shift_id"`
	CashierID int64           `json:"cashier_id"`
	StartCash decimal.Decimal `json:"start_cash"`
}

// ShiftClosedEvent is published with the reconciliation outcome.
type ShiftClosedEvent struct {
	BaseEvent
	ShiftID      int64           `json:"shift_id"`
	CashierID    int64           `json:"cashier_id"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	CountedCash  decimal.Decimal `json:"counted_cash"`
	Discrepancy  decimal.Decimal `json:"discrepancy"`
}

// StockLowEvent signals a product at or below its low-stock threshold
// (negative stock included, since sales are not gated on stock).
type StockLowEvent struct {
	BaseEvent
	ProductID int64           `json:"product_id"`
	Stock     decimal.Decimal `json:"stock"`
}

// RewardGrantedEvent is published for each loyalty rule that fired.
type RewardGrantedEvent struct {
	BaseEvent
	CustomerID        int64  `json:"customer_id"`
	OrderID           int64  `json:"order_id"`
	RuleID            int64  `json:"rule_id"`
	RewardDescription string `json:"reward_description"`
	RewardProductID   *int64 `json:"reward_product_id,omitempty"`
}

// LineItemData represents line item data in events
type LineItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Modifiers *string         `json:"modifiers,omitempty"`
}
