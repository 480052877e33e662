package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Document types for sale documents
const (
	DocumentTypeTicket  = "ticket"
	DocumentTypeReceipt = "receipt"
	DocumentTypeInvoice = "invoice"
)

// Product types
const (
	ProductTypeSimple    = "simple"
	ProductTypeComposite = "composite"
)

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusVoided    = "voided"
)

// Inventory movement types
const (
	MovementIn  = "IN"
	MovementOut = "OUT"
)

// MovementReasonSale is the reason recorded on sale-driven OUT movements.
const MovementReasonSale = "Venta"

// Loyalty rule condition types
const (
	ConditionSingleTransactionAmount = "single_transaction_amount"
	ConditionRollingMonthlySpend     = "rolling_monthly_spend"
)

// Loyalty reward types
const (
	RewardTypeFreeProduct = "free_product"
	RewardTypeCustom      = "custom"
)

// Payment methods recognized by shift reconciliation
const (
	PaymentMethodCash = "cash"
	PaymentMethodCard = "card"
)

// DocumentSeries is an independently numbered sequence for a document type.
// current_number is the single source of truth for numbering and is only
// ever mutated by an atomic increment in the store.
type DocumentSeries struct {
	ID            int64     `db:"id" json:"id"`
	DocumentType  string    `db:"document_type" json:"document_type"`
	SeriesCode    string    `db:"series_code" json:"series_code"`
	CurrentNumber int64     `db:"current_number" json:"current_number"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Order is the persisted sale aggregate.
type Order struct {
	ID              int64           `db:"id" json:"id"`
	ShiftID         int64           `db:"shift_id" json:"shift_id"`
	CashierID       int64           `db:"cashier_id" json:"cashier_id"`
	CustomerID      *int64          `db:"customer_id" json:"customer_id,omitempty"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax             decimal.Decimal `db:"tax" json:"tax"`
	Total           decimal.Decimal `db:"total" json:"total"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	PaymentMetadata *string         `db:"payment_metadata" json:"payment_metadata,omitempty"`
	AmountTendered  decimal.Decimal `db:"amount_tendered" json:"amount_tendered"`
	ChangeDue       decimal.Decimal `db:"change_due" json:"change_due"`
	Status          string          `db:"status" json:"status"`
	DocumentType    string          `db:"document_type" json:"document_type"`
	DocumentSeries  string          `db:"document_series" json:"document_series"`
	DocumentNumber  int64           `db:"document_number" json:"document_number"`
	TableReference  *string         `db:"table_reference" json:"table_reference,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// DocumentReference formats the order's document reference as SERIES-NNNNNNNN.
func (o *Order) DocumentReference() string {
	if o.DocumentSeries == "" {
		return ""
	}
	return FormatDocumentReference(o.DocumentSeries, o.DocumentNumber)
}

// OrderLineItem is one sold line. UnitPrice is frozen at sale time;
// line items are immutable once the order is completed.
type OrderLineItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	VariantID *int64          `db:"variant_id" json:"variant_id,omitempty"`
	Quantity  decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Modifiers *string         `db:"modifiers" json:"modifiers,omitempty"`
	Notes     *string         `db:"notes" json:"notes,omitempty"`
}

// LineTotal returns quantity times the frozen unit price.
func (li *OrderLineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(li.Quantity)
}

// Product is the catalog read model used by the consumption engine.
// Stock is only meaningful for simple products; composite products derive
// consumption through recipe edges.
type Product struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Type          string          `db:"type" json:"type"`
	Stock         decimal.Decimal `db:"stock" json:"stock"`
	UnitOfMeasure string          `db:"unit_of_measure" json:"unit_of_measure"`
	BasePrice     decimal.Decimal `db:"base_price" json:"base_price"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// RecipeEdge links a composite product to one ingredient with the quantity
// consumed per unit sold. Ingredients may themselves be composite.
type RecipeEdge struct {
	ParentProductID     int64           `db:"parent_product_id" json:"parent_product_id"`
	IngredientProductID int64           `db:"ingredient_product_id" json:"ingredient_product_id"`
	QuantityPerUnit     decimal.Decimal `db:"quantity_per_unit" json:"quantity_per_unit"`
}

// InventoryMovement is one row of the append-only stock ledger.
type InventoryMovement struct {
	ID               int64           `db:"id" json:"id"`
	ProductID        int64           `db:"product_id" json:"product_id"`
	Type             string          `db:"type" json:"type"`
	Quantity         decimal.Decimal `db:"quantity" json:"quantity"`
	Reason           string          `db:"reason" json:"reason"`
	Notes            *string         `db:"notes" json:"notes,omitempty"`
	ReferenceOrderID *int64          `db:"reference_order_id" json:"reference_order_id,omitempty"`
	Actor            string          `db:"actor" json:"actor"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// LoyaltyRule is a configured reward rule evaluated on completed sales.
type LoyaltyRule struct {
	ID                int64           `db:"id" json:"id"`
	ConditionType     string          `db:"condition_type" json:"condition_type"`
	Threshold         decimal.Decimal `db:"threshold" json:"threshold"`
	RewardType        string          `db:"reward_type" json:"reward_type"`
	RewardProductID   *int64          `db:"reward_product_id" json:"reward_product_id,omitempty"`
	RewardDescription string          `db:"reward_description" json:"reward_description"`
	IsActive          bool            `db:"is_active" json:"is_active"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// RewardGrant is the output of a loyalty rule firing.
type RewardGrant struct {
	ID                int64     `db:"id" json:"id"`
	RuleID            int64     `db:"rule_id" json:"rule_id"`
	CustomerID        int64     `db:"customer_id" json:"customer_id"`
	OrderID           int64     `db:"order_id" json:"order_id"`
	RewardProductID   *int64    `db:"reward_product_id" json:"reward_product_id,omitempty"`
	RewardDescription string    `db:"reward_description" json:"reward_description"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// CustomerLoyaltyState is mutated only by the loyalty engine.
type CustomerLoyaltyState struct {
	CustomerID    int64           `db:"customer_id" json:"customer_id"`
	PointsBalance int64           `db:"points_balance" json:"points_balance"`
	LifetimeSpend decimal.Decimal `db:"lifetime_spend" json:"lifetime_spend"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Shift is a cashier's cash-drawer period. At most one open shift
// (end_time null) exists per cashier.
type Shift struct {
	ID           int64            `db:"id" json:"id"`
	CashierID    int64            `db:"cashier_id" json:"cashier_id"`
	StartTime    time.Time        `db:"start_time" json:"start_time"`
	StartCash    decimal.Decimal  `db:"start_cash" json:"start_cash"`
	EndTime      *time.Time       `db:"end_time" json:"end_time,omitempty"`
	EndCash      *decimal.Decimal `db:"end_cash" json:"end_cash,omitempty"`
	ExpectedCash *decimal.Decimal `db:"expected_cash" json:"expected_cash,omitempty"`
	Notes        *string          `db:"notes" json:"notes,omitempty"`
}

// IsOpen reports whether the shift has not been closed yet.
func (s *Shift) IsOpen() bool {
	return s.EndTime == nil
}

// ShiftTotal is one payment-method bucket of a shift's derived totals.
type ShiftTotal struct {
	PaymentMethod string          `db:"payment_method" json:"payment_method"`
	OrderCount    int64           `db:"order_count" json:"order_count"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
}
