package models

import "errors"

// Pre-commit failures: finalize aborts, nothing persisted.
var (
	ErrNoOpenShift    = errors.New("cashier has no open shift")
	ErrNoActiveSeries = errors.New("no active document series for document type")
)

// Conflict-class failures: user-correctable, reported verbatim.
var (
	ErrShiftAlreadyOpen = errors.New("cashier already has an open shift")
	ErrShiftNotOpen     = errors.New("shift is not open")
)

// Consumption failures. A recipe cycle aborts expansion before any stock
// mutation; insufficient stock only fires when the stock gate is enabled.
var (
	ErrRecipeCycle       = errors.New("recipe cycle detected")
	ErrInsufficientStock = errors.New("insufficient stock")
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
	ErrOrderNotPending = errors.New("order is not pending")
)
