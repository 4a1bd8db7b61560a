package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInsufficientStock indicates requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorVariantNotFound indicates the variant has no stock record.
	InventoryErrorVariantNotFound InventoryErrorCode = "inventory_variant_not_found"
	// InventoryErrorNegativeQuantity indicates the change would drive quantity below zero
	// and the caller did not allow clamping.
	InventoryErrorNegativeQuantity InventoryErrorCode = "inventory_negative_quantity"
	// InventoryErrorInvalidInput indicates the caller supplied invalid arguments.
	InventoryErrorInvalidInput InventoryErrorCode = "inventory_invalid_input"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op      string
	Code    InventoryErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// StockShortageError reports an availability check failure with enough
// detail to render a user-facing message.
type StockShortageError struct {
	VariantID    string
	ProductTitle string
	Requested    int64
	Available    int64
}

// Error implements the error interface.
func (e *StockShortageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.ProductTitle, e.Requested, e.Available)
}
