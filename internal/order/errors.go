package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrEmptyOrder      = errors.New("order has no line items")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidStatus   = errors.New("invalid order status")
)

// NotFoundError names the product identifier that failed to resolve.
type NotFoundError struct {
	ProductID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product not found: %s", e.ProductID)
}

// InsufficientStockError names the product whose requested quantity
// exceeds current availability.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// StorageError marks a transient failure outside domain logic. Nothing
// partial was committed, so the caller may retry the whole placement.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// IsDomain reports whether err is a domain or validation error, as opposed
// to a transient storage failure.
func IsDomain(err error) bool {
	var nf *NotFoundError
	var is *InsufficientStockError
	return errors.Is(err, ErrEmptyOrder) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrNotFound) ||
		errors.As(err, &nf) ||
		errors.As(err, &is)
}
