package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/bookstore/internal/domain/catalog"
)

var (
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrEmptyCart is returned when placing an order without items.
	ErrEmptyCart = errors.New("cart is empty")
)

// ValidationError indicates a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func missing(field string) error {
	return &ValidationError{Field: field, Reason: "this field is required"}
}

// BookNotFoundError indicates a cart entry references an unknown book.
type BookNotFoundError struct {
	BookID string
}

func (e *BookNotFoundError) Error() string {
	return fmt.Sprintf("book %s not found", e.BookID)
}

func (e *BookNotFoundError) Unwrap() error { return catalog.ErrNotFound }

// InvalidQuantityError indicates a cart entry has a non-positive quantity.
type InvalidQuantityError struct {
	BookID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for book %d", e.BookID)
}

// InvalidTransitionError indicates a lifecycle operation is not allowed from
// the order's current status.
type InvalidTransitionError struct {
	OrderID int64
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d cannot move from %s to %s", e.OrderID, e.From, e.To)
}
