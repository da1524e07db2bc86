package review

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Rating bounds. DefaultRating is used when a review is submitted without one.
const (
	MinRating     = 1
	MaxRating     = 5
	DefaultRating = 3
)

// ErrNotDelivered is returned when reviewing an order that has not been
// delivered.
var ErrNotDelivered = errors.New("order has not been delivered")

// Review is a user's review of a book.
type Review struct {
	ID        int64
	BookID    int64
	UserID    int64
	Username  string
	Text      string
	Rating    int
	CreatedAt time.Time
}

// ValidationError indicates a missing or malformed review field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Repository defines persistence operations for reviews.
type Repository interface {
	// Create persists the review and sets ID and CreatedAt.
	Create(ctx context.Context, r *Review) error
	// ListByBook returns the reviews of a book, newest first.
	ListByBook(ctx context.Context, bookID int64) ([]Review, error)
}
