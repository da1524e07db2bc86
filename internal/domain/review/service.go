package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/xenking/bookstore/internal/domain/order"
)

// Orders resolves orders visible to a user.
type Orders interface {
	Get(ctx context.Context, id int64, actor order.Actor) (*order.Order, error)
}

// SubmitRequest holds the input for submitting a review.
type SubmitRequest struct {
	OrderID int64
	BookID  int64
	UserID  int64
	Text    string
	// Rating is optional; nil selects DefaultRating.
	Rating *int
}

// Service implements the review flow of delivered orders.
type Service struct {
	reviews Repository
	orders  Orders
}

// NewService creates a review Service.
func NewService(reviews Repository, orders Orders) *Service {
	return &Service{reviews: reviews, orders: orders}
}

// WriteForm returns the order whose books the user may review. The order
// must belong to the user and have been delivered.
func (s *Service) WriteForm(ctx context.Context, orderID, userID int64) (*order.Order, error) {
	o, err := s.orders.Get(ctx, orderID, order.UserActor(userID))
	if err != nil {
		return nil, err
	}
	// Guest orders cannot be reviewed: a review always has an author.
	if o.UserID == nil {
		return nil, order.ErrNotFound
	}
	if !o.Status.Reviewable() {
		return nil, ErrNotDelivered
	}
	return o, nil
}

// Submit stores a review of one book of a delivered order.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Review, error) {
	o, err := s.WriteForm(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !o.HasBook(req.BookID) {
		return nil, &ValidationError{Field: "book_id", Reason: "book is not part of this order"}
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, &ValidationError{Field: "review_text", Reason: "this field is required"}
	}
	rating := DefaultRating
	if req.Rating != nil {
		rating = *req.Rating
	}
	if rating < MinRating || rating > MaxRating {
		return nil, &ValidationError{
			Field:  "rating",
			Reason: fmt.Sprintf("must be between %d and %d", MinRating, MaxRating),
		}
	}

	r := &Review{
		BookID: req.BookID,
		UserID: req.UserID,
		Text:   text,
		Rating: rating,
	}
	if err := s.reviews.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}
	return r, nil
}

// ForBook returns the reviews of a book, newest first.
func (s *Service) ForBook(ctx context.Context, bookID int64) ([]Review, error) {
	reviews, err := s.reviews.ListByBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}
