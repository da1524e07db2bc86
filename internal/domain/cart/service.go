package cart

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore/internal/domain/catalog"
)

// PayloadError indicates a malformed client cart or summary payload.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid cart payload: %v", e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Line is one resolved cart entry.
type Line struct {
	Book     catalog.Book
	Quantity int
	Total    decimal.Decimal
}

// CheckoutView is everything the checkout page needs.
type CheckoutView struct {
	Lines []Line
	// Summary is recomputed from catalog prices and is the authoritative
	// figure.
	Summary Summary
	// Cached is the last summary reported by the client, if any. It is for
	// display only.
	Cached *Summary
}

// Service implements session cart operations.
type Service struct {
	books catalog.Repository
	store Store
}

// NewService creates a cart Service.
func NewService(books catalog.Repository, store Store) *Service {
	return &Service{books: books, store: store}
}

// AddToCart adds one copy of a book to the session cart and returns the
// recomputed summary. Unknown books fail with catalog.ErrNotFound.
func (s *Service) AddToCart(ctx context.Context, sessionID string, bookID int64) (*Summary, error) {
	if _, err := s.books.GetByID(ctx, bookID); err != nil {
		return nil, err
	}

	c, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.Add(bookID)
	if err := s.store.Save(ctx, sessionID, c); err != nil {
		return nil, err
	}

	lines, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	sum := summarizeLines(lines)
	return &sum, nil
}

// SaveCart replaces the session cart with the client payload. Quantities are
// trusted; prices are never read from the payload. Keys that are not book
// IDs are ignored.
func (s *Service) SaveCart(ctx context.Context, sessionID string, payload []byte) (Cart, error) {
	d, err := Decode(payload)
	if err != nil {
		return nil, &PayloadError{Err: err}
	}
	if err := s.store.Save(ctx, sessionID, d.Cart); err != nil {
		return nil, err
	}
	return d.Cart, nil
}

// Replace stores c as the session cart. Entries with a quantity below 1 are
// dropped.
func (s *Service) Replace(ctx context.Context, sessionID string, c Cart) error {
	clean := make(Cart, len(c))
	for id, qty := range c {
		if qty > 0 {
			clean[id] = qty
		}
	}
	return s.store.Save(ctx, sessionID, clean)
}

// SaveSummary caches a client-computed summary for the checkout page.
// Shipping is always reset to the flat fee and amounts are rounded to cents.
func (s *Service) SaveSummary(ctx context.Context, sessionID string, payload []byte) (*Summary, error) {
	sum, err := DecodeSummary(payload)
	if err != nil {
		return nil, &PayloadError{Err: err}
	}
	sum.Subtotal = sum.Subtotal.Round(2)
	sum.Shipping = Shipping
	sum.Total = sum.Total.Round(2)
	if err := s.store.SaveSummary(ctx, sessionID, sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// GetSummary returns the cached summary, or a zero Summary when none exists.
func (s *Service) GetSummary(ctx context.Context, sessionID string) (*Summary, error) {
	sum, err := s.store.LoadSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sum == nil {
		return &Summary{}, nil
	}
	return sum, nil
}

// Cart returns the current session cart.
func (s *Service) Cart(ctx context.Context, sessionID string) (Cart, error) {
	return s.store.Load(ctx, sessionID)
}

// Checkout resolves the session cart against the catalog. Stale book IDs are
// dropped from both the lines and the totals.
func (s *Service) Checkout(ctx context.Context, sessionID string) (*CheckoutView, error) {
	c, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	lines, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	cached, err := s.store.LoadSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &CheckoutView{
		Lines:   lines,
		Summary: summarizeLines(lines),
		Cached:  cached,
	}, nil
}

// Clear empties the session cart.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	return s.store.Clear(ctx, sessionID)
}

func (s *Service) resolve(ctx context.Context, c Cart) ([]Line, error) {
	lines := []Line{}
	if len(c) == 0 {
		return lines, nil
	}
	ids := c.IDs()
	books, err := s.books.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get cart books: %w", err)
	}
	idx := catalog.Index(books)
	for _, id := range ids {
		b, ok := idx[id]
		if !ok {
			continue
		}
		qty := c[id]
		lines = append(lines, Line{
			Book:     b,
			Quantity: qty,
			Total:    b.Price.Mul(decimal.NewFromInt(int64(qty))).Round(2),
		})
	}
	return lines, nil
}

func summarizeLines(lines []Line) Summary {
	c := make(Cart, len(lines))
	books := make([]catalog.Book, len(lines))
	for i, l := range lines {
		c[l.Book.ID] = l.Quantity
		books[i] = l.Book
	}
	return Summarize(c, catalog.Index(books))
}
