package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Contact holds the customer and shipping details of an order.
type Contact struct {
	Name     string
	Email    string
	Phone    string
	Address  string
	Division string
	State    string
	Zipcode  string
}

// Order is a placed order with its line items.
type Order struct {
	ID     int64
	UserID *int64
	Contact
	Payment        Payment
	Items          []Item
	Total          decimal.Decimal
	Status         Status
	CancelReason   string
	ReturnReason   string
	ReturnComments string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ShippingAddress joins the non-empty address parts as
// "address, division, state, zipcode".
func (o *Order) ShippingAddress() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{o.Address, o.Division, o.State, o.Zipcode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Cancellable reports whether the order may still be cancelled.
func (o *Order) Cancellable() bool {
	return CanTransition(o.Status, StatusCancelled)
}

// Returnable reports whether a return may be requested for the order.
func (o *Order) Returnable() bool {
	return CanTransition(o.Status, StatusReturnRequested)
}

// HasBook reports whether the order contains the given book.
func (o *Order) HasBook(bookID int64) bool {
	for _, it := range o.Items {
		if it.BookID == bookID {
			return true
		}
	}
	return false
}

// Item is one line of an order. Title and Price are the catalog values at
// read time and are informational only.
type Item struct {
	BookID   int64
	Title    string
	Price    decimal.Decimal
	Quantity int
}

// Total is Price times Quantity.
func (i Item) Total() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Attachment is a file uploaded with a return request.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Transition describes a guarded status change. The repository applies it only
// if the stored status still equals From.
type Transition struct {
	From           Status
	To             Status
	CancelReason   string
	ReturnReason   string
	ReturnComments string
	Attachment     *Attachment
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists the order and its items atomically and sets ID,
	// CreatedAt and UpdatedAt.
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	// ListByUser returns the user's orders, newest first.
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	// Transition applies t and returns the updated order. It fails with
	// *InvalidTransitionError when the stored status is no longer t.From.
	Transition(ctx context.Context, id int64, t Transition) (*Order, error)
}
