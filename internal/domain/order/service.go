package order

import (
	"context"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/cart"
	"github.com/xenking/bookstore/internal/domain/catalog"
)

// DefaultMaxAttachment is the attachment size limit used when none is
// configured.
const DefaultMaxAttachment = 5 << 20

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	// UserID is set when a signed-in user places the order.
	UserID *int64
	Contact
	PaymentMethod string
	PaymentFields PaymentFields
	Cart          cart.Cart
	// UnknownBookIDs are cart keys that could not be parsed as book IDs.
	UnknownBookIDs []string
}

// ReturnRequest holds the input for requesting a return.
type ReturnRequest struct {
	Reason     string
	Comments   string
	Attachment *Attachment
}

// Service encapsulates order placement and the order lifecycle.
type Service struct {
	books         catalog.Repository
	orders        Repository
	events        Publisher
	maxAttachment int
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxAttachment limits the size of return request attachments.
func WithMaxAttachment(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttachment = n
		}
	}
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	books catalog.Repository,
	orders Repository,
	events Publisher,
	opts ...Option,
) *Service {
	s := &Service{
		books:         books,
		orders:        orders,
		events:        events,
		maxAttachment: DefaultMaxAttachment,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PlaceOrder validates the request, prices every line from the catalog,
// persists the order with status Confirmed and returns it.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	contact, err := validateContact(req.Contact)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, missing("payment_method")
	}
	if len(req.UnknownBookIDs) > 0 {
		return nil, &BookNotFoundError{BookID: req.UnknownBookIDs[0]}
	}
	if len(req.Cart) == 0 {
		return nil, ErrEmptyCart
	}

	ids := req.Cart.IDs()
	for _, id := range ids {
		if req.Cart[id] < 1 {
			return nil, &InvalidQuantityError{BookID: id}
		}
	}

	// Batch fetch all books in a single query.
	fetched, err := s.books.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get books: %w", err)
	}
	idx := catalog.Index(fetched)

	items := make([]Item, 0, len(ids))
	total := decimal.Zero
	for _, id := range ids {
		b, ok := idx[id]
		if !ok {
			return nil, &BookNotFoundError{BookID: fmt.Sprint(id)}
		}
		qty := req.Cart[id]
		items = append(items, Item{
			BookID:   id,
			Title:    b.Title,
			Price:    b.Price,
			Quantity: qty,
		})
		total = total.Add(b.Price.Mul(decimal.NewFromInt(int64(qty))))
	}

	payment := NewPayment(req.PaymentMethod, req.PaymentFields)
	if err := validatePayment(payment); err != nil {
		return nil, err
	}

	o := &Order{
		UserID:  req.UserID,
		Contact: contact,
		Payment: payment,
		Items:   items,
		Total:   total.Round(2),
		Status:  StatusConfirmed,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.publish(ctx, EventOrderPlaced, o, "", "")
	return o, nil
}

// Actor is the caller of an order operation.
type Actor struct {
	// UserID is the signed-in user, nil for anonymous sessions.
	UserID *int64
	// GuestOrders are the guest orders placed from the caller's session.
	GuestOrders []int64
}

// UserActor returns the Actor for a signed-in user without session state.
func UserActor(userID int64) Actor {
	return Actor{UserID: &userID}
}

// Get returns an order visible to the actor. Orders of a user are visible to
// that user only; guest orders only to the session that placed them.
func (s *Service) Get(ctx context.Context, id int64, actor Actor) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(o, actor) {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListForUser returns the user's orders, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// Cancel cancels an order that has not been delivered yet.
func (s *Service) Cancel(ctx context.Context, id int64, reason string, actor Actor) (*Order, error) {
	o, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: StatusCancelled}
	}

	updated, err := s.orders.Transition(ctx, o.ID, Transition{
		From:         o.Status,
		To:           StatusCancelled,
		CancelReason: strings.TrimSpace(reason),
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventOrderCancelled, updated, o.Status, updated.CancelReason)
	return updated, nil
}

// RequestReturn requests a return of a delivered order. A reason is required.
func (s *Service) RequestReturn(ctx context.Context, id int64, req ReturnRequest, actor Actor) (*Order, error) {
	o, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusReturnRequested) {
		return nil, &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: StatusReturnRequested}
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, missing("reason")
	}
	if a := req.Attachment; a != nil {
		if len(a.Data) == 0 {
			return nil, &ValidationError{Field: "attachment", Reason: "file is empty"}
		}
		if len(a.Data) > s.maxAttachment {
			return nil, &ValidationError{
				Field:  "attachment",
				Reason: fmt.Sprintf("file exceeds %d bytes", s.maxAttachment),
			}
		}
	}

	updated, err := s.orders.Transition(ctx, o.ID, Transition{
		From:           o.Status,
		To:             StatusReturnRequested,
		ReturnReason:   reason,
		ReturnComments: strings.TrimSpace(req.Comments),
		Attachment:     req.Attachment,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventOrderReturnRequested, updated, o.Status, reason)
	return updated, nil
}

// Advance moves an order along the fulfilment path on behalf of staff.
// Ownership is not checked.
func (s *Service) Advance(ctx context.Context, id int64, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to}
	}

	updated, err := s.orders.Transition(ctx, o.ID, Transition{From: o.Status, To: to})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventOrderStatusChanged, updated, o.Status, "")
	return updated, nil
}

func (s *Service) publish(ctx context.Context, typ EventType, o *Order, from Status, reason string) {
	if s.events == nil {
		return
	}
	e := Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OrderID:    o.ID,
		UserID:     o.UserID,
		From:       from,
		Status:     o.Status,
		Total:      o.Total,
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("event", string(typ)),
			zap.Int64("order_id", o.ID),
			zap.Error(err),
		)
	}
}

func validateContact(c Contact) (Contact, error) {
	c = Contact{
		Name:     strings.TrimSpace(c.Name),
		Email:    strings.TrimSpace(c.Email),
		Phone:    strings.TrimSpace(c.Phone),
		Address:  strings.TrimSpace(c.Address),
		Division: strings.TrimSpace(c.Division),
		State:    strings.TrimSpace(c.State),
		Zipcode:  strings.TrimSpace(c.Zipcode),
	}
	switch {
	case c.Name == "":
		return c, missing("name")
	case c.Email == "":
		return c, missing("email")
	case c.Address == "":
		return c, missing("address")
	}
	if addr, err := mail.ParseAddress(c.Email); err != nil || addr.Address != c.Email {
		return c, &ValidationError{Field: "email", Reason: "enter a valid email address"}
	}
	return c, checkLengths(
		fieldLimit{"name", c.Name, 100},
		fieldLimit{"email", c.Email, 254},
		fieldLimit{"phone", c.Phone, 15},
		fieldLimit{"division", c.Division, 50},
		fieldLimit{"state", c.State, 50},
		fieldLimit{"zipcode", c.Zipcode, 10},
	)
}

func validatePayment(p Payment) error {
	f := Fields(p)
	return checkLengths(
		fieldLimit{"payment_method", p.Method(), 20},
		fieldLimit{"account_no", f.AccountNo, 20},
		fieldLimit{"cvv", f.CVV, 5},
		fieldLimit{"expiry_date", f.Expiry, 10},
		fieldLimit{"sort_code", f.SortCode, 10},
		fieldLimit{"paypal_id", f.PaypalID, 100},
	)
}

// fieldLimit is the column width of a stored order field, in characters.
type fieldLimit struct {
	field string
	value string
	max   int
}

func checkLengths(limits ...fieldLimit) error {
	for _, l := range limits {
		if utf8.RuneCountInString(l.value) > l.max {
			return &ValidationError{Field: l.field, Reason: fmt.Sprintf("at most %d characters", l.max)}
		}
	}
	return nil
}

func visible(o *Order, actor Actor) bool {
	if o.UserID == nil {
		return slices.Contains(actor.GuestOrders, o.ID)
	}
	return actor.UserID != nil && *actor.UserID == *o.UserID
}
