package order

import "github.com/go-faster/errors"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusConfirmed       Status = "Confirmed"
	StatusShipped         Status = "Shipped"
	StatusDelivered       Status = "Delivered"
	StatusCancelled       Status = "Cancelled"
	StatusReturnRequested Status = "Return Requested"
)

// validNext lists the allowed transitions. Statuses with no entries are
// terminal.
var validNext = map[Status]map[Status]bool{
	StatusConfirmed:       {StatusShipped: true, StatusCancelled: true},
	StatusShipped:         {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:       {StatusReturnRequested: true},
	StatusCancelled:       {},
	StatusReturnRequested: {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Reviewable reports whether the order has been delivered, which is the gate
// for writing reviews. A later return request does not revoke it.
func (s Status) Reviewable() bool {
	return s == StatusDelivered || s == StatusReturnRequested
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", errors.Errorf("unknown order status %q", s)
	}
	return st, nil
}
