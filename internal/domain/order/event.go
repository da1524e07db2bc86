package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names an order event.
type EventType string

const (
	EventOrderPlaced          EventType = "OrderPlaced"
	EventOrderCancelled       EventType = "OrderCancelled"
	EventOrderReturnRequested EventType = "OrderReturnRequested"
	EventOrderStatusChanged   EventType = "OrderStatusChanged"
)

// Event is emitted after an order change has been committed.
type Event struct {
	ID         string
	Type       EventType
	OrderID    int64
	UserID     *int64
	From       Status
	Status     Status
	Total      decimal.Decimal
	Reason     string
	OccurredAt time.Time
}

// Publisher delivers order events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
