// Package events publishes order events to Kafka.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/bookstore/internal/domain/order"
)

// Producer is the value of the producer field of every envelope.
const Producer = "bookstore-api"

// EventVersion is the envelope schema version.
const EventVersion = 1

var _ order.Publisher = Noop{}

// Noop discards events. It is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, order.Event) error { return nil }

// PartitionKey keys messages by order so that events of one order keep their
// relative order.
func PartitionKey(orderID int64) []byte {
	return strconv.AppendInt(nil, orderID, 10)
}

// Encode renders e as a JSON envelope.
func Encode(e order.Event) []byte {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("event_id")
	w.Str(e.ID)
	w.FieldStart("event_type")
	w.Str(string(e.Type))
	w.FieldStart("event_version")
	w.Int(EventVersion)
	w.FieldStart("occurred_at")
	w.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano))
	w.FieldStart("producer")
	w.Str(Producer)
	w.FieldStart("correlation_id")
	w.Str(strconv.FormatInt(e.OrderID, 10))

	w.FieldStart("payload")
	w.ObjStart()
	w.FieldStart("order_id")
	w.Int64(e.OrderID)
	if e.UserID != nil {
		w.FieldStart("user_id")
		w.Int64(*e.UserID)
	}
	if e.From != "" {
		w.FieldStart("from")
		w.Str(string(e.From))
	}
	w.FieldStart("status")
	w.Str(string(e.Status))
	w.FieldStart("total")
	w.Str(e.Total.StringFixed(2))
	if e.Reason != "" {
		w.FieldStart("reason")
		w.Str(e.Reason)
	}
	w.ObjEnd()

	w.ObjEnd()
	return w.Bytes()
}
