package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/order"
)

func testEvent() order.Event {
	uid := int64(7)
	return order.Event{
		ID:         "0b7d2c7e-5f0c-4a40-9d55-5b4f3f3b8f10",
		Type:       order.EventOrderCancelled,
		OrderID:    42,
		UserID:     &uid,
		From:       order.StatusConfirmed,
		Status:     order.StatusCancelled,
		Total:      decimal.RequireFromString("25"),
		Reason:     "changed mind",
		OccurredAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEncode(t *testing.T) {
	fields := map[string]string{}
	payload := map[string]string{}

	d := jx.DecodeBytes(Encode(testEvent()))
	require.NoError(t, d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) == "payload" {
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				raw, err := d.Raw()
				payload[string(key)] = raw.String()
				return err
			})
		}
		raw, err := d.Raw()
		fields[string(key)] = raw.String()
		return err
	}))

	assert.Equal(t, `"OrderCancelled"`, fields["event_type"])
	assert.Equal(t, `1`, fields["event_version"])
	assert.Equal(t, `"2024-05-01T10:00:00Z"`, fields["occurred_at"])
	assert.Equal(t, `"42"`, fields["correlation_id"])
	assert.Equal(t, `"bookstore-api"`, fields["producer"])

	assert.Equal(t, `42`, payload["order_id"])
	assert.Equal(t, `7`, payload["user_id"])
	assert.Equal(t, `"Confirmed"`, payload["from"])
	assert.Equal(t, `"Cancelled"`, payload["status"])
	assert.Equal(t, `"25.00"`, payload["total"])
	assert.Equal(t, `"changed mind"`, payload["reason"])
}

func TestEncode_OmitsEmptyOptionalFields(t *testing.T) {
	e := testEvent()
	e.UserID = nil
	e.From = ""
	e.Reason = ""

	out := string(Encode(e))
	assert.NotContains(t, out, "user_id")
	assert.NotContains(t, out, `"from"`)
	assert.NotContains(t, out, "reason")
}

func TestKafkaPublisher_BufferFull(t *testing.T) {
	p := NewKafkaPublisher(zap.NewNop(), []string{"localhost:9092"}, "orders", 1)

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.ErrorIs(t, p.Publish(context.Background(), testEvent()), ErrBufferFull)

	m := <-p.inbox
	assert.Equal(t, []byte("42"), m.Key)
	assert.Equal(t, "event_type", m.Headers[0].Key)
}

func TestNoop(t *testing.T) {
	require.NoError(t, Noop{}.Publish(context.Background(), testEvent()))
}
