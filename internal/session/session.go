// Package session provides server-side session state keyed by an opaque
// session identifier. Values are raw bytes; callers own their encoding.
package session

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrNoValue is returned by Get when the session or key does not exist.
var ErrNoValue = errors.New("session value not found")

// Well-known session keys.
const (
	KeyUserID = "user_id"
	// KeyGuestOrders holds the ids of guest orders placed from the session.
	KeyGuestOrders = "guest_orders"
)

// Store is a per-session key/value store. Every write refreshes the session
// expiry. Concurrent writers to the same key follow last-writer-wins.
type Store interface {
	Get(ctx context.Context, id, key string) ([]byte, error)
	Set(ctx context.Context, id, key string, value []byte) error
	Delete(ctx context.Context, id string, keys ...string) error
	// Destroy removes every key of the session.
	Destroy(ctx context.Context, id string) error
}

// NewID returns a fresh random session identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like a session identifier issued by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
