package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/bookstore/internal/session"
)

// Session keys holding cart state.
const (
	keyCart    = "cart"
	keySummary = "cart_summary"
)

// Store persists cart state per session. Load returns an empty cart and
// LoadSummary returns (nil, nil) when nothing was saved yet.
type Store interface {
	Load(ctx context.Context, sessionID string) (Cart, error)
	Save(ctx context.Context, sessionID string, c Cart) error
	LoadSummary(ctx context.Context, sessionID string) (*Summary, error)
	SaveSummary(ctx context.Context, sessionID string, s Summary) error
	// Clear drops the cart and its cached summary.
	Clear(ctx context.Context, sessionID string) error
}

var _ Store = (*SessionStore)(nil)

// SessionStore keeps the cart in a generic session store.
type SessionStore struct {
	sessions session.Store
}

// NewSessionStore returns a Store backed by sessions.
func NewSessionStore(sessions session.Store) *SessionStore {
	return &SessionStore{sessions: sessions}
}

func (s *SessionStore) Load(ctx context.Context, sessionID string) (Cart, error) {
	raw, err := s.sessions.Get(ctx, sessionID, keyCart)
	if err != nil {
		if errors.Is(err, session.ErrNoValue) {
			return Cart{}, nil
		}
		return nil, fmt.Errorf("loading cart: %w", err)
	}
	d, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("loading cart: %w", err)
	}
	return d.Cart, nil
}

func (s *SessionStore) Save(ctx context.Context, sessionID string, c Cart) error {
	if err := s.sessions.Set(ctx, sessionID, keyCart, Encode(c)); err != nil {
		return fmt.Errorf("saving cart: %w", err)
	}
	return nil
}

func (s *SessionStore) LoadSummary(ctx context.Context, sessionID string) (*Summary, error) {
	raw, err := s.sessions.Get(ctx, sessionID, keySummary)
	if err != nil {
		if errors.Is(err, session.ErrNoValue) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading cart summary: %w", err)
	}
	sum, err := DecodeSummary(raw)
	if err != nil {
		return nil, fmt.Errorf("loading cart summary: %w", err)
	}
	return &sum, nil
}

func (s *SessionStore) SaveSummary(ctx context.Context, sessionID string, sum Summary) error {
	if err := s.sessions.Set(ctx, sessionID, keySummary, EncodeSummary(sum)); err != nil {
		return fmt.Errorf("saving cart summary: %w", err)
	}
	return nil
}

func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID, keyCart, keySummary); err != nil {
		return fmt.Errorf("clearing cart: %w", err)
	}
	return nil
}
