package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/auth"
	"github.com/xenking/bookstore/internal/domain/order"
	"github.com/xenking/bookstore/internal/session"
)

type (
	sessionKey struct{}
	userKey    struct{}
)

// withSession resolves the session id from the cookie, starting a new
// session when the cookie is absent or malformed. The cookie is refreshed on
// every response.
func (h *Handler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(h.cfg.CookieName); err == nil && session.ValidID(c.Value) {
			id = c.Value
		} else {
			id = session.NewID()
		}
		h.setSessionCookie(w, id)

		ctx := context.WithValue(r.Context(), sessionKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// withUser loads the signed-in user of the session, if any. A session
// pointing at a deleted user is treated as anonymous.
func (h *Handler) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		u, err := h.loadUser(ctx, sessionID(ctx))
		if err != nil {
			zctx.From(ctx).Warn("Load session user", zap.Error(err))
		}
		if u != nil {
			ctx = context.WithValue(ctx, userKey{}, u)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) loadUser(ctx context.Context, sid string) (*auth.User, error) {
	raw, err := h.sessions.Get(ctx, sid, session.KeyUserID)
	if errors.Is(err, session.ErrNoValue) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get session user")
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse session user")
	}
	u, err := h.accounts.UserByID(ctx, id)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	return u, nil
}

// signIn stores the user in a fresh session so a session id known before
// login cannot be reused. The session cart and guest orders are carried over.
func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, u *auth.User) (string, error) {
	ctx := r.Context()
	old := sessionID(ctx)
	sid := session.NewID()

	c, err := h.carts.Cart(ctx, old)
	if err != nil {
		return "", errors.Wrap(err, "load cart")
	}
	if len(c) > 0 {
		if err := h.carts.Replace(ctx, sid, c); err != nil {
			return "", errors.Wrap(err, "carry cart")
		}
	}
	guest, err := h.guestOrders(ctx, old)
	if err != nil {
		return "", err
	}
	if len(guest) > 0 {
		if err := h.saveGuestOrders(ctx, sid, guest); err != nil {
			return "", errors.Wrap(err, "carry guest orders")
		}
	}
	if err := h.sessions.Set(ctx, sid, session.KeyUserID, []byte(strconv.FormatInt(u.ID, 10))); err != nil {
		return "", errors.Wrap(err, "store session user")
	}
	if err := h.sessions.Destroy(ctx, old); err != nil {
		return "", errors.Wrap(err, "destroy old session")
	}
	h.setSessionCookie(w, sid)
	return sid, nil
}

func sessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

func currentUser(ctx context.Context) *auth.User {
	u, _ := ctx.Value(userKey{}).(*auth.User)
	return u
}

// actor returns the id of the signed-in user, or nil for guests.
func actor(ctx context.Context) *int64 {
	if u := currentUser(ctx); u != nil {
		return &u.ID
	}
	return nil
}

// maxGuestOrders bounds the guest order ids kept per session. The oldest
// are dropped first.
const maxGuestOrders = 50

// guestOrders returns the guest orders placed from session sid.
func (h *Handler) guestOrders(ctx context.Context, sid string) ([]int64, error) {
	raw, err := h.sessions.Get(ctx, sid, session.KeyGuestOrders)
	if errors.Is(err, session.ErrNoValue) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get guest orders")
	}
	var ids []int64
	if err := jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		id, err := d.Int64()
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode guest orders")
	}
	return ids, nil
}

func (h *Handler) saveGuestOrders(ctx context.Context, sid string, ids []int64) error {
	if len(ids) > maxGuestOrders {
		ids = ids[len(ids)-maxGuestOrders:]
	}
	var e jx.Encoder
	e.ArrStart()
	for _, id := range ids {
		e.Int64(id)
	}
	e.ArrEnd()
	return h.sessions.Set(ctx, sid, session.KeyGuestOrders, e.Bytes())
}

// rememberGuestOrder grants session sid access to the guest order id.
func (h *Handler) rememberGuestOrder(ctx context.Context, sid string, id int64) error {
	ids, err := h.guestOrders(ctx, sid)
	if err != nil {
		return err
	}
	return h.saveGuestOrders(ctx, sid, append(ids, id))
}

// orderActor describes the caller for order lifecycle operations. A session
// whose guest order list cannot be read only sees its user's orders.
func (h *Handler) orderActor(ctx context.Context) order.Actor {
	a := order.Actor{UserID: actor(ctx)}
	ids, err := h.guestOrders(ctx, sessionID(ctx))
	if err != nil {
		logError(ctx, "Load guest orders", err)
	}
	a.GuestOrders = ids
	return a
}

// requireUser redirects guests to the login page. JSON clients get 401.
func (h *Handler) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r.Context()) != nil {
			next(w, r)
			return
		}
		if wantsJSON(r) {
			writeError(w, http.StatusUnauthorized, "authentication required", "")
			return
		}
		http.Redirect(w, r, "/login/?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
	}
}
