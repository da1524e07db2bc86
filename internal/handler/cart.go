package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/bookstore/internal/domain/cart"
	"github.com/xenking/bookstore/internal/domain/catalog"
	"github.com/xenking/bookstore/internal/web"
)

// maxJSONBody limits the cart and order payloads.
const maxJSONBody = 1 << 20

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		return nil, &cart.PayloadError{Err: errors.Wrap(err, "read body")}
	}
	return body, nil
}

func (h *Handler) cartPage(w http.ResponseWriter, r *http.Request) {
	view, err := h.carts.Checkout(r.Context(), sessionID(r.Context()))
	if err != nil {
		h.failPage(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, web.PageCart, web.View{Title: "Cart", Data: view})
}

func (h *Handler) addToCart(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "bookID")
	if !ok {
		fail(w, r, catalog.ErrNotFound)
		return
	}
	ctx := r.Context()
	sum, err := h.carts.AddToCart(ctx, sessionID(ctx), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.metrics.cartAdds.Add(ctx, 1)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeSummary(e, *sum)
	})
}

func (h *Handler) saveCart(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	ctx := r.Context()
	c, err := h.carts.SaveCart(ctx, sessionID(ctx), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("cart")
		e.Raw(cart.Encode(c))
	})
}

func (h *Handler) saveSummary(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	ctx := r.Context()
	sum, err := h.carts.SaveSummary(ctx, sessionID(ctx), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeSummary(e, *sum)
	})
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sum, err := h.carts.GetSummary(ctx, sessionID(ctx))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeSummary(e, *sum)
	})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.carts.Checkout(ctx, sessionID(ctx))
	if err != nil {
		h.failPage(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, web.PageCheckout, web.View{Title: "Checkout", Data: view})
}
