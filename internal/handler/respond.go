package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/auth"
	"github.com/xenking/bookstore/internal/domain/cart"
	"github.com/xenking/bookstore/internal/domain/catalog"
	"github.com/xenking/bookstore/internal/domain/order"
	"github.com/xenking/bookstore/internal/domain/review"
	"github.com/xenking/bookstore/internal/web"
)

const genericError = "internal server error"

// writeJSON writes a success body: {"success":true, ...fields}.
func writeJSON(w http.ResponseWriter, status int, fields func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	if fields != nil {
		fields(e)
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes {"success":false,"error":msg[,"field":field]}.
func writeError(w http.ResponseWriter, status int, msg, field string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("success")
	e.Bool(false)
	e.FieldStart("error")
	e.Str(msg)
	if field != "" {
		e.FieldStart("field")
		e.Str(field)
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// classify maps a domain error to an HTTP status, a client message and the
// offending field. Unknown errors map to 500 with a generic message.
func classify(err error) (status int, msg, field string) {
	var (
		orderValidation  *order.ValidationError
		reviewValidation *review.ValidationError
		authValidation   *auth.ValidationError
		bookNotFound     *order.BookNotFoundError
		badQuantity      *order.InvalidQuantityError
		badTransition    *order.InvalidTransitionError
		badPayload       *cart.PayloadError
	)
	switch {
	case errors.As(err, &orderValidation):
		return http.StatusBadRequest, orderValidation.Error(), orderValidation.Field
	case errors.As(err, &reviewValidation):
		return http.StatusBadRequest, reviewValidation.Error(), reviewValidation.Field
	case errors.As(err, &authValidation):
		return http.StatusBadRequest, authValidation.Error(), authValidation.Field
	case errors.As(err, &badQuantity):
		return http.StatusBadRequest, badQuantity.Error(), "quantity"
	case errors.As(err, &badPayload):
		return http.StatusBadRequest, badPayload.Error(), ""
	case errors.Is(err, order.ErrEmptyCart):
		return http.StatusBadRequest, err.Error(), ""
	case errors.As(err, &bookNotFound):
		return http.StatusNotFound, bookNotFound.Error(), "book_id"
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, catalog.ErrCategoryNotFound):
		return http.StatusNotFound, err.Error(), ""
	case errors.As(err, &badTransition):
		return http.StatusConflict, badTransition.Error(), ""
	case errors.Is(err, review.ErrNotDelivered):
		return http.StatusConflict, err.Error(), ""
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, err.Error(), "username"
	default:
		return http.StatusInternalServerError, genericError, ""
	}
}

// fail writes a JSON error response for err. Unexpected errors are logged.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg, field := classify(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeError(w, status, msg, field)
}

func logError(ctx context.Context, msg string, err error) {
	zctx.From(ctx).Error(msg, zap.Error(err))
}

// render writes an HTML page with the signed-in user filled in.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page string, v web.View) {
	v.User = currentUser(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.pages.Render(w, page, v); err != nil {
		zctx.From(r.Context()).Error("Render page", zap.String("page", page), zap.Error(err))
	}
}

// failPage answers an HTML request that failed with err.
func (h *Handler) failPage(w http.ResponseWriter, r *http.Request, err error) {
	status, msg, _ := classify(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	http.Error(w, msg, status)
}

// wantsJSON reports whether the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// idParam parses a positive integer route parameter.
func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func num(d decimal.Decimal) jx.Num {
	return jx.Num(d.StringFixed(2))
}

func encodeSummary(e *jx.Encoder, s cart.Summary) {
	e.FieldStart("total_items")
	e.Int(s.TotalItems)
	e.FieldStart("subtotal")
	e.Num(num(s.Subtotal))
	e.FieldStart("shipping")
	e.Num(num(s.Shipping))
	e.FieldStart("total")
	e.Num(num(s.Total))
}

func encodeBook(e *jx.Encoder, b catalog.Book) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(b.ID)
	e.FieldStart("title")
	e.Str(b.Title)
	e.FieldStart("author")
	e.Str(b.Author)
	e.FieldStart("price")
	e.Num(num(b.Price))
	e.FieldStart("image")
	e.Str(b.ImageURL)
	e.ObjEnd()
}

// encodeOrder writes the order-details representation of o.
func encodeOrder(e *jx.Encoder, o *order.Order) {
	pf := order.Fields(o.Payment)

	e.FieldStart("order_id")
	e.Int64(o.ID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("name")
	e.Str(o.Name)
	e.FieldStart("phone")
	e.Str(o.Phone)
	e.FieldStart("email")
	e.Str(o.Email)
	e.FieldStart("payment_method")
	e.Str(o.Payment.Method())
	e.FieldStart("account_no")
	e.Str(pf.AccountNo)
	e.FieldStart("paypal_id")
	e.Str(pf.PaypalID)
	e.FieldStart("address")
	e.Str(o.ShippingAddress())
	e.FieldStart("total_price")
	e.Num(num(o.Total))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("book_id")
		e.Int64(it.BookID)
		e.FieldStart("title")
		e.Str(it.Title)
		e.FieldStart("price")
		e.Num(num(it.Price))
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	if o.CancelReason != "" {
		e.FieldStart("cancel_reason")
		e.Str(o.CancelReason)
	}
	if o.ReturnReason != "" {
		e.FieldStart("return_reason")
		e.Str(o.ReturnReason)
	}
}
