package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/bookstore/internal/domain/cart"
	"github.com/xenking/bookstore/internal/domain/order"
	"github.com/xenking/bookstore/internal/web"
)

// placeOrderPayload is the decoded place_order body. Cart is nil when the
// client did not send one and the session cart should be used.
type placeOrderPayload struct {
	req  order.PlaceOrderRequest
	cart []byte
}

// decodePlaceOrder reads the checkout form. Text fields may be strings or
// numbers; unknown fields, including the client's total_price, are ignored.
func decodePlaceOrder(data []byte) (*placeOrderPayload, error) {
	var p placeOrderPayload
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, errors.New("order payload must be an object")
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var dst *string
		switch string(key) {
		case "name":
			dst = &p.req.Name
		case "email":
			dst = &p.req.Email
		case "phone":
			dst = &p.req.Phone
		case "address":
			dst = &p.req.Address
		case "division":
			dst = &p.req.Division
		case "state":
			dst = &p.req.State
		case "zipcode":
			dst = &p.req.Zipcode
		case "payment_method":
			dst = &p.req.PaymentMethod
		case "account_no":
			dst = &p.req.PaymentFields.AccountNo
		case "cvv":
			dst = &p.req.PaymentFields.CVV
		case "expiry_date":
			dst = &p.req.PaymentFields.Expiry
		case "sort_code":
			dst = &p.req.PaymentFields.SortCode
		case "paypal_id":
			dst = &p.req.PaymentFields.PaypalID
		case "cart":
			raw, err := d.Raw()
			if err != nil {
				return errors.Wrap(err, "cart")
			}
			p.cart = append([]byte(nil), raw...)
			return nil
		default:
			return d.Skip()
		}
		return decodeText(d, dst)
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &p, nil
}

func decodeText(d *jx.Decoder, dst *string) error {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		*dst = s
		return err
	case jx.Number:
		n, err := d.Num()
		*dst = n.String()
		return err
	case jx.Null:
		return d.Null()
	default:
		return errors.Errorf("unexpected %s", d.Next())
	}
}

// decodeField returns one string field of a JSON object body, or "" when it
// is absent.
func decodeField(data []byte, field string) (string, error) {
	var out string
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return "", errors.New("payload must be an object")
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != field {
			return d.Skip()
		}
		return decodeText(d, &out)
	})
	return out, err
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := decodePlaceOrder(body)
	if err != nil {
		fail(w, r, &cart.PayloadError{Err: err})
		return
	}

	ctx := r.Context()
	sid := sessionID(ctx)
	req := p.req
	req.UserID = actor(ctx)
	if p.cart != nil {
		decoded, err := cart.Decode(p.cart)
		if err != nil {
			fail(w, r, &cart.PayloadError{Err: err})
			return
		}
		req.Cart = decoded.Cart
		req.UnknownBookIDs = decoded.Rejected
		// Keep non-positive quantities so placement rejects them.
		for _, id := range decoded.Dropped {
			if _, ok := req.Cart[id]; !ok {
				req.Cart[id] = 0
			}
		}
	} else {
		if req.Cart, err = h.carts.Cart(ctx, sid); err != nil {
			fail(w, r, err)
			return
		}
	}

	o, err := h.orders.PlaceOrder(ctx, req)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.metrics.ordersPlaced.Add(ctx, 1)

	// The order is already committed, so session failures are only logged.
	if err := h.carts.Clear(ctx, sid); err != nil {
		logError(ctx, "Clear cart after order", err)
	}
	if o.UserID == nil {
		if err := h.rememberGuestOrder(ctx, sid, o.ID); err != nil {
			logError(ctx, "Remember guest order", err)
		}
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("order_id")
		e.Int64(o.ID)
	})
}

// loadOrder resolves the order visible to the current session from the
// order_id query value or the orderID route parameter.
func (h *Handler) loadOrder(r *http.Request) (*order.Order, error) {
	id, ok := idParam(r, "orderID")
	if !ok {
		if id, ok = parseID(r.URL.Query().Get("order_id")); !ok {
			return nil, order.ErrNotFound
		}
	}
	return h.orders.Get(r.Context(), id, h.orderActor(r.Context()))
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) orderDetails(w http.ResponseWriter, r *http.Request) {
	o, err := h.loadOrder(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

func (h *Handler) statusJSON(w http.ResponseWriter, r *http.Request) {
	h.orderDetails(w, r)
}

func (h *Handler) transaction(w http.ResponseWriter, r *http.Request) {
	v := web.View{Title: "Order confirmation"}
	if r.URL.Query().Get("order_id") != "" {
		o, err := h.loadOrder(r)
		switch {
		case err == nil:
			v.Data = o
		case !errors.Is(err, order.ErrNotFound):
			h.failPage(w, r, err)
			return
		}
	}
	h.render(w, r, http.StatusOK, web.PageTransaction, v)
}

func (h *Handler) myOrders(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	orders, err := h.orders.ListForUser(r.Context(), u.ID)
	if err != nil {
		h.failPage(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, web.PageOrders, web.View{Title: "My orders", Data: orders})
}

func (h *Handler) statusPage(w http.ResponseWriter, r *http.Request) {
	h.orderPage(w, r, web.PageStatus, "")
}

func (h *Handler) cancelledPage(w http.ResponseWriter, r *http.Request) {
	h.orderPage(w, r, web.PageCancelled, order.StatusCancelled)
}

func (h *Handler) returnedPage(w http.ResponseWriter, r *http.Request) {
	h.orderPage(w, r, web.PageReturned, order.StatusReturnRequested)
}

// orderPage renders page for the order. When want is set and the order is
// in another status, the client is sent to the status page instead.
func (h *Handler) orderPage(w http.ResponseWriter, r *http.Request, page string, want order.Status) {
	o, err := h.loadOrder(r)
	if err != nil {
		h.failPage(w, r, err)
		return
	}
	if want != "" && o.Status != want {
		http.Redirect(w, r, statusURL(o.ID), http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, page, web.View{Title: "Order #" + strconv.FormatInt(o.ID, 10), Data: o})
}

func statusURL(id int64) string {
	return "/bookstore/orders/" + strconv.FormatInt(id, 10) + "/status/"
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "orderID")
	if !ok {
		fail(w, r, order.ErrNotFound)
		return
	}
	reason, err := formOrJSONField(w, r, "reason")
	if err != nil {
		fail(w, r, err)
		return
	}

	ctx := r.Context()
	o, err := h.orders.Cancel(ctx, id, reason, h.orderActor(ctx))
	if err != nil {
		fail(w, r, err)
		return
	}
	h.countTransition(ctx, o.Status)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("order_id")
		e.Int64(o.ID)
		e.FieldStart("status")
		e.Str(string(o.Status))
	})
}

// formOrJSONField reads field from a JSON object body or from form values.
// An empty body yields an empty value.
func formOrJSONField(w http.ResponseWriter, r *http.Request, field string) (string, error) {
	if !wantsJSON(r) {
		return r.FormValue(field), nil
	}
	body, err := readBody(w, r)
	if err != nil || len(body) == 0 {
		return "", err
	}
	v, err := decodeField(body, field)
	if err != nil {
		return "", &cart.PayloadError{Err: err}
	}
	return v, nil
}

func (h *Handler) requestReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "orderID")
	if !ok {
		h.failFor(w, r, order.ErrNotFound)
		return
	}
	req, err := h.readReturnForm(w, r)
	if err != nil {
		h.failFor(w, r, err)
		return
	}

	ctx := r.Context()
	o, err := h.orders.RequestReturn(ctx, id, *req, h.orderActor(ctx))
	if err != nil {
		h.failFor(w, r, err)
		return
	}
	h.countTransition(ctx, o.Status)

	if !wantsJSON(r) {
		http.Redirect(w, r, "/bookstore/orders/"+strconv.FormatInt(o.ID, 10)+"/returned/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("order_id")
		e.Int64(o.ID)
		e.FieldStart("status")
		e.Str(string(o.Status))
	})
}

// readReturnForm parses a multipart or urlencoded return request with an
// optional "attachment" file.
func (h *Handler) readReturnForm(w http.ResponseWriter, r *http.Request) (*order.ReturnRequest, error) {
	// Leave room for the text fields and multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+64<<10)

	err := r.ParseMultipartForm(h.cfg.MaxUploadBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &order.ValidationError{Field: "attachment", Reason: "file is too large"}
		}
		return nil, &cart.PayloadError{Err: errors.Wrap(err, "parse return form")}
	}

	req := &order.ReturnRequest{
		Reason:   r.FormValue("reason"),
		Comments: r.FormValue("comments"),
	}
	if r.MultipartForm == nil {
		return req, nil
	}

	f, hdr, err := r.FormFile("attachment")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return nil, &cart.PayloadError{Err: errors.Wrap(err, "read attachment")}
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "read attachment")
	}
	req.Attachment = &order.Attachment{
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        data,
	}
	return req, nil
}

// advanceOrder moves an order along fulfilment on behalf of staff. The body
// is {"status": "Shipped"}.
func (h *Handler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "orderID")
	if !ok {
		fail(w, r, order.ErrNotFound)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	status, err := decodeField(body, "status")
	if err != nil {
		fail(w, r, &cart.PayloadError{Err: err})
		return
	}

	ctx := r.Context()
	o, err := h.orders.Advance(ctx, id, order.Status(status))
	if err != nil {
		fail(w, r, err)
		return
	}
	h.countTransition(ctx, o.Status)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

func (h *Handler) countTransition(ctx context.Context, to order.Status) {
	h.metrics.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", string(to))))
}

// failFor answers with JSON or plain text depending on the client.
func (h *Handler) failFor(w http.ResponseWriter, r *http.Request, err error) {
	if wantsJSON(r) {
		fail(w, r, err)
		return
	}
	h.failPage(w, r, err)
}
