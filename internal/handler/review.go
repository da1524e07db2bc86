package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/bookstore/internal/domain/cart"
	"github.com/xenking/bookstore/internal/domain/order"
	"github.com/xenking/bookstore/internal/domain/review"
	"github.com/xenking/bookstore/internal/web"
)

type reviewData struct {
	Order         *order.Order
	Ratings       []int
	DefaultRating int
}

func newReviewData(o *order.Order) reviewData {
	ratings := make([]int, 0, review.MaxRating-review.MinRating+1)
	for i := review.MinRating; i <= review.MaxRating; i++ {
		ratings = append(ratings, i)
	}
	return reviewData{Order: o, Ratings: ratings, DefaultRating: review.DefaultRating}
}

func (h *Handler) writeReview(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "orderID")
	if !ok {
		h.failPage(w, r, order.ErrNotFound)
		return
	}
	ctx := r.Context()
	o, err := h.reviews.WriteForm(ctx, id, currentUser(ctx).ID)
	if err != nil {
		h.failPage(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, web.PageReview, web.View{Title: "Write a review", Data: newReviewData(o)})
}

// reviewForm holds the raw submitted review fields.
type reviewForm struct {
	bookID string
	text   string
	rating string
}

func (h *Handler) readReviewForm(w http.ResponseWriter, r *http.Request) (reviewForm, error) {
	if !wantsJSON(r) {
		return reviewForm{
			bookID: r.FormValue("book_id"),
			text:   r.FormValue("review_text"),
			rating: r.FormValue("rating"),
		}, nil
	}

	var f reviewForm
	body, err := readBody(w, r)
	if err != nil {
		return f, err
	}
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return f, &cart.PayloadError{Err: errors.New("review payload must be an object")}
	}
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "book_id":
			return decodeText(d, &f.bookID)
		case "review_text":
			return decodeText(d, &f.text)
		case "rating":
			return decodeText(d, &f.rating)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return f, &cart.PayloadError{Err: errors.Wrap(err, "decode review")}
	}
	return f, nil
}

// request converts the form to a SubmitRequest. An empty rating selects the
// default.
func (f reviewForm) request(orderID, userID int64) (review.SubmitRequest, error) {
	req := review.SubmitRequest{OrderID: orderID, UserID: userID, Text: f.text}

	bookID, ok := parseID(strings.TrimSpace(f.bookID))
	if !ok {
		return req, &review.ValidationError{Field: "book_id", Reason: "select a book"}
	}
	req.BookID = bookID

	if raw := strings.TrimSpace(f.rating); raw != "" {
		rating, err := strconv.Atoi(raw)
		if err != nil {
			return req, &review.ValidationError{Field: "rating", Reason: "enter a whole number"}
		}
		req.Rating = &rating
	}
	return req, nil
}

func (h *Handler) submitReview(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "orderID")
	if !ok {
		h.failFor(w, r, order.ErrNotFound)
		return
	}
	f, err := h.readReviewForm(w, r)
	if err != nil {
		h.failFor(w, r, err)
		return
	}

	ctx := r.Context()
	user := currentUser(ctx)
	req, err := f.request(id, user.ID)
	if err == nil {
		_, err = h.reviews.Submit(ctx, req)
	}
	if err != nil {
		h.reviewFailed(w, r, id, f, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
			e.FieldStart("book_id")
			e.Int64(req.BookID)
		})
		return
	}
	http.Redirect(w, r, "/bookstore/"+strconv.FormatInt(req.BookID, 10)+"/", http.StatusSeeOther)
}

// reviewFailed re-renders the review form for validation errors of HTML
// clients and answers every other failure as usual.
func (h *Handler) reviewFailed(w http.ResponseWriter, r *http.Request, orderID int64, f reviewForm, err error) {
	var invalid *review.ValidationError
	if wantsJSON(r) || !errors.As(err, &invalid) {
		h.failFor(w, r, err)
		return
	}
	ctx := r.Context()
	o, loadErr := h.reviews.WriteForm(ctx, orderID, currentUser(ctx).ID)
	if loadErr != nil {
		h.failPage(w, r, loadErr)
		return
	}
	h.render(w, r, http.StatusBadRequest, web.PageReview, web.View{
		Title:      "Write a review",
		Error:      invalid.Error(),
		ErrorField: invalid.Field,
		Form:       map[string]string{"review_text": f.text},
		Data:       newReviewData(o),
	})
}
