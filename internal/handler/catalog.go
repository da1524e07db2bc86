package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/bookstore/internal/domain/catalog"
	"github.com/xenking/bookstore/internal/domain/review"
	"github.com/xenking/bookstore/internal/web"
)

type detailData struct {
	Book    *catalog.Book
	Reviews []review.Review
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.Home(r.Context())
	if err != nil {
		h.failPage(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, web.PageBooks, web.View{
		Title: "Home",
		Data:  &catalog.Page{Books: books, Number: 1, TotalPages: 1, Total: len(books)},
	})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.catalog.Search(r.Context(), q.Get("book_name"), q.Get("page"))
	if err != nil {
		h.failPage(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, web.PageBooks, web.View{Title: "Search", Data: page})
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "bookID")
	if !ok {
		h.failPage(w, r, catalog.ErrNotFound)
		return
	}
	ctx := r.Context()
	book, err := h.catalog.Book(ctx, id)
	if err != nil {
		h.failPage(w, r, err)
		return
	}
	reviews, err := h.reviews.ForBook(ctx, id)
	if err != nil {
		h.failPage(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, web.PageDetail, web.View{
		Title: book.Title,
		Data:  detailData{Book: book, Reviews: reviews},
	})
}

func (h *Handler) category(w http.ResponseWriter, r *http.Request) {
	var categoryID *int64
	if chi.URLParam(r, "categoryID") != "" {
		id, ok := idParam(r, "categoryID")
		if !ok {
			h.failPage(w, r, catalog.ErrCategoryNotFound)
			return
		}
		categoryID = &id
	}
	view, err := h.catalog.BooksByCategory(r.Context(), categoryID)
	if err != nil {
		h.failPage(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, web.PageCategory, web.View{Title: view.Label, Data: view})
}

// cartBooks answers get-cart-books?ids=1,2,3. Malformed ids are ignored.
func (h *Handler) cartBooks(w http.ResponseWriter, r *http.Request) {
	var ids []int64
	for _, raw := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	books, err := h.catalog.CartBooks(r.Context(), ids)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("books")
		e.ArrStart()
		for _, b := range books {
			encodeBook(e, b)
		}
		e.ArrEnd()
	})
}
