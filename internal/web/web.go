// Package web renders the storefront HTML pages.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore/internal/domain/auth"
)

//go:embed templates/*.html
var templates embed.FS

// Page names.
const (
	PageBooks       = "books"
	PageDetail      = "detail"
	PageCategory    = "category"
	PageCart        = "cart"
	PageCheckout    = "checkout"
	PageTransaction = "transaction"
	PageOrders      = "orders"
	PageStatus      = "status"
	PageCancelled   = "cancelled"
	PageReturned    = "returned"
	PageReview      = "review"
	PageRegister    = "register"
	PageLogin       = "login"
	PageForgot      = "forgot"
	PageForgotDone  = "forgot_done"
	PageReset       = "reset"
)

var pages = []string{
	PageBooks, PageDetail, PageCategory, PageCart, PageCheckout, PageTransaction,
	PageOrders, PageStatus, PageCancelled, PageReturned, PageReview,
	PageRegister, PageLogin, PageForgot, PageForgotDone, PageReset,
}

// View is the data every page is rendered with.
type View struct {
	Title string
	// User is the signed-in user, nil for guests.
	User *auth.User
	// Error is shown above forms; ErrorField names the offending input.
	Error      string
	ErrorField string
	// Form holds submitted values to re-populate a form.
	Form map[string]string
	Data any
}

// Renderer executes the embedded page templates.
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses every page together with the shared layout.
func NewRenderer() (*Renderer, error) {
	funcs := template.FuncMap{
		"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
		"date":  func(t time.Time) string { return t.Format("Jan 2, 2006 15:04") },
		"add":   func(a, b int) int { return a + b },
		"stars": func(n int) []struct{} { return make([]struct{}, max(n, 0)) },
	}

	r := &Renderer{pages: make(map[string]*template.Template, len(pages))}
	for _, name := range pages {
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templates,
			"templates/layout.html",
			"templates/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parse page %q: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Render writes the page to w. Output is buffered so a failing template
// never produces a partial page.
func (r *Renderer) Render(w io.Writer, page string, v View) error {
	t, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", v); err != nil {
		return fmt.Errorf("render page %q: %w", page, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
