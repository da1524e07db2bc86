// Package handler implements the bookstore HTTP surface: storefront pages,
// the JSON cart and order endpoints, and account forms.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/bookstore/internal/domain/auth"
	"github.com/xenking/bookstore/internal/domain/cart"
	"github.com/xenking/bookstore/internal/domain/catalog"
	"github.com/xenking/bookstore/internal/domain/order"
	"github.com/xenking/bookstore/internal/domain/review"
	"github.com/xenking/bookstore/internal/session"
	"github.com/xenking/bookstore/internal/web"
	"github.com/xenking/bookstore/pkg/httpmiddleware"
)

const meterName = "github.com/xenking/bookstore/internal/handler"

// Config holds non-dependency configuration for the Handler.
type Config struct {
	CookieName   string
	CookieSecure bool
	SessionTTL   time.Duration
	// MaxUploadBytes limits the multipart body of return requests.
	MaxUploadBytes int64
}

// Services are the domain services behind the HTTP surface.
type Services struct {
	Catalog  *catalog.Service
	Cart     *cart.Service
	Orders   *order.Service
	Reviews  *review.Service
	Accounts *auth.Service
	Sessions session.Store
}

type metrics struct {
	ordersPlaced metric.Int64Counter
	transitions  metric.Int64Counter
	cartAdds     metric.Int64Counter
}

// Handler serves every bookstore route.
type Handler struct {
	catalog  *catalog.Service
	carts    *cart.Service
	orders   *order.Service
	reviews  *review.Service
	accounts *auth.Service
	sessions session.Store
	pages    *web.Renderer
	cfg      Config
	metrics  metrics
}

// NewHandler constructs a Handler and registers its counters on mp.
func NewHandler(cfg Config, svc Services, pages *web.Renderer, mp metric.MeterProvider) (*Handler, error) {
	if cfg.CookieName == "" {
		cfg.CookieName = "sessionid"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 14 * 24 * time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = order.DefaultMaxAttachment
	}

	meter := mp.Meter(meterName)
	var (
		m   metrics
		err error
	)
	if m.ordersPlaced, err = meter.Int64Counter("bookstore.orders.placed",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders placed counter")
	}
	if m.transitions, err = meter.Int64Counter("bookstore.orders.transitions",
		metric.WithDescription("Order status transitions by target status"),
	); err != nil {
		return nil, errors.Wrap(err, "transitions counter")
	}
	if m.cartAdds, err = meter.Int64Counter("bookstore.cart.adds",
		metric.WithDescription("Books added to session carts"),
	); err != nil {
		return nil, errors.Wrap(err, "cart adds counter")
	}

	return &Handler{
		catalog:  svc.Catalog,
		carts:    svc.Cart,
		orders:   svc.Orders,
		reviews:  svc.Reviews,
		accounts: svc.Accounts,
		sessions: svc.Sessions,
		pages:    pages,
		cfg:      cfg,
		metrics:  m,
	}, nil
}

// Routes registers the storefront and account routes on r. Admin routes are
// mounted separately by Admin because they sit behind an API key.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.withSession, h.withUser)

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/bookstore/home/", http.StatusFound)
		})

		r.Route("/bookstore", func(r chi.Router) {
			r.Get("/home/", h.home)
			r.Get("/search/", h.search)
			r.Get("/category/", h.category)
			r.Get("/category/{categoryID}/", h.category)
			r.Get("/{bookID}/", h.detail)
			r.Get("/get-cart-books/", h.cartBooks)

			r.Get("/cart/", h.cartPage)
			r.Post("/cart/add/{bookID}/", h.addToCart)
			r.Post("/cart/session/", h.saveCart)
			r.Post("/cart/summary/", h.saveSummary)
			r.Get("/cart/summary/", h.getSummary)
			r.Get("/checkout/", h.checkout)

			r.Post("/place_order/", h.placeOrder)
			r.Get("/order-details/", h.orderDetails)
			r.Get("/transaction/", h.transaction)

			r.Get("/orders/", h.requireUser(h.myOrders))
			r.Get("/orders/{orderID}/status/", h.statusPage)
			r.Get("/orders/{orderID}/status.json", h.statusJSON)
			r.Post("/orders/{orderID}/cancel/", h.cancelOrder)
			r.Get("/orders/{orderID}/cancelled/", h.cancelledPage)
			r.Post("/orders/{orderID}/return/", h.requestReturn)
			r.Get("/orders/{orderID}/returned/", h.returnedPage)
			r.Get("/orders/{orderID}/review/", h.requireUser(h.writeReview))
			r.Post("/orders/{orderID}/review/", h.requireUser(h.submitReview))
		})

		r.Get("/register/", h.registerForm)
		r.Post("/register/", h.register)
		r.Get("/login/", h.loginForm)
		r.Post("/login/", h.login)
		r.Get("/logout/", h.logout)
		r.Post("/logout/", h.logout)
		r.Get("/forgot-password/", h.forgotForm)
		r.Post("/forgot-password/", h.forgotPassword)
		r.Get("/reset-password/{uid}/{token}/", h.resetForm)
		r.Post("/reset-password/{uid}/{token}/", h.resetPassword)
	})
}

// Admin registers staff routes guarded by an API key.
func (h *Handler) Admin(r chi.Router, verify httpmiddleware.KeyVerifier) {
	r.Group(func(r chi.Router) {
		r.Use(httpmiddleware.RequireAPIKey(verify))
		r.Patch("/admin/orders/{orderID}/status", h.advanceOrder)
	})
}
