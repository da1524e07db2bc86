package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/bookstore/internal/domain/auth"
	"github.com/xenking/bookstore/internal/domain/cart"
	"github.com/xenking/bookstore/internal/domain/catalog"
	"github.com/xenking/bookstore/internal/domain/order"
	"github.com/xenking/bookstore/internal/domain/review"
	"github.com/xenking/bookstore/internal/session"
	"github.com/xenking/bookstore/internal/web"
)

// --- Mock implementations ---

type mockBooks struct {
	books      []catalog.Book
	categories []catalog.Category
}

func (m *mockBooks) List(context.Context) ([]catalog.Book, error) {
	return m.books, nil
}

func (m *mockBooks) GetByID(_ context.Context, id int64) (*catalog.Book, error) {
	for _, b := range m.books {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (m *mockBooks) GetByIDs(_ context.Context, ids []int64) ([]catalog.Book, error) {
	idx := catalog.Index(m.books)
	var out []catalog.Book
	for _, id := range ids {
		if b, ok := idx[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockBooks) Search(_ context.Context, query string, limit, offset int) ([]catalog.Book, int, error) {
	var matched []catalog.Book
	for _, b := range m.books {
		if strings.Contains(strings.ToLower(b.Title), strings.ToLower(query)) {
			matched = append(matched, b)
		}
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	return matched[offset:min(offset+limit, total)], total, nil
}

func (m *mockBooks) ListByCategory(_ context.Context, categoryID int64) ([]catalog.Book, error) {
	var out []catalog.Book
	for _, b := range m.books {
		if b.CategoryID != nil && *b.CategoryID == categoryID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockBooks) Categories(context.Context) ([]catalog.Category, error) {
	return m.categories, nil
}

func (m *mockBooks) GetCategory(_ context.Context, id int64) (*catalog.Category, error) {
	for _, c := range m.categories {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, catalog.ErrCategoryNotFound
}

type mockOrders struct {
	mu     sync.Mutex
	orders map[int64]*order.Order
	nextID int64
}

func (m *mockOrders) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrders) GetByID(_ context.Context, id int64) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) ListByUser(_ context.Context, userID int64) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for id := m.nextID; id > 0; id-- {
		if o, ok := m.orders[id]; ok && o.UserID != nil && *o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrders) Transition(_ context.Context, id int64, t order.Transition) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Status != t.From {
		return nil, &order.InvalidTransitionError{OrderID: id, From: o.Status, To: t.To}
	}
	o.Status = t.To
	if t.CancelReason != "" {
		o.CancelReason = t.CancelReason
	}
	if t.ReturnReason != "" {
		o.ReturnReason = t.ReturnReason
		o.ReturnComments = t.ReturnComments
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) get(id int64) order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

type mockReviews struct {
	mu      sync.Mutex
	reviews []review.Review
}

func (m *mockReviews) Create(_ context.Context, r *review.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = int64(len(m.reviews) + 1)
	r.CreatedAt = time.Now()
	m.reviews = append(m.reviews, *r)
	return nil
}

func (m *mockReviews) ListByBook(_ context.Context, bookID int64) ([]review.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []review.Review
	for _, r := range m.reviews {
		if r.BookID == bookID {
			out = append(out, r)
		}
	}
	return out, nil
}

// mockProvider keeps accounts in memory with plain-text passwords.
type mockProvider struct {
	mu        sync.Mutex
	users     map[int64]*auth.User
	passwords map[int64]string
	nextID    int64
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		users:     make(map[int64]*auth.User),
		passwords: make(map[int64]string),
	}
}

func (m *mockProvider) Register(_ context.Context, req auth.RegisterRequest) (*auth.User, error) {
	req, err := req.Validate()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == req.Username {
			return nil, auth.ErrUsernameTaken
		}
	}
	m.nextID++
	u := &auth.User{ID: m.nextID, Username: req.Username, Email: req.Email}
	m.users[u.ID] = u
	m.passwords[u.ID] = req.Password
	return u, nil
}

func (m *mockProvider) Authenticate(_ context.Context, username, password string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.Username == username && m.passwords[id] == password {
			return u, nil
		}
	}
	return nil, auth.ErrInvalidCredentials
}

func (m *mockProvider) IssueResetToken(_ context.Context, email string) ([]auth.ResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.ResetToken
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			out = append(out, auth.ResetToken{User: *u, UID: "uid", Token: "good"})
		}
	}
	return out, nil
}

func (m *mockProvider) VerifyResetToken(_ context.Context, uid, token string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uid != "uid" || token != "good" {
		return nil, auth.ErrInvalidResetToken
	}
	return m.users[1], nil
}

func (m *mockProvider) ResetPassword(ctx context.Context, uid, token, password, confirm string) error {
	u, err := m.VerifyResetToken(ctx, uid, token)
	if err != nil {
		return err
	}
	if err := auth.ValidatePassword(password, confirm); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwords[u.ID] = password
	return nil
}

func (m *mockProvider) UserByID(_ context.Context, id int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return u, nil
}

type mockMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *mockMailer) SendPasswordReset(_ context.Context, _ auth.User, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

type mockAPIKeys struct {
	keys map[string]*auth.APIKeyInfo
}

func (m *mockAPIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.keys[hash]
	if !ok {
		return nil, auth.ErrAPIKeyNotFound
	}
	return info, nil
}

// --- Helpers ---

var testPepper = []byte("pepper")

const (
	staffKey  = "staff-key"
	readerKey = "reader-key"
)

type env struct {
	t       *testing.T
	srv     *httptest.Server
	orders  *mockOrders
	reviews *mockReviews
	users   *mockProvider
	mailer  *mockMailer
}

func newEnv(t *testing.T) *env {
	t.Helper()

	fiction := int64(1)
	books := &mockBooks{
		books: []catalog.Book{
			{ID: 1, Title: "Python Programming", Author: "Guido", Price: decimal.RequireFromString("10.00"), CategoryID: &fiction},
			{ID: 2, Title: "Java Basics", Author: "James", Price: decimal.RequireFromString("5.00")},
		},
		categories: []catalog.Category{{ID: fiction, Name: "Programming"}},
	}
	orders := &mockOrders{orders: make(map[int64]*order.Order)}
	reviews := &mockReviews{}
	users := newMockProvider()
	mailer := &mockMailer{}
	sessions := session.NewMemoryStore(time.Hour)

	orderSvc := order.NewService(books, orders, nil)
	pages, err := web.NewRenderer()
	require.NoError(t, err)

	h, err := NewHandler(Config{}, Services{
		Catalog:  catalog.NewService(books),
		Cart:     cart.NewService(books, cart.NewSessionStore(sessions)),
		Orders:   orderSvc,
		Reviews:  review.NewService(reviews, orderSvc),
		Accounts: auth.NewService(users, mailer, "http://shop.test"),
		Sessions: sessions,
	}, pages, noop.NewMeterProvider())
	require.NoError(t, err)

	keys := &mockAPIKeys{keys: map[string]*auth.APIKeyInfo{}}
	for key, scopes := range map[string][]string{
		staffKey:  {auth.ScopeOrdersWrite},
		readerKey: nil,
	} {
		hash := auth.HashAPIKey(testPepper, key)
		keys.keys[hash] = &auth.APIKeyInfo{ID: key, KeyHash: hash, Name: key, Scopes: scopes}
	}

	r := chi.NewRouter()
	h.Routes(r)
	h.Admin(r, APIKeyVerifier(keys, testPepper, auth.ScopeOrdersWrite))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &env{t: t, srv: srv, orders: orders, reviews: reviews, users: users, mailer: mailer}
}

// client returns a cookie-keeping client that does not follow redirects.
func (e *env) client() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(e.t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type response struct {
	status   int
	body     string
	location string
}

func (e *env) do(c *http.Client, method, path, contentType string, body io.Reader, header ...string) response {
	e.t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(e.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := c.Do(req)
	require.NoError(e.t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return response{status: resp.StatusCode, body: string(data), location: resp.Header.Get("Location")}
}

func (e *env) get(c *http.Client, path string, header ...string) response {
	e.t.Helper()
	return e.do(c, http.MethodGet, path, "", nil, header...)
}

func (e *env) postJSON(c *http.Client, path, body string, header ...string) response {
	e.t.Helper()
	return e.do(c, http.MethodPost, path, "application/json", strings.NewReader(body), header...)
}

func (e *env) postForm(c *http.Client, path string, form url.Values) response {
	e.t.Helper()
	return e.do(c, http.MethodPost, path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (e *env) advance(id, status string) response {
	e.t.Helper()
	return e.do(http.DefaultClient, http.MethodPatch, "/admin/orders/"+id+"/status", "application/json",
		strings.NewReader(`{"status":"`+status+`"}`), "X-API-Key", staffKey)
}

// register signs c in as a new user.
func (e *env) register(c *http.Client, username string) {
	e.t.Helper()
	resp := e.postForm(c, "/register/", url.Values{
		"username":  {username},
		"email":     {username + "@example.com"},
		"password1": {"s3cret-pass"},
		"password2": {"s3cret-pass"},
	})
	require.Equal(e.t, http.StatusSeeOther, resp.status, resp.body)
}

const orderPayload = `{"name":"Ada","email":"ada@example.com","phone":"123","address":"12 Main St",` +
	`"division":"Dhaka","state":"Dhaka","zipcode":"1207","payment_method":"paypal","paypal_id":"ada@pp",` +
	`"total_price":"0.01"}`

func withCart(cartJSON string) string {
	return strings.TrimSuffix(orderPayload, "}") + `,"cart":` + cartJSON + `}`
}

// field extracts a top-level field of a JSON object as raw text.
func field(t *testing.T, body, name string) string {
	t.Helper()
	var out string
	d := jx.DecodeStr(body)
	require.NoError(t, d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		if string(key) == name {
			out = strings.Trim(raw.String(), `"`)
		}
		return nil
	}))
	return out
}

// --- Tests ---

func TestAddToCart_Summary(t *testing.T) {
	e := newEnv(t)
	c := e.client()

	e.postJSON(c, "/bookstore/cart/add/1/", "")
	resp := e.postJSON(c, "/bookstore/cart/add/1/", "")
	require.Equal(t, http.StatusOK, resp.status, resp.body)

	assert.JSONEq(t, `{"success":true,"total_items":2,"subtotal":20.00,"shipping":5.00,"total":25.00}`, resp.body)
}

func TestAddToCart_UnknownBook(t *testing.T) {
	e := newEnv(t)

	resp := e.postJSON(e.client(), "/bookstore/cart/add/99/", "")
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "false", field(t, resp.body, "success"))
}

func TestGetSummary_EmptyCart(t *testing.T) {
	e := newEnv(t)

	resp := e.get(e.client(), "/bookstore/cart/summary/")
	require.Equal(t, http.StatusOK, resp.status)
	assert.JSONEq(t, `{"success":true,"total_items":0,"subtotal":0.00,"shipping":0.00,"total":0.00}`, resp.body)
}

func TestSaveCart_RoundTrip(t *testing.T) {
	e := newEnv(t)
	c := e.client()

	resp := e.postJSON(c, "/bookstore/cart/session/", `{"2":{"quantity":3},"x":1,"1":0}`)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.JSONEq(t, `{"success":true,"cart":{"2":3}}`, resp.body)

	page := e.get(c, "/bookstore/checkout/")
	require.Equal(t, http.StatusOK, page.status)
	assert.Contains(t, page.body, "Java Basics")
	assert.Contains(t, page.body, "20.00")
}

func TestSaveCart_Malformed(t *testing.T) {
	e := newEnv(t)

	resp := e.postJSON(e.client(), "/bookstore/cart/session/", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestPlaceOrder_FromSessionCart(t *testing.T) {
	e := newEnv(t)
	c := e.client()

	e.postJSON(c, "/bookstore/cart/add/1/", "")
	e.postJSON(c, "/bookstore/cart/add/2/", "")
	e.postJSON(c, "/bookstore/cart/add/2/", "")

	resp := e.postJSON(c, "/bookstore/place_order/", orderPayload)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, "1", field(t, resp.body, "order_id"))

	o := e.orders.get(1)
	assert.True(t, decimal.RequireFromString("20.00").Equal(o.Total), "total %s", o.Total)
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Nil(t, o.UserID)

	// The cart is cleared, so a refresh cannot place a duplicate order.
	again := e.postJSON(c, "/bookstore/place_order/", orderPayload)
	assert.Equal(t, http.StatusBadRequest, again.status)
	assert.Equal(t, order.ErrEmptyCart.Error(), field(t, again.body, "error"))
}

func TestPlaceOrder_Errors(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus int
		wantField  string
	}{
		{
			name:       "missing name",
			payload:    `{"email":"a@b.c","address":"x","payment_method":"cod","cart":{"1":1}}`,
			wantStatus: http.StatusBadRequest,
			wantField:  "name",
		},
		{
			name:       "phone too long",
			payload:    `{"name":"Ada","email":"a@b.c","phone":"+44 20 7946 0958","address":"x","payment_method":"cod","cart":{"1":1}}`,
			wantStatus: http.StatusBadRequest,
			wantField:  "phone",
		},
		{
			name:       "unknown book",
			payload:    withCart(`{"42":1}`),
			wantStatus: http.StatusNotFound,
			wantField:  "book_id",
		},
		{
			name:       "non-numeric book id",
			payload:    withCart(`{"abc":1}`),
			wantStatus: http.StatusNotFound,
			wantField:  "book_id",
		},
		{
			name:       "zero quantity",
			payload:    withCart(`{"1":0}`),
			wantStatus: http.StatusBadRequest,
			wantField:  "quantity",
		},
		{
			name:       "empty cart",
			payload:    withCart(`{}`),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not an object",
			payload:    `"order"`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)

			resp := e.postJSON(e.client(), "/bookstore/place_order/", tt.payload)
			assert.Equal(t, tt.wantStatus, resp.status, resp.body)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, field(t, resp.body, "field"))
			}
		})
	}
}

func TestOrderDetails(t *testing.T) {
	e := newEnv(t)
	c := e.client()

	resp := e.postJSON(c, "/bookstore/place_order/", withCart(`{"1":2}`))
	require.Equal(t, http.StatusOK, resp.status, resp.body)

	details := e.get(c, "/bookstore/order-details/?order_id=1")
	require.Equal(t, http.StatusOK, details.status)
	assert.Equal(t, "Confirmed", field(t, details.body, "status"))
	assert.Equal(t, "20.00", field(t, details.body, "total_price"))
	assert.Equal(t, "12 Main St, Dhaka, Dhaka, 1207", field(t, details.body, "address"))
	assert.Equal(t, "ada@pp", field(t, details.body, "paypal_id"))
	assert.Equal(t, "", field(t, details.body, "account_no"))

	missing := e.get(c, "/bookstore/order-details/?order_id=7")
	assert.Equal(t, http.StatusNotFound, missing.status)

	page := e.get(c, "/bookstore/transaction/?order_id=1")
	require.Equal(t, http.StatusOK, page.status)
	assert.Contains(t, page.body, "Order #1 is Confirmed.")
}

func TestCancelOrder(t *testing.T) {
	e := newEnv(t)
	c := e.client()
	e.postJSON(c, "/bookstore/place_order/", withCart(`{"1":1}`))

	resp := e.postJSON(c, "/bookstore/orders/1/cancel/", `{"reason":"changed my mind"}`)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, "Cancelled", field(t, resp.body, "status"))
	assert.Equal(t, "changed my mind", e.orders.get(1).CancelReason)

	again := e.postJSON(c, "/bookstore/orders/1/cancel/", `{}`)
	assert.Equal(t, http.StatusConflict, again.status)

	page := e.get(c, "/bookstore/orders/1/cancelled/")
	assert.Equal(t, http.StatusOK, page.status)
}

func TestCancelOrder_AfterDelivery(t *testing.T) {
	e := newEnv(t)
	c := e.client()
	e.postJSON(c, "/bookstore/place_order/", withCart(`{"1":1}`))
	require.Equal(t, http.StatusOK, e.advance("1", "Shipped").status)

	// Shipped orders can still be cancelled.
	resp := e.postForm(c, "/bookstore/orders/1/cancel/", url.Values{"reason": {"late"}})
	require.Equal(t, http.StatusOK, resp.status, resp.body)

	e.postJSON(c, "/bookstore/place_order/", withCart(`{"1":1}`))
	e.advance("2", "Shipped")
	e.advance("2", "Delivered")
	late := e.postJSON(c, "/bookstore/orders/2/cancel/", `{"reason":"late"}`)
	assert.Equal(t, http.StatusConflict, late.status)
}

func TestStatusPages_RedirectOnMismatch(t *testing.T) {
	e := newEnv(t)
	c := e.client()
	e.postJSON(c, "/bookstore/place_order/", withCart(`{"1":1}`))

	resp := e.get(c, "/bookstore/orders/1/returned/")
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/bookstore/orders/1/status/", resp.location)

	status := e.get(c, "/bookstore/orders/1/status/")
	assert.Equal(t, http.StatusOK, status.status)
	assert.Contains(t, status.body, "Confirmed")
}

func TestRequestReturn(t *testing.T) {
	e := newEnv(t)
	c := e.client()
	e.postJSON(c, "/bookstore/place_order/", withCart(`{"1":1}`))

	multipartReturn := func(reason string) response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("reason", reason))
		require.NoError(t, mw.WriteField("comments", "torn cover"))
		fw, err := mw.CreateFormFile("attachment", "photo.jpg")
		require.NoError(t, err)
		_, err = fw.Write([]byte("jpeg bytes"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		return e.do(c, http.MethodPost, "/bookstore/orders/1/return/", mw.FormDataContentType(), &buf)
	}

	early := multipartReturn("damaged")
	assert.Equal(t, http.StatusConflict, early.status)

	e.advance("1", "Shipped")
	e.advance("1", "Delivered")

	noReason := multipartReturn("  ")
	assert.Equal(t, http.StatusBadRequest, noReason.status)

	resp := multipartReturn("damaged")
	require.Equal(t, http.StatusSeeOther, resp.status, resp.body)
	assert.Equal(t, "/bookstore/orders/1/returned/", resp.location)

	o := e.orders.get(1)
	assert.Equal(t, order.StatusReturnRequested, o.Status)
	assert.Equal(t, "damaged", o.ReturnReason)
	assert.Equal(t, "torn cover", o.ReturnComments)
}

func TestOrderVisibility(t *testing.T) {
	e := newEnv(t)
	owner := e.client()
	e.register(owner, "ada")
	e.postJSON(owner, "/bookstore/place_order/", withCart(`{"1":1}`))

	assert.Equal(t, http.StatusOK, e.get(owner, "/bookstore/orders/1/status.json").status)

	stranger := e.client()
	assert.Equal(t, http.StatusNotFound, e.get(stranger, "/bookstore/orders/1/status.json").status)
	assert.Equal(t, http.StatusNotFound, e.postJSON(stranger, "/bookstore/orders/1/cancel/", `{}`).status)
	assert.Equal(t, order.StatusConfirmed, e.orders.get(1).Status)
}

func TestGuestOrderVisibility(t *testing.T) {
	e := newEnv(t)
	guest := e.client()
	require.Equal(t, http.StatusOK, e.postJSON(guest, "/bookstore/place_order/", withCart(`{"1":1}`)).status)

	assert.Equal(t, http.StatusOK, e.get(guest, "/bookstore/order-details/?order_id=1").status)

	// Another session cannot read or change the guest order by guessing its id.
	stranger := e.client()
	assert.Equal(t, http.StatusNotFound, e.get(stranger, "/bookstore/order-details/?order_id=1").status)
	assert.Equal(t, http.StatusNotFound, e.get(stranger, "/bookstore/orders/1/status.json").status)
	assert.Equal(t, http.StatusNotFound, e.postJSON(stranger, "/bookstore/orders/1/cancel/", `{}`).status)
	e.register(stranger, "mallory")
	assert.Equal(t, http.StatusNotFound, e.get(stranger, "/bookstore/order-details/?order_id=1").status)
	assert.Equal(t, order.StatusConfirmed, e.orders.get(1).Status)

	// Signing in keeps access to orders placed as a guest.
	e.register(guest, "ada")
	assert.Equal(t, http.StatusOK, e.get(guest, "/bookstore/order-details/?order_id=1").status)
	resp := e.postJSON(guest, "/bookstore/orders/1/cancel/", `{}`)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
}

func TestAdvanceOrder_APIKey(t *testing.T) {
	e := newEnv(t)
	e.postJSON(e.client(), "/bookstore/place_order/", withCart(`{"1":1}`))

	patch := func(key, body string) response {
		var header []string
		if key != "" {
			header = []string{"X-API-Key", key}
		}
		return e.do(http.DefaultClient, http.MethodPatch, "/admin/orders/1/status", "application/json",
			strings.NewReader(body), header...)
	}

	assert.Equal(t, http.StatusUnauthorized, patch("", `{"status":"Shipped"}`).status)
	assert.Equal(t, http.StatusUnauthorized, patch("wrong", `{"status":"Shipped"}`).status)
	assert.Equal(t, http.StatusForbidden, patch(readerKey, `{"status":"Shipped"}`).status)
	assert.Equal(t, http.StatusConflict, patch(staffKey, `{"status":"Delivered"}`).status)
	assert.Equal(t, http.StatusBadRequest, patch(staffKey, `{"status":"Processing"}`).status)

	resp := patch(staffKey, `{"status":"Shipped"}`)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, "Shipped", field(t, resp.body, "status"))
}

func TestRegister_SignsInAndKeepsCart(t *testing.T) {
	e := newEnv(t)
	c := e.client()

	e.postJSON(c, "/bookstore/cart/add/2/", "")
	e.register(c, "ada")

	home := e.get(c, "/bookstore/home/")
	assert.Contains(t, home.body, "Signed in as ada")

	resp := e.postJSON(c, "/bookstore/place_order/", orderPayload)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	o := e.orders.get(1)
	require.NotNil(t, o.UserID)
	assert.Equal(t, int64(1), *o.UserID)

	orders := e.get(c, "/bookstore/orders/")
	require.Equal(t, http.StatusOK, orders.status)
	assert.Contains(t, orders.body, "/bookstore/orders/1/status/")
}

func TestRegister_Invalid(t *testing.T) {
	e := newEnv(t)
	c := e.client()
	e.register(c, "ada")

	taken := e.postForm(e.client(), "/register/", url.Values{
		"username":  {"ada"},
		"email":     {"other@example.com"},
		"password1": {"s3cret-pass"},
		"password2": {"s3cret-pass"},
	})
	assert.Equal(t, http.StatusConflict, taken.status)
	assert.Contains(t, taken.body, auth.ErrUsernameTaken.Error())

	mismatch := e.postForm(e.client(), "/register/", url.Values{
		"username":  {"bob"},
		"email":     {"bob@example.com"},
		"password1": {"s3cret-pass"},
		"password2": {"other-pass"},
	})
	assert.Equal(t, http.StatusBadRequest, mismatch.status)
	assert.Contains(t, mismatch.body, `value="bob"`)

	long := strings.Repeat("p", 80)
	tooLong := e.postForm(e.client(), "/register/", url.Values{
		"username":  {"carol"},
		"email":     {"carol@example.com"},
		"password1": {long},
		"password2": {long},
	})
	assert.Equal(t, http.StatusBadRequest, tooLong.status)
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	e.register(e.client(), "ada")
	c := e.client()

	bad := e.postForm(c, "/login/", url.Values{"username": {"ada"}, "password": {"nope"}})
	assert.Equal(t, http.StatusOK, bad.status)
	assert.Contains(t, bad.body, auth.ErrInvalidCredentials.Error())

	ok := e.postForm(c, "/login/", url.Values{
		"username": {"ada"},
		"password": {"s3cret-pass"},
		"next":     {"/bookstore/orders/"},
	})
	assert.Equal(t, http.StatusSeeOther, ok.status)
	assert.Equal(t, "/bookstore/orders/", ok.location)
	assert.Equal(t, http.StatusOK, e.get(c, "/bookstore/orders/").status)

	out := e.postForm(c, "/logout/", nil)
	assert.Equal(t, http.StatusSeeOther, out.status)
	assert.Equal(t, http.StatusSeeOther, e.get(c, "/bookstore/orders/").status)
}

func TestRequireUser(t *testing.T) {
	e := newEnv(t)
	c := e.client()

	page := e.get(c, "/bookstore/orders/")
	assert.Equal(t, http.StatusSeeOther, page.status)
	assert.Equal(t, "/login/?next="+url.QueryEscape("/bookstore/orders/"), page.location)

	api := e.get(c, "/bookstore/orders/", "Accept", "application/json")
	assert.Equal(t, http.StatusUnauthorized, api.status)
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		next string
		want string
	}{
		{"/bookstore/orders/", "/bookstore/orders/"},
		{"", homeURL},
		{"https://evil.example/", homeURL},
		{"//evil.example/", homeURL},
		{"/\\evil.example/", homeURL},
	}
	for _, tt := range tests {
		t.Run(tt.next, func(t *testing.T) {
			assert.Equal(t, tt.want, safeNext(tt.next))
		})
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	e := newEnv(t)
	e.register(e.client(), "ada")
	c := e.client()

	unknown := e.postForm(c, "/forgot-password/", url.Values{"email": {"nobody@example.com"}})
	assert.Equal(t, http.StatusOK, unknown.status)
	assert.Empty(t, e.mailer.links)

	known := e.postForm(c, "/forgot-password/", url.Values{"email": {"ada@example.com"}})
	assert.Equal(t, http.StatusOK, known.status)
	require.Equal(t, []string{"http://shop.test/reset-password/uid/good/"}, e.mailer.links)

	assert.Contains(t, e.get(c, "/reset-password/uid/bad/").body, "Invalid link")
	assert.Contains(t, e.get(c, "/reset-password/uid/good/").body, "new_password1")

	short := e.postForm(c, "/reset-password/uid/good/", url.Values{
		"new_password1": {"short"},
		"new_password2": {"short"},
	})
	assert.Equal(t, http.StatusBadRequest, short.status)

	done := e.postForm(c, "/reset-password/uid/good/", url.Values{
		"new_password1": {"brand-new-pass"},
		"new_password2": {"brand-new-pass"},
	})
	assert.Equal(t, http.StatusSeeOther, done.status)
	assert.Equal(t, "/login/", done.location)

	login := e.postForm(c, "/login/", url.Values{"username": {"ada"}, "password": {"brand-new-pass"}})
	assert.Equal(t, http.StatusSeeOther, login.status)
}

func TestReview(t *testing.T) {
	e := newEnv(t)
	c := e.client()
	e.register(c, "ada")
	e.postJSON(c, "/bookstore/place_order/", withCart(`{"1":1}`))

	form := url.Values{"book_id": {"1"}, "review_text": {"Great read"}}

	early := e.get(c, "/bookstore/orders/1/review/")
	assert.Equal(t, http.StatusConflict, early.status)

	e.advance("1", "Shipped")
	e.advance("1", "Delivered")

	page := e.get(c, "/bookstore/orders/1/review/")
	require.Equal(t, http.StatusOK, page.status)
	assert.Contains(t, page.body, `<option value="3" selected>3</option>`)

	wrongBook := e.postForm(c, "/bookstore/orders/1/review/", url.Values{"book_id": {"2"}, "review_text": {"x"}})
	assert.Equal(t, http.StatusBadRequest, wrongBook.status)

	resp := e.postForm(c, "/bookstore/orders/1/review/", form)
	require.Equal(t, http.StatusSeeOther, resp.status, resp.body)
	assert.Equal(t, "/bookstore/1/", resp.location)

	require.Len(t, e.reviews.reviews, 1)
	assert.Equal(t, review.DefaultRating, e.reviews.reviews[0].Rating)
	assert.Equal(t, int64(1), e.reviews.reviews[0].UserID)

	rated := e.postJSON(c, "/bookstore/orders/1/review/", `{"book_id":1,"review_text":"Again","rating":6}`)
	assert.Equal(t, http.StatusBadRequest, rated.status)
	assert.Equal(t, "rating", field(t, rated.body, "field"))

	detail := e.get(c, "/bookstore/1/")
	assert.Contains(t, detail.body, "Great read")
}

func TestCatalogPages(t *testing.T) {
	e := newEnv(t)
	c := e.client()

	root := e.get(c, "/")
	assert.Equal(t, http.StatusFound, root.status)
	assert.Equal(t, "/bookstore/home/", root.location)

	search := e.get(c, "/bookstore/search/?book_name=PYTHON&page=abc")
	require.Equal(t, http.StatusOK, search.status)
	assert.Contains(t, search.body, "Python Programming")
	assert.NotContains(t, search.body, "Java Basics")

	category := e.get(c, "/bookstore/category/1/")
	require.Equal(t, http.StatusOK, category.status)
	assert.Contains(t, category.body, "Python Programming")

	assert.Equal(t, http.StatusNotFound, e.get(c, "/bookstore/category/9/").status)
	assert.Equal(t, http.StatusNotFound, e.get(c, "/bookstore/99/").status)

	books := e.get(c, "/bookstore/get-cart-books/?ids=2,x,99")
	require.Equal(t, http.StatusOK, books.status)
	assert.JSONEq(t, `{"success":true,"books":[{"id":2,"title":"Java Basics","author":"James","price":5.00,"image":""}]}`, books.body)
}

func TestSessionCookie(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.srv.URL + "/bookstore/cart/summary/")
	require.NoError(t, err)
	_ = resp.Body.Close()

	var found *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == "sessionid" {
			found = ck
		}
	}
	require.NotNil(t, found)
	assert.True(t, session.ValidID(found.Value))
	assert.True(t, found.HttpOnly)
}
