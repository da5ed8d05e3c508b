package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilaBean/my-ecommerce-api/internal/broadcast"
	"github.com/KilaBean/my-ecommerce-api/internal/checkout"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/cart"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/catalog"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/coupon"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/order"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/user"
	"github.com/KilaBean/my-ecommerce-api/internal/payment"
)

// --- Mock implementations ---

type mockCatalogRepo struct {
	products  []catalog.Product
	variants  map[string]*catalog.Variant
	change    *catalog.StockChange
	createdP  *catalog.Product
	setStocks []int
	err       error
}

func (m *mockCatalogRepo) ListProducts(context.Context) ([]catalog.Product, error) {
	return m.products, m.err
}

func (m *mockCatalogRepo) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	for i := range m.products {
		if m.products[i].ID == id {
			return &m.products[i], nil
		}
	}
	return nil, catalog.ErrProductNotFound
}

func (m *mockCatalogRepo) Recommend(context.Context, string, int) ([]catalog.Product, error) {
	return m.products, m.err
}

func (m *mockCatalogRepo) CreateProduct(_ context.Context, p *catalog.Product) error {
	m.createdP = p
	return m.err
}

func (m *mockCatalogRepo) GetVariant(_ context.Context, id string) (*catalog.Variant, error) {
	v, ok := m.variants[id]
	if !ok {
		return nil, catalog.ErrVariantNotFound
	}
	return v, nil
}

func (m *mockCatalogRepo) SetStock(_ context.Context, variantID string, stock int) (*catalog.StockChange, error) {
	if m.change == nil {
		return nil, catalog.ErrVariantNotFound
	}
	m.setStocks = append(m.setStocks, stock)
	return m.change, nil
}

type mockCartRepo struct {
	carts map[string]*cart.Cart
}

func (m *mockCartRepo) BySession(_ context.Context, sid string) (*cart.Cart, error) {
	c, ok := m.carts[sid]
	if !ok {
		return nil, cart.ErrNotFound
	}
	return c, nil
}

func (m *mockCartRepo) Save(_ context.Context, c *cart.Cart) error {
	m.carts[c.SessionID] = c
	return nil
}

func (m *mockCartRepo) Clear(_ context.Context, sid string) error {
	c, ok := m.carts[sid]
	if !ok {
		return cart.ErrNotFound
	}
	c.Lines = nil
	return nil
}

type mockCouponRepo struct {
	coupons   map[string]*coupon.Coupon
	createErr error
	created   *coupon.Coupon
}

func (m *mockCouponRepo) ByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := m.coupons[coupon.Normalize(code)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (m *mockCouponRepo) Create(_ context.Context, c *coupon.Coupon) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = c
	return nil
}

func (m *mockCouponRepo) List(context.Context) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	for _, c := range m.coupons {
		out = append(out, *c)
	}
	return out, nil
}

type mockOrderRepo struct {
	orders    map[string]*order.Order
	intentSet string
}

func (m *mockOrderRepo) ByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) ListAll(context.Context) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (m *mockOrderRepo) MarkPaid(_ context.Context, id, _ string) (bool, error) {
	o, ok := m.orders[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.Status != order.StatusCreated {
		return false, nil
	}
	o.Status = order.StatusPaid
	return true, nil
}

func (m *mockOrderRepo) SetPaymentIntent(_ context.Context, id, intentID string) error {
	if _, ok := m.orders[id]; !ok {
		return order.ErrNotFound
	}
	m.intentSet = intentID
	return nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, next order.Status) error {
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = next
	return nil
}

type mockCheckout struct {
	lastReq checkout.Request
	res     *checkout.Result
	err     error
}

func (m *mockCheckout) Checkout(_ context.Context, req checkout.Request) (*checkout.Result, error) {
	m.lastReq = req
	return m.res, m.err
}

type mockLifecycle struct {
	paidOrder string
	paidRef   string
	advanced  order.Status
	err       error
}

func (m *mockLifecycle) MarkPaid(_ context.Context, orderID, ref string) error {
	if m.err != nil {
		return m.err
	}
	m.paidOrder, m.paidRef = orderID, ref
	return nil
}

func (m *mockLifecycle) Advance(_ context.Context, orderID string, next order.Status) (*order.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.advanced = next
	return &order.Order{ID: orderID, Status: next}, nil
}

type mockProvider struct {
	intent    *payment.Intent
	event     *payment.Event
	verifyErr error
}

func (m *mockProvider) CreateIntent(_ context.Context, amount int64, orderID string) (*payment.Intent, error) {
	m.intent.Amount = amount
	m.intent.OrderID = orderID
	return m.intent, nil
}

func (m *mockProvider) VerifyWebhook([]byte, string) (*payment.Event, error) {
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	return m.event, nil
}

type mockHub struct {
	topics []string
	events []broadcast.Event
}

func (m *mockHub) Publish(productID string, ev broadcast.Event) {
	m.topics = append(m.topics, productID)
	m.events = append(m.events, ev)
}

type mockAPIKeyRepo struct {
	byHash map[string]*user.User
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*user.User, error) {
	u, ok := m.byHash[hash]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

// --- Fixture ---

const testPepper = "test-pepper"

func hashKey(key string) string {
	mac := hmac.New(sha256.New, []byte(testPepper))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

type fixture struct {
	srv      *httptest.Server
	catalog  *mockCatalogRepo
	carts    *mockCartRepo
	coupons  *mockCouponRepo
	orders   *mockOrderRepo
	checkout *mockCheckout
	life     *mockLifecycle
	provider *mockProvider
	hub      *mockHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		catalog:  &mockCatalogRepo{variants: map[string]*catalog.Variant{}},
		carts:    &mockCartRepo{carts: map[string]*cart.Cart{}},
		coupons:  &mockCouponRepo{coupons: map[string]*coupon.Coupon{}},
		orders:   &mockOrderRepo{orders: map[string]*order.Order{}},
		checkout: &mockCheckout{},
		life:     &mockLifecycle{},
		provider: &mockProvider{intent: &payment.Intent{ID: "pi_1", ClientSecret: "cs_1"}},
		hub:      &mockHub{},
	}

	keys := &mockAPIKeyRepo{byHash: map[string]*user.User{
		hashKey("user-key"):  {ID: "u1", Email: "jo@example.com", Username: "jo", Role: user.RoleUser, IsActive: true},
		hashKey("admin-key"): {ID: "a1", Email: "admin@example.com", Username: "admin", Role: user.RoleAdmin, IsActive: true},
	}}

	h := NewHandler(f.catalog, f.carts, f.coupons, f.orders, f.checkout, f.life, f.provider, f.hub)
	mux := http.NewServeMux()
	h.Register(mux, NewSecurity(keys, []byte(testPepper)))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// --- Tests ---

func TestCartFlow(t *testing.T) {
	f := newFixture(t)
	f.catalog.variants["v1"] = &catalog.Variant{ID: "v1", ProductID: "p1", SKU: "SKU-1"}

	session := map[string]string{"X-Session-ID": "sess1"}

	// Empty cart reads as empty, not 404.
	resp := f.do(t, http.MethodGet, "/api/v1/cart", "", session)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"session_id":"sess1","items":[]}`, readBody(t, resp))

	// Adding the same variant twice merges quantities.
	resp = f.do(t, http.MethodPost, "/api/v1/cart/items", `{"variant_id":"v1","quantity":1}`, session)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/api/v1/cart/items", `{"variant_id":"v1","quantity":2}`, session)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"session_id":"sess1","items":[{"variant_id":"v1","quantity":3}]}`, readBody(t, resp))

	resp = f.do(t, http.MethodDelete, "/api/v1/cart", "", session)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.carts.carts["sess1"].Lines)
}

func TestAddCartItem_Rejections(t *testing.T) {
	f := newFixture(t)
	f.catalog.variants["v1"] = &catalog.Variant{ID: "v1"}
	session := map[string]string{"X-Session-ID": "sess1"}

	resp := f.do(t, http.MethodPost, "/api/v1/cart/items", `{"variant_id":"v1","quantity":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/cart/items", `{"variant_id":"missing","quantity":1}`, session)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/cart/items", `{"variant_id":"v1","quantity":0}`, session)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)
	f.checkout.res = &checkout.Result{
		Order: &order.Order{
			ID:     "ord-1",
			UserID: "u1",
			Total:  decimal.RequireFromString("22.50"),
			Status: order.StatusCreated,
			Lines: []order.Line{
				{ID: "l1", VariantID: "va", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
			},
		},
		Subtotal: decimal.RequireFromString("25.00"),
		Discount: decimal.RequireFromString("2.50"),
	}

	resp := f.do(t, http.MethodPost, "/api/v1/checkout",
		`{"shipping_address":"12 Hill Rd","coupon_code":"save10"}`,
		map[string]string{"api_key": "user-key", "X-Session-ID": "sess1"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, `"22.5"`)
	assert.Contains(t, body, `"ord-1"`)

	assert.Equal(t, "sess1", f.checkout.lastReq.SessionID)
	assert.Equal(t, "u1", f.checkout.lastReq.UserID)
	assert.Equal(t, "save10", f.checkout.lastReq.CouponCode)
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"empty cart", cart.ErrEmpty, http.StatusBadRequest},
		{"no cart", cart.ErrNotFound, http.StatusBadRequest},
		{"unknown coupon", coupon.ErrNotFound, http.StatusUnprocessableEntity},
		{"exhausted coupon", coupon.ErrExhausted, http.StatusUnprocessableEntity},
		{"expired coupon", coupon.ErrExpired, http.StatusUnprocessableEntity},
		{"missing variant", &checkout.VariantNotFoundError{VariantID: "v9"}, http.StatusUnprocessableEntity},
		{"insufficient stock", &checkout.InsufficientStockError{SKU: "S", Available: 0, Requested: 1}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.checkout.err = tt.err

			resp := f.do(t, http.MethodPost, "/api/v1/checkout",
				`{"shipping_address":"x"}`,
				map[string]string{"api_key": "user-key", "X-Session-ID": "sess1"})
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestPlaceOrder_RequiresAuth(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/checkout", `{"shipping_address":"x"}`,
		map[string]string{"X-Session-ID": "sess1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/checkout", `{"shipping_address":"x"}`,
		map[string]string{"api_key": "wrong", "X-Session-ID": "sess1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoutes_RequireAdminRole(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/coupons", "",
		map[string]string{"api_key": "user-key"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/coupons", "",
		map[string]string{"api_key": "admin-key"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSetVariantStock_Broadcasts(t *testing.T) {
	f := newFixture(t)
	f.catalog.change = &catalog.StockChange{
		VariantID: "v1", ProductID: "p1", SKU: "SKU-1", OldStock: 5, NewStock: 12,
	}

	resp := f.do(t, http.MethodPatch, "/api/v1/variants/v1/stock", `{"stock":12}`,
		map[string]string{"api_key": "admin-key"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"variant_id":"v1","sku":"SKU-1","old_stock":5,"new_stock":12}`, readBody(t, resp))

	// Manual edits broadcast the old count alongside the new one.
	require.Len(t, f.hub.events, 1)
	assert.Equal(t, []string{"p1"}, f.hub.topics)
	require.NotNil(t, f.hub.events[0].OldStock)
	assert.Equal(t, 5, *f.hub.events[0].OldStock)
	assert.Equal(t, 12, f.hub.events[0].NewStock)
}

func TestSetVariantStock_Rejections(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPatch, "/api/v1/variants/v1/stock", `{"stock":-1}`,
		map[string]string{"api_key": "admin-key"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPatch, "/api/v1/variants/v1/stock", `{"stock":3}`,
		map[string]string{"api_key": "admin-key"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, f.hub.events)
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newFixture(t)
	f.orders.orders["ord-1"] = &order.Order{
		ID: "ord-1", UserID: "u1", Status: order.StatusCreated,
		Total: decimal.RequireFromString("22.50"),
	}

	resp := f.do(t, http.MethodPost, "/api/v1/payments/intents", `{"order_id":"ord-1"}`,
		map[string]string{"api_key": "user-key"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"intent_id":"pi_1","client_secret":"cs_1","amount":2250}`, readBody(t, resp))
	assert.Equal(t, "pi_1", f.orders.intentSet)
}

func TestCreatePaymentIntent_Rejections(t *testing.T) {
	f := newFixture(t)
	f.orders.orders["ord-1"] = &order.Order{
		ID: "ord-1", UserID: "other", Status: order.StatusCreated,
		Total: decimal.RequireFromString("10.00"),
	}
	f.orders.orders["ord-2"] = &order.Order{
		ID: "ord-2", UserID: "u1", Status: order.StatusPaid,
		Total: decimal.RequireFromString("10.00"),
	}

	// Someone else's order reads as missing, not forbidden.
	resp := f.do(t, http.MethodPost, "/api/v1/payments/intents", `{"order_id":"ord-1"}`,
		map[string]string{"api_key": "user-key"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/payments/intents", `{"order_id":"ord-2"}`,
		map[string]string{"api_key": "user-key"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPaymentWebhook(t *testing.T) {
	f := newFixture(t)
	f.provider.event = &payment.Event{
		Type: payment.EventPaymentSucceeded, IntentID: "pi_1", OrderID: "ord-1",
	}

	resp := f.do(t, http.MethodPost, "/api/v1/payments/webhook", `{}`,
		map[string]string{"Stripe-Signature": "t=1,v1=abc"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ord-1", f.life.paidOrder)
	assert.Equal(t, "pi_1", f.life.paidRef)
}

func TestPaymentWebhook_BadSignature(t *testing.T) {
	f := newFixture(t)
	f.provider.verifyErr = payment.ErrBadSignature

	resp := f.do(t, http.MethodPost, "/api/v1/payments/webhook", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.life.paidOrder)
}

func TestPaymentWebhook_UnknownOrderAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.provider.event = &payment.Event{
		Type: payment.EventPaymentSucceeded, IntentID: "pi_9", OrderID: "ord-gone",
	}
	f.life.err = order.ErrNotFound

	// Acknowledge so the processor stops redelivering an event nobody can use.
	resp := f.do(t, http.MethodPost, "/api/v1/payments/webhook", `{}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPaymentWebhook_IgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	f.provider.event = &payment.Event{Type: "charge.refunded"}

	resp := f.do(t, http.MethodPost, "/api/v1/payments/webhook", `{}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, f.life.paidOrder)
}

func TestAdvanceOrder(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/orders/ord-1/status", `{"status":"PROCESSING"}`,
		map[string]string{"api_key": "admin-key"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, order.StatusProcessing, f.life.advanced)
}

func TestAdvanceOrder_Rejections(t *testing.T) {
	f := newFixture(t)

	// PAID is reserved for the payment webhook.
	resp := f.do(t, http.MethodPost, "/api/v1/orders/ord-1/status", `{"status":"PAID"}`,
		map[string]string{"api_key": "admin-key"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.life.err = &order.InvalidTransitionError{From: order.StatusShipped, To: order.StatusProcessing}
	resp = f.do(t, http.MethodPost, "/api/v1/orders/ord-1/status", `{"status":"PROCESSING"}`,
		map[string]string{"api_key": "admin-key"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	f.life.err = order.ErrNotFound
	resp = f.do(t, http.MethodPost, "/api/v1/orders/ord-1/status", `{"status":"PROCESSING"}`,
		map[string]string{"api_key": "admin-key"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateCoupon(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/coupons",
		`{"code":" save10 ","discount_type":"PERCENTAGE","value":"10","max_uses":100}`,
		map[string]string{"api_key": "admin-key"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotNil(t, f.coupons.created)
	assert.Equal(t, "SAVE10", f.coupons.created.Code)
	assert.True(t, f.coupons.created.IsActive)

	f.coupons.createErr = coupon.ErrCodeExists
	resp = f.do(t, http.MethodPost, "/api/v1/coupons",
		`{"code":"SAVE10","discount_type":"PERCENTAGE","value":"10"}`,
		map[string]string{"api_key": "admin-key"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateCoupon_Validation(t *testing.T) {
	bodies := []string{
		`{"code":"","discount_type":"PERCENTAGE","value":"10"}`,
		`{"code":"X","discount_type":"WEIRD","value":"10"}`,
		`{"code":"X","discount_type":"PERCENTAGE","value":"0"}`,
		`{"code":"X","discount_type":"PERCENTAGE","value":"150"}`,
		`{"code":"X","discount_type":"FIXED","value":"5","max_uses":-1}`,
	}

	f := newFixture(t)
	for _, body := range bodies {
		resp := f.do(t, http.MethodPost, "/api/v1/coupons", body,
			map[string]string{"api_key": "admin-key"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestListMyOrders(t *testing.T) {
	f := newFixture(t)
	f.orders.orders["ord-1"] = &order.Order{ID: "ord-1", UserID: "u1", Total: decimal.RequireFromString("5.00"), Status: order.StatusPaid}
	f.orders.orders["ord-2"] = &order.Order{ID: "ord-2", UserID: "other", Total: decimal.RequireFromString("7.00"), Status: order.StatusPaid}

	resp := f.do(t, http.MethodGet, "/api/v1/orders", "",
		map[string]string{"api_key": "user-key"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, "ord-1")
	assert.NotContains(t, body, "ord-2")
}
