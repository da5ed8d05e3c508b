// Package handler exposes the HTTP API: public catalog and cart endpoints,
// authenticated checkout and order routes, and the admin surface.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/KilaBean/my-ecommerce-api/internal/broadcast"
	"github.com/KilaBean/my-ecommerce-api/internal/checkout"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/cart"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/catalog"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/coupon"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/order"
	"github.com/KilaBean/my-ecommerce-api/internal/payment"
)

// CheckoutService runs the atomic checkout transaction.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

// OrderLifecycle applies payment confirmations and administrative status
// transitions.
type OrderLifecycle interface {
	MarkPaid(ctx context.Context, orderID, paymentRef string) error
	Advance(ctx context.Context, orderID string, next order.Status) (*order.Order, error)
}

// StockPublisher fans stock events out to websocket subscribers.
type StockPublisher interface {
	Publish(productID string, ev broadcast.Event)
}

// Handler holds the domain dependencies behind the HTTP surface.
type Handler struct {
	catalog   catalog.Repository
	carts     cart.Repository
	coupons   coupon.Repository
	orders    order.Repository
	checkout  CheckoutService
	lifecycle OrderLifecycle
	payments  payment.Provider
	hub       StockPublisher
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	catalogRepo catalog.Repository,
	carts cart.Repository,
	coupons coupon.Repository,
	orders order.Repository,
	checkoutSvc CheckoutService,
	lifecycle OrderLifecycle,
	payments payment.Provider,
	hub StockPublisher,
) *Handler {
	return &Handler{
		catalog:   catalogRepo,
		carts:     carts,
		coupons:   coupons,
		orders:    orders,
		checkout:  checkoutSvc,
		lifecycle: lifecycle,
		payments:  payments,
		hub:       hub,
	}
}

// Register mounts all API routes on the mux. auth guards user routes; admin
// additionally requires the ADMIN role.
func (h *Handler) Register(mux *http.ServeMux, auth *Security) {
	admin := func(next http.HandlerFunc) http.Handler {
		return auth.Authenticate(auth.RequireAdmin(next))
	}
	authed := func(next http.HandlerFunc) http.Handler {
		return auth.Authenticate(next)
	}

	// Public catalog and cart.
	mux.HandleFunc("GET /api/v1/products", h.listProducts)
	mux.HandleFunc("GET /api/v1/products/{id}", h.getProduct)
	mux.HandleFunc("GET /api/v1/products/{id}/recommendations", h.recommendProducts)
	mux.HandleFunc("GET /api/v1/cart", h.getCart)
	mux.HandleFunc("POST /api/v1/cart/items", h.addCartItem)
	mux.HandleFunc("DELETE /api/v1/cart", h.clearCart)

	// Payment processor callback, authenticated by signature instead of key.
	mux.HandleFunc("POST /api/v1/payments/webhook", h.paymentWebhook)

	// Authenticated.
	mux.Handle("POST /api/v1/checkout", authed(h.placeOrder))
	mux.Handle("GET /api/v1/orders", authed(h.listMyOrders))
	mux.Handle("POST /api/v1/payments/intents", authed(h.createPaymentIntent))

	// Admin.
	mux.Handle("POST /api/v1/products", admin(h.createProduct))
	mux.Handle("PATCH /api/v1/variants/{id}/stock", admin(h.setVariantStock))
	mux.Handle("POST /api/v1/coupons", admin(h.createCoupon))
	mux.Handle("GET /api/v1/coupons", admin(h.listCoupons))
	mux.Handle("GET /api/v1/admin/orders", admin(h.listAllOrders))
	mux.Handle("POST /api/v1/orders/{id}/status", admin(h.advanceOrder))
}

// errorResponse is the JSON envelope for every non-2xx response.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(ctx).Warn("encode response", zap.Error(err))
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	respondJSON(ctx, w, status, errorResponse{Code: status, Message: msg})
}

func respondInternal(ctx context.Context, w http.ResponseWriter, err error) {
	zctx.From(ctx).Error("request failed", zap.Error(err))
	respondError(ctx, w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
