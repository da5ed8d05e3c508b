// Package checkout implements the checkout and inventory-consistency engine:
// the atomic sequence that turns a session's cart into a durable order without
// overselling stock or overspending coupon usage.
package checkout

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/KilaBean/my-ecommerce-api/internal/broadcast"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/cart"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/catalog"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/coupon"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/order"
)

// VariantNotFoundError indicates a cart line references a variant that no
// longer exists in the catalog. This is a hard failure: silently skipping the
// line would create an order whose total differs from what the customer saw.
type VariantNotFoundError struct {
	VariantID string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("variant %s not found", e.VariantID)
}

// InsufficientStockError names the SKU and both counts so a client can react
// without guessing.
type InsufficientStockError struct {
	SKU       string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for SKU %s: available %d, requested %d",
		e.SKU, e.Available, e.Requested)
}

// Request is the input for one checkout.
type Request struct {
	SessionID       string
	UserID          string
	ShippingAddress string
	// CouponCode is optional; blank means no coupon.
	CouponCode string
}

// Result is the outcome of a successful checkout.
type Result struct {
	Order    *order.Order
	Subtotal decimal.Decimal
	Discount decimal.Decimal
}

// Tx exposes the storage operations available inside one checkout
// transaction. Every method sees the transaction's isolation; LockVariants
// additionally takes exclusive row locks that are held until the transaction
// commits or rolls back.
type Tx interface {
	// CartBySession returns the session's cart or cart.ErrNotFound.
	CartBySession(ctx context.Context, sessionID string) (*cart.Cart, error)
	// CouponByCode returns the coupon for a normalized code or coupon.ErrNotFound.
	CouponByCode(ctx context.Context, code string) (*coupon.Coupon, error)
	// LockVariants acquires exclusive row locks on exactly the given variant
	// rows in a single batched request, in ascending id order. Ids missing
	// from the catalog are simply absent from the result.
	LockVariants(ctx context.Context, ids []string) ([]catalog.Variant, error)
	// CreateOrder persists the order and its lines in one write.
	CreateOrder(ctx context.Context, o *order.Order) error
	// DeductStock decrements a locked variant's stock and returns the new count.
	DeductStock(ctx context.Context, variantID string, qty int) (int, error)
	// IncrementCouponUsage bumps the coupon's monotonic usage counter.
	IncrementCouponUsage(ctx context.Context, couponID string) error
	// ClearCart resets the session's cart lines to empty; the row persists.
	ClearCart(ctx context.Context, sessionID string) error
}

// Store runs a function inside one transaction. The function's error aborts
// the transaction; nil commits it.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Publisher is the stock-event side channel fed after a successful commit.
type Publisher interface {
	Publish(productID string, ev broadcast.Event)
}
