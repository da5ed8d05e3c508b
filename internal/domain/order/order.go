package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is a durable record of a completed checkout. Lines are immutable
// after creation; only Status and PaymentIntentID change afterwards.
type Order struct {
	ID              string
	UserID          string
	Lines           []Line
	Total           decimal.Decimal
	Status          Status
	ShippingAddress string
	PaymentIntentID string
	CreatedAt       time.Time
}

// Line is an immutable historical record of one purchased variant.
// UnitPrice is the variant price frozen at checkout time; it is never
// recomputed from the live variant.
type Line struct {
	ID        string
	VariantID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Repository defines order persistence outside the checkout transaction
// (creation happens atomically inside checkout).
type Repository interface {
	ByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	// MarkPaid atomically transitions CREATED -> PAID and records the payment
	// reference. It returns false without error when the order is already
	// PAID or beyond, so duplicate confirmations degrade to a no-op.
	MarkPaid(ctx context.Context, id, paymentRef string) (bool, error)
	// SetPaymentIntent records the external payment reference on intent
	// creation, before any confirmation arrives.
	SetPaymentIntent(ctx context.Context, id, intentID string) error
	UpdateStatus(ctx context.Context, id string, next Status) error
}
