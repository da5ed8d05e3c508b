package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType is the closed set of supported discount strategies.
type DiscountType string

const (
	// DiscountPercentage deducts value percent of the subtotal.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixed deducts a fixed monetary amount.
	DiscountFixed DiscountType = "FIXED"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

var (
	// ErrNotFound is returned when no coupon exists for a code.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned when a coupon has been disabled.
	ErrInactive = errors.New("coupon is inactive")
	// ErrExpired is returned when a coupon is past its expiry time.
	ErrExpired = errors.New("coupon expired")
	// ErrExhausted is returned when a capped coupon has no uses left.
	ErrExhausted = errors.New("coupon usage limit reached")
	// ErrCodeExists is returned when creating a coupon with a taken code.
	ErrCodeExists = errors.New("coupon code already exists")
)

// Coupon is a named discount rule with an optional usage cap. UsageCount only
// increases, exactly once per successful checkout referencing the code, and
// never exceeds MaxUses when MaxUses is set.
type Coupon struct {
	ID           string
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	IsActive     bool
	ExpiresAt    *time.Time
	// MaxUses caps total redemptions; zero means uncapped.
	MaxUses    int
	UsageCount int
}

// Normalize canonicalizes a user-supplied coupon code. Codes are stored and
// compared in upper case.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Usable reports whether the coupon can be redeemed at the given time.
// Existence is the caller's concern; then active flag, expiry, usage cap.
func (c *Coupon) Usable(now time.Time) error {
	if !c.IsActive {
		return ErrInactive
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return ErrExpired
	}
	if c.MaxUses > 0 && c.UsageCount >= c.MaxUses {
		return ErrExhausted
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

// Discount returns the raw discount amount for the coupon against a subtotal.
// The caller subtracts it from the subtotal and clamps the result at zero;
// the amount itself is not capped.
func (c *Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	switch c.DiscountType {
	case DiscountPercentage:
		return subtotal.Mul(c.Value).Div(hundred).Round(2)
	case DiscountFixed:
		return c.Value.Round(2)
	default:
		return decimal.Zero
	}
}

// Repository provides coupon lookup and administration. The usage counter is
// incremented only inside the checkout transaction, never through this
// interface.
type Repository interface {
	// ByCode looks up a coupon by its normalized code, or ErrNotFound.
	ByCode(ctx context.Context, code string) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	List(ctx context.Context) ([]Coupon, error)
}
