package cart

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when no cart exists for a session.
	ErrNotFound = errors.New("cart not found")
	// ErrEmpty is returned when a cart exists but has no lines.
	ErrEmpty = errors.New("cart is empty")
	// ErrInvalidQuantity is returned when a line quantity is not positive.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// Line is one (variant, quantity) entry in a session's cart.
type Line struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// Cart holds the ordered line list for one shopping session. A cart is owned
// by its session for its lifetime and carries no user linkage until checkout.
type Cart struct {
	ID        string
	SessionID string
	Lines     []Line
}

// Add merges a line into the cart: a repeated add of the same variant
// increments the existing quantity instead of appending a duplicate entry.
func (c *Cart) Add(variantID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	for i := range c.Lines {
		if c.Lines[i].VariantID == variantID {
			c.Lines[i].Quantity += quantity
			return nil
		}
	}
	c.Lines = append(c.Lines, Line{VariantID: variantID, Quantity: quantity})
	return nil
}

// VariantIDs returns the distinct variant ids referenced by the cart,
// in line order.
func (c *Cart) VariantIDs() []string {
	ids := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		ids[i] = l.VariantID
	}
	return ids
}

// Repository defines cart persistence keyed by session id.
type Repository interface {
	// BySession returns the cart for a session, or ErrNotFound.
	BySession(ctx context.Context, sessionID string) (*Cart, error)
	// Save upserts the cart row, creating it lazily on first add.
	Save(ctx context.Context, c *Cart) error
	// Clear resets the cart's line list to empty; the row itself persists.
	Clear(ctx context.Context, sessionID string) error
}
