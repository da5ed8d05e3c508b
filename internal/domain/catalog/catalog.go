package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrVariantNotFound is returned when a requested variant does not exist.
var ErrVariantNotFound = errors.New("variant not found")

// ErrProductNotFound is returned when a requested product does not exist.
var ErrProductNotFound = errors.New("product not found")

// Product groups purchasable variants under a single catalog entry.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	IsActive    bool
	Variants    []Variant
}

// Variant is a purchasable SKU with its own price and stock count.
// Price and stock are only mutated under a held row lock (checkout deduction
// or manual stock edit).
type Variant struct {
	ID         string
	ProductID  string
	SKU        string
	Price      decimal.Decimal
	Stock      int
	Attributes map[string]string
}

// StockChange records the result of a stock mutation on a single variant.
type StockChange struct {
	VariantID string
	ProductID string
	SKU       string
	OldStock  int
	NewStock  int
}

// Repository defines catalog persistence operations outside the checkout
// transaction.
type Repository interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	// Recommend returns up to limit other products in the same category as
	// the given product.
	Recommend(ctx context.Context, productID string, limit int) ([]Product, error)
	CreateProduct(ctx context.Context, p *Product) error
	GetVariant(ctx context.Context, id string) (*Variant, error)
	// SetStock replaces a variant's stock count under an exclusive row lock
	// and reports the old and new counts.
	SetStock(ctx context.Context, variantID string, stock int) (*StockChange, error)
}
