package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KilaBean/my-ecommerce-api/internal/checkout"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/cart"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/catalog"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/coupon"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/order"
)

var (
	_ checkout.Store = (*Store)(nil)
	_ checkout.Tx    = (*checkoutTx)(nil)
)

// Store runs checkout transactions against PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx begins a transaction, runs fn inside it, and commits when fn returns
// nil. Any error from fn rolls the transaction back and is returned verbatim
// so callers can still match domain errors.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, &checkoutTx{tx: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

type checkoutTx struct {
	tx pgx.Tx
}

func (t *checkoutTx) CartBySession(ctx context.Context, sessionID string) (*cart.Cart, error) {
	c, err := scanCart(t.tx.QueryRow(ctx,
		`SELECT id, session_id, items FROM carts WHERE session_id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get cart for session %q", sessionID)
	}
	return c, nil
}

func (t *checkoutTx) CouponByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, err := scanCoupon(t.tx.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get coupon %q", code)
	}
	return &c, nil
}

// LockVariants takes FOR UPDATE row locks on the given variants in one
// batched query. ORDER BY id fixes the lock acquisition order so two
// overlapping checkouts cannot deadlock on each other.
func (t *checkoutTx) LockVariants(ctx context.Context, ids []string) ([]catalog.Variant, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+variantColumns+` FROM product_variants
		 WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock variants")
	}
	defer rows.Close()

	variants := make([]catalog.Variant, 0, len(ids))
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan variant")
		}
		variants = append(variants, v)
	}
	return variants, errors.Wrap(rows.Err(), "iterate variants")
}

func (t *checkoutTx) CreateOrder(ctx context.Context, o *order.Order) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, total, status, shipping_address, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		o.ID, o.UserID, o.Total, o.Status, o.ShippingAddress)
	if err != nil {
		return errors.Wrapf(err, "insert order %q", o.ID)
	}

	batch := &pgx.Batch{}
	for _, l := range o.Lines {
		batch.Queue(
			`INSERT INTO order_items (id, order_id, variant_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4, $5)`,
			l.ID, o.ID, l.VariantID, l.Quantity, l.UnitPrice)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "insert items for order %q", o.ID)
	}
	return nil
}

func (t *checkoutTx) DeductStock(ctx context.Context, variantID string, qty int) (int, error) {
	var remaining int
	err := t.tx.QueryRow(ctx,
		`UPDATE product_variants SET stock = stock - $2
		 WHERE id = $1 RETURNING stock`, variantID, qty).
		Scan(&remaining)
	if err != nil {
		return 0, errors.Wrapf(err, "deduct stock for variant %q", variantID)
	}
	return remaining, nil
}

func (t *checkoutTx) IncrementCouponUsage(ctx context.Context, couponID string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE coupons SET usage_count = usage_count + 1 WHERE id = $1`, couponID)
	if err != nil {
		return errors.Wrapf(err, "increment usage for coupon %q", couponID)
	}
	return nil
}

func (t *checkoutTx) ClearCart(ctx context.Context, sessionID string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE carts SET items = '[]'::jsonb WHERE session_id = $1`, sessionID)
	if err != nil {
		return errors.Wrapf(err, "clear cart for session %q", sessionID)
	}
	return nil
}
