package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Cart lines
// are serialized as a JSONB array on the cart row.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// BySession returns the cart for a session, or cart.ErrNotFound.
func (r *CartRepository) BySession(ctx context.Context, sessionID string) (*cart.Cart, error) {
	c, err := scanCart(r.pool.QueryRow(ctx,
		`SELECT id, session_id, items FROM carts WHERE session_id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get cart for session %q", sessionID)
	}
	return c, nil
}

func scanCart(row pgx.Row) (*cart.Cart, error) {
	var (
		c     cart.Cart
		items []byte
	)
	if err := row.Scan(&c.ID, &c.SessionID, &items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &c.Lines); err != nil {
		return nil, errors.Wrap(err, "unmarshal cart items")
	}
	return &c, nil
}

// Save upserts the cart row keyed by session id.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	items, err := json.Marshal(c.Lines)
	if err != nil {
		return errors.Wrap(err, "marshal cart items")
	}
	if c.Lines == nil {
		items = []byte("[]")
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO carts (id, session_id, items)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE SET items = EXCLUDED.items`,
		c.ID, c.SessionID, items)
	if err != nil {
		return errors.Wrapf(err, "save cart for session %q", c.SessionID)
	}
	return nil
}

// Clear resets the cart's line list; the row itself persists.
func (r *CartRepository) Clear(ctx context.Context, sessionID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE carts SET items = '[]'::jsonb WHERE session_id = $1`, sessionID)
	if err != nil {
		return errors.Wrapf(err, "clear cart for session %q", sessionID)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}
