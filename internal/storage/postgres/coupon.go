package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/coupon"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// max_uses is NULL in the database when the coupon is uncapped; the domain
// uses zero for the same thing.
const couponColumns = `id, code, discount_type, value, is_active, expires_at, COALESCE(max_uses, 0), usage_count`

func scanCoupon(row pgx.Row) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.DiscountType, &c.Value,
		&c.IsActive, &c.ExpiresAt, &c.MaxUses, &c.UsageCount)
	return c, err
}

// ByCode looks up a coupon by its normalized code, or coupon.ErrNotFound.
func (r *CouponRepository) ByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, err := scanCoupon(r.pool.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`, coupon.Normalize(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get coupon %q", code)
	}
	return &c, nil
}

// Create persists a new coupon. A duplicate code maps to coupon.ErrCodeExists.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO coupons (id, code, discount_type, value, is_active, expires_at, max_uses, usage_count)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, 0), $8)`,
		c.ID, coupon.Normalize(c.Code), c.DiscountType, c.Value,
		c.IsActive, c.ExpiresAt, c.MaxUses, c.UsageCount)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return coupon.ErrCodeExists
		}
		return errors.Wrapf(err, "insert coupon %q", c.Code)
	}
	return nil
}

// List returns every coupon ordered by code.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+couponColumns+` FROM coupons ORDER BY code`)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	defer rows.Close()

	var coupons []coupon.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan coupon")
		}
		coupons = append(coupons, c)
	}
	return coupons, errors.Wrap(rows.Err(), "iterate coupons")
}
