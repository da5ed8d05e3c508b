package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Order
// creation happens inside the checkout transaction; this repository covers
// everything that comes after.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, user_id, total, status, shipping_address, COALESCE(payment_intent_id, ''), created_at`

func scanOrder(row pgx.Row) (order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Total, &o.Status,
		&o.ShippingAddress, &o.PaymentIntentID, &o.CreatedAt)
	return o, err
}

// ByID returns an order with its lines, or order.ErrNotFound.
func (r *OrderRepository) ByID(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	orders := []order.Order{o}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByUser returns a user's orders newest first, with lines.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	return r.list(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListAll returns every order newest first, with lines.
func (r *OrderRepository) ListAll(ctx context.Context) ([]order.Order, error) {
	return r.list(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orders")
	}

	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) attachLines(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	idx := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		idx[o.ID] = i
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, variant_id, quantity, unit_price
		 FROM order_items WHERE order_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return errors.Wrap(err, "list order items")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l       order.Line
			orderID string
		)
		if err := rows.Scan(&l.ID, &orderID, &l.VariantID, &l.Quantity, &l.UnitPrice); err != nil {
			return errors.Wrap(err, "scan order item")
		}
		i := idx[orderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	return errors.Wrap(rows.Err(), "iterate order items")
}

// MarkPaid transitions CREATED -> PAID in a single guarded UPDATE. The status
// predicate makes the write a no-op when the order is already PAID or beyond,
// so replayed payment confirmations change nothing.
func (r *OrderRepository) MarkPaid(ctx context.Context, id, paymentRef string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $2, payment_intent_id = COALESCE(NULLIF($3, ''), payment_intent_id)
		 WHERE id = $1 AND status = $4`,
		id, order.StatusPaid, paymentRef, order.StatusCreated)
	if err != nil {
		return false, errors.Wrapf(err, "mark order %q paid", id)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Distinguish "already paid" from "no such order".
	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check order %q", id)
	}
	if !exists {
		return false, order.ErrNotFound
	}
	return false, nil
}

// SetPaymentIntent records the external payment reference on an order.
func (r *OrderRepository) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_intent_id = $2 WHERE id = $1`, id, intentID)
	if err != nil {
		return errors.Wrapf(err, "set payment intent on order %q", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// UpdateStatus writes a new status. Transition legality is checked by the
// caller; this is a plain write.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, next order.Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`, id, next)
	if err != nil {
		return errors.Wrapf(err, "update status on order %q", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}
