package checkout

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/KilaBean/my-ecommerce-api/internal/broadcast"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/cart"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/coupon"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/order"
)

// Engine orchestrates cart retrieval, coupon validation, inventory locking,
// pricing, order persistence, inventory deduction, coupon increment, and cart
// reset as one atomic unit.
type Engine struct {
	store Store
	hub   Publisher
	lg    *zap.Logger

	tracer    trace.Tracer
	checkouts metric.Int64Counter

	now func() time.Time
}

// NewEngine creates a checkout Engine.
func NewEngine(store Store, hub Publisher, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*Engine, error) {
	checkouts, err := mp.Meter("checkout").Int64Counter("checkouts_total",
		metric.WithDescription("Completed checkout attempts by outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "create checkout counter")
	}

	return &Engine{
		store:     store,
		hub:       hub,
		lg:        lg,
		tracer:    tp.Tracer("checkout"),
		checkouts: checkouts,
		now:       time.Now,
	}, nil
}

// stockEvent pairs a broadcast event with its product topic; collected inside
// the transaction, published only after commit.
type stockEvent struct {
	productID string
	ev        broadcast.Event
}

// Checkout turns the session's cart into a durable order.
//
// The whole sequence runs in one transaction: on any failure nothing is
// observable, no partial stock deduction, no coupon increment, no order row.
// Stock events are a side channel published after the commit; their delivery
// is not part of the durability contract.
func (e *Engine) Checkout(ctx context.Context, req Request) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "Checkout")
	defer span.End()

	var (
		res    Result
		events []stockEvent
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		events = events[:0]

		crt, err := tx.CartBySession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		if len(crt.Lines) == 0 {
			return cart.ErrEmpty
		}

		// Coupon validation happens before inventory is touched, but the
		// usage increment waits until the order is created, so a checkout
		// that fails on stock never charges a use.
		var cpn *coupon.Coupon
		if code := coupon.Normalize(req.CouponCode); code != "" {
			cpn, err = tx.CouponByCode(ctx, code)
			if err != nil {
				return err
			}
			if err := cpn.Usable(e.now()); err != nil {
				return err
			}
		}

		// One batched lock request over the distinct variant rows, in
		// ascending id order so concurrent checkouts can never cyclic-wait.
		variants, err := tx.LockVariants(ctx, distinctSorted(crt.VariantIDs()))
		if err != nil {
			return errors.Wrap(err, "lock variants")
		}
		byID := make(map[string]int, len(variants))
		for i, v := range variants {
			byID[v.ID] = i
		}

		subtotal := decimal.Zero
		lines := make([]order.Line, 0, len(crt.Lines))
		for _, l := range crt.Lines {
			i, ok := byID[l.VariantID]
			if !ok {
				return &VariantNotFoundError{VariantID: l.VariantID}
			}
			v := variants[i]
			if l.Quantity > v.Stock {
				return &InsufficientStockError{
					SKU:       v.SKU,
					Available: v.Stock,
					Requested: l.Quantity,
				}
			}
			subtotal = subtotal.Add(v.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
			// The current price is frozen onto the line here; later price
			// edits never touch it.
			lines = append(lines, order.Line{
				ID:        uuid.New().String(),
				VariantID: v.ID,
				Quantity:  l.Quantity,
				UnitPrice: v.Price,
			})
		}

		discount := decimal.Zero
		if cpn != nil {
			discount = cpn.Discount(subtotal)
		}
		total := subtotal.Sub(discount)
		if total.IsNegative() {
			total = decimal.Zero
		}

		o := &order.Order{
			ID:              uuid.New().String(),
			UserID:          req.UserID,
			Lines:           lines,
			Total:           total.Round(2),
			Status:          order.StatusCreated,
			ShippingAddress: req.ShippingAddress,
			CreatedAt:       e.now(),
		}
		if err := tx.CreateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}

		for _, l := range crt.Lines {
			v := variants[byID[l.VariantID]]
			newStock, err := tx.DeductStock(ctx, v.ID, l.Quantity)
			if err != nil {
				return errors.Wrapf(err, "deduct stock for %s", v.SKU)
			}
			events = append(events, stockEvent{
				productID: v.ProductID,
				ev: broadcast.Event{
					Kind:      broadcast.EventStockUpdate,
					VariantID: v.ID,
					NewStock:  newStock,
				},
			})
		}

		if cpn != nil {
			if err := tx.IncrementCouponUsage(ctx, cpn.ID); err != nil {
				return errors.Wrap(err, "increment coupon usage")
			}
		}

		if err := tx.ClearCart(ctx, req.SessionID); err != nil {
			return errors.Wrap(err, "clear cart")
		}

		res = Result{Order: o, Subtotal: subtotal.Round(2), Discount: discount}
		return nil
	})
	if err != nil {
		e.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		span.RecordError(err)
		return nil, err
	}

	// Post-commit side channel: best effort, never fails the checkout.
	for _, se := range events {
		e.hub.Publish(se.productID, se.ev)
	}

	e.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	e.lg.Info("checkout completed",
		zap.String("order_id", res.Order.ID),
		zap.String("user_id", req.UserID),
		zap.String("total", res.Order.Total.String()),
		zap.Int("lines", len(res.Order.Lines)))
	return &res, nil
}

// distinctSorted returns the unique ids in ascending order.
func distinctSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
