package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/user"
)

// ConfirmationSender dispatches an order-confirmation notification. Failures
// are the sender's own concern to report; callers only log them.
type ConfirmationSender interface {
	SendOrderConfirmation(ctx context.Context, o *Order, u *user.User) error
}

// Service governs order lifecycle transitions after checkout.
type Service struct {
	orders   Repository
	users    user.Repository
	notifier ConfirmationSender
	lg       *zap.Logger
}

// NewService creates a lifecycle Service.
func NewService(orders Repository, users user.Repository, notifier ConfirmationSender, lg *zap.Logger) *Service {
	return &Service{
		orders:   orders,
		users:    users,
		notifier: notifier,
		lg:       lg,
	}
}

// MarkPaid applies an externally confirmed payment to an order. The
// transition is idempotent under at-least-once delivery: a confirmation for
// an order that is already PAID (or beyond) is a no-op success and triggers
// no further side effects. The confirmation dispatch runs after the
// transition is durable and never rolls it back.
func (s *Service) MarkPaid(ctx context.Context, orderID, paymentRef string) error {
	transitioned, err := s.orders.MarkPaid(ctx, orderID, paymentRef)
	if err != nil {
		return errors.Wrap(err, "mark paid")
	}
	if !transitioned {
		s.lg.Info("duplicate payment confirmation ignored",
			zap.String("order_id", orderID))
		return nil
	}

	s.lg.Info("order paid",
		zap.String("order_id", orderID),
		zap.String("payment_ref", paymentRef))
	s.sendConfirmation(ctx, orderID)
	return nil
}

// sendConfirmation dispatches the order-confirmation notification.
// Best effort: the money has cleared and the order is durable, so any failure
// here is logged and swallowed.
func (s *Service) sendConfirmation(ctx context.Context, orderID string) {
	o, err := s.orders.ByID(ctx, orderID)
	if err != nil {
		s.lg.Warn("confirmation skipped: load order",
			zap.String("order_id", orderID), zap.Error(err))
		return
	}
	u, err := s.users.ByID(ctx, o.UserID)
	if err != nil {
		s.lg.Warn("confirmation skipped: load user",
			zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if err := s.notifier.SendOrderConfirmation(ctx, o, u); err != nil {
		s.lg.Warn("order confirmation not sent",
			zap.String("order_id", orderID), zap.Error(err))
	}
}

// Advance performs an administrative lifecycle transition, validated against
// the state machine. The PAID transition is reserved for MarkPaid.
func (s *Service) Advance(ctx context.Context, orderID string, next Status) (*Order, error) {
	o, err := s.orders.ByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "load order")
	}
	if !o.Status.CanTransition(next) {
		return nil, &InvalidTransitionError{From: o.Status, To: next}
	}
	if err := s.orders.UpdateStatus(ctx, orderID, next); err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	o.Status = next
	return o, nil
}
