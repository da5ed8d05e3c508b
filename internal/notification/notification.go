// Package notification sends transactional email to customers.
package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/order"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/user"
)

// Nop discards every notification. Used when SMTP is not configured.
type Nop struct {
	lg *zap.Logger
}

var _ order.ConfirmationSender = (*Nop)(nil)

// NewNop creates a Nop sender.
func NewNop(lg *zap.Logger) *Nop {
	return &Nop{lg: lg}
}

func (n *Nop) SendOrderConfirmation(_ context.Context, o *order.Order, u *user.User) error {
	n.lg.Debug("email delivery disabled, dropping order confirmation",
		zap.String("order_id", o.ID),
		zap.String("email", u.Email),
	)
	return nil
}
