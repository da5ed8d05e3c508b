// Package payment abstracts the external payment processor: creating payment
// intents for orders and verifying signed webhook notifications.
package payment

import (
	"context"

	"github.com/go-faster/errors"
)

// Webhook event types the rest of the system cares about. Anything else is
// acknowledged and dropped.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

var (
	// ErrBadSignature is returned when a webhook payload fails signature
	// verification.
	ErrBadSignature = errors.New("webhook signature verification failed")
	// ErrStaleTimestamp is returned when a webhook timestamp falls outside
	// the accepted tolerance window.
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")
)

// Intent is a payment intent registered with the processor for an order.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64 // minor units
	OrderID      string
}

// Event is a verified webhook notification.
type Event struct {
	Type     string
	IntentID string
	OrderID  string
}

// Provider is the outbound payment processor boundary.
type Provider interface {
	// CreateIntent registers a payment intent for the given amount in minor
	// units, tagged with the order it pays for.
	CreateIntent(ctx context.Context, amount int64, orderID string) (*Intent, error)
	// VerifyWebhook checks the signature header against the raw body and
	// decodes the event. It returns ErrBadSignature or ErrStaleTimestamp
	// when the payload cannot be trusted.
	VerifyWebhook(body []byte, sigHeader string) (*Event, error)
}
