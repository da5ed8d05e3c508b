package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/order"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/user"
	"github.com/KilaBean/my-ecommerce-api/internal/payment"
)

const webhookBodyLimit = 64 << 10

var decimalHundred = decimal.NewFromInt(100)

type createIntentRequest struct {
	OrderID string `json:"order_id"`
}

type intentDTO struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
}

func (h *Handler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFrom(r.Context())
	if !ok {
		respondError(r.Context(), w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createIntentRequest
	if err := decodeJSON(r, &req); err != nil || req.OrderID == "" {
		respondError(r.Context(), w, http.StatusBadRequest, "order_id is required")
		return
	}

	o, err := h.orders.ByID(r.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			respondError(r.Context(), w, http.StatusNotFound, "order not found")
			return
		}
		respondInternal(r.Context(), w, err)
		return
	}
	if o.UserID != u.ID && u.Role != user.RoleAdmin {
		respondError(r.Context(), w, http.StatusNotFound, "order not found")
		return
	}
	if o.Status != order.StatusCreated {
		respondError(r.Context(), w, http.StatusConflict, "order is not awaiting payment")
		return
	}

	// The processor works in minor units.
	amount := o.Total.Mul(decimalHundred).IntPart()
	intent, err := h.payments.CreateIntent(r.Context(), amount, o.ID)
	if err != nil {
		respondInternal(r.Context(), w, err)
		return
	}
	if err := h.orders.SetPaymentIntent(r.Context(), o.ID, intent.ID); err != nil {
		respondInternal(r.Context(), w, err)
		return
	}

	respondJSON(r.Context(), w, http.StatusCreated, intentDTO{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
	})
}

// paymentWebhook receives signed payment confirmations from the processor.
// Delivery is at-least-once; MarkPaid absorbs the duplicates.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, "unreadable body")
		return
	}

	ev, err := h.payments.VerifyWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrBadSignature) || errors.Is(err, payment.ErrStaleTimestamp) {
			respondError(r.Context(), w, http.StatusBadRequest, err.Error())
			return
		}
		respondInternal(r.Context(), w, err)
		return
	}

	switch ev.Type {
	case payment.EventPaymentSucceeded:
		if ev.OrderID == "" {
			respondError(r.Context(), w, http.StatusBadRequest, "event carries no order reference")
			return
		}
		if err := h.lifecycle.MarkPaid(r.Context(), ev.OrderID, ev.IntentID); err != nil {
			// An unknown order is not retryable: acknowledge so the
			// processor stops redelivering, and leave a trace.
			if errors.Is(err, order.ErrNotFound) {
				zctx.From(r.Context()).Warn("webhook for unknown order",
					zap.String("order_id", ev.OrderID),
					zap.String("intent_id", ev.IntentID))
				break
			}
			respondInternal(r.Context(), w, err)
			return
		}
	default:
		zctx.From(r.Context()).Debug("ignoring webhook event",
			zap.String("type", ev.Type))
	}

	respondJSON(r.Context(), w, http.StatusOK, map[string]bool{"received": true})
}
