package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/KilaBean/my-ecommerce-api/internal/checkout"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/cart"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/coupon"
)

type checkoutRequest struct {
	ShippingAddress string `json:"shipping_address"`
	CouponCode      string `json:"coupon_code"`
}

type checkoutResponse struct {
	Order    orderDTO        `json:"order"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFrom(r.Context())
	if !ok {
		respondError(r.Context(), w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sid := sessionID(r)
	if sid == "" {
		respondError(r.Context(), w, http.StatusBadRequest, "missing "+sessionHeader+" header")
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ShippingAddress == "" {
		respondError(r.Context(), w, http.StatusBadRequest, "shipping_address is required")
		return
	}

	res, err := h.checkout.Checkout(r.Context(), checkout.Request{
		SessionID:       sid,
		UserID:          u.ID,
		ShippingAddress: req.ShippingAddress,
		CouponCode:      req.CouponCode,
	})
	if err != nil {
		h.mapCheckoutError(w, r, err)
		return
	}

	respondJSON(r.Context(), w, http.StatusCreated, checkoutResponse{
		Order:    toOrderDTO(res.Order),
		Subtotal: res.Subtotal,
		Discount: res.Discount,
	})
}

// mapCheckoutError converts checkout domain errors to HTTP responses.
// Anything unmatched is a 500.
func (h *Handler) mapCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	switch {
	case errors.Is(err, cart.ErrNotFound), errors.Is(err, cart.ErrEmpty):
		respondError(ctx, w, http.StatusBadRequest, "cart is empty")
	case errors.Is(err, coupon.ErrNotFound):
		respondError(ctx, w, http.StatusUnprocessableEntity, "unknown coupon code")
	case errors.Is(err, coupon.ErrInactive),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrExhausted):
		respondError(ctx, w, http.StatusUnprocessableEntity, err.Error())
	default:
		var (
			vnfErr *checkout.VariantNotFoundError
			isErr  *checkout.InsufficientStockError
		)
		switch {
		case errors.As(err, &vnfErr):
			respondError(ctx, w, http.StatusUnprocessableEntity, vnfErr.Error())
		case errors.As(err, &isErr):
			respondError(ctx, w, http.StatusConflict, isErr.Error())
		default:
			respondInternal(ctx, w, err)
		}
	}
}
