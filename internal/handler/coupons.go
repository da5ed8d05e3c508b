package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/coupon"
)

type createCouponRequest struct {
	Code         string              `json:"code"`
	DiscountType coupon.DiscountType `json:"discount_type"`
	Value        decimal.Decimal     `json:"value"`
	ExpiresAt    *time.Time          `json:"expires_at"`
	MaxUses      int                 `json:"max_uses"`
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, "invalid request body")
		return
	}

	code := coupon.Normalize(req.Code)
	switch {
	case code == "":
		respondError(r.Context(), w, http.StatusBadRequest, "code is required")
		return
	case !req.DiscountType.Valid():
		respondError(r.Context(), w, http.StatusBadRequest, "discount_type must be PERCENTAGE or FIXED")
		return
	case !req.Value.IsPositive():
		respondError(r.Context(), w, http.StatusBadRequest, "value must be positive")
		return
	case req.DiscountType == coupon.DiscountPercentage && req.Value.GreaterThan(decimalHundred):
		respondError(r.Context(), w, http.StatusBadRequest, "percentage value cannot exceed 100")
		return
	case req.MaxUses < 0:
		respondError(r.Context(), w, http.StatusBadRequest, "max_uses cannot be negative")
		return
	}

	c := coupon.Coupon{
		ID:           uuid.New().String(),
		Code:         code,
		DiscountType: req.DiscountType,
		Value:        req.Value,
		IsActive:     true,
		ExpiresAt:    req.ExpiresAt,
		MaxUses:      req.MaxUses,
	}
	if err := h.coupons.Create(r.Context(), &c); err != nil {
		if errors.Is(err, coupon.ErrCodeExists) {
			respondError(r.Context(), w, http.StatusConflict, "coupon code already exists")
			return
		}
		respondInternal(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusCreated, toCouponDTO(&c))
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		respondInternal(r.Context(), w, err)
		return
	}

	out := make([]couponDTO, len(coupons))
	for i := range coupons {
		out[i] = toCouponDTO(&coupons[i])
	}
	respondJSON(r.Context(), w, http.StatusOK, out)
}
