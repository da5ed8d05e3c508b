package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/cart"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/catalog"
)

// Carts are keyed by an opaque session id the client generates and sends on
// every request. No account is needed to build a cart.
const sessionHeader = "X-Session-ID"

func sessionID(r *http.Request) string {
	return r.Header.Get(sessionHeader)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		respondError(r.Context(), w, http.StatusBadRequest, "missing "+sessionHeader+" header")
		return
	}

	c, err := h.carts.BySession(r.Context(), sid)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			// A session that never added anything has an empty cart, not a 404.
			respondJSON(r.Context(), w, http.StatusOK, toCartDTO(&cart.Cart{SessionID: sid}))
			return
		}
		respondInternal(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, toCartDTO(c))
}

type addCartItemRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		respondError(r.Context(), w, http.StatusBadRequest, "missing "+sessionHeader+" header")
		return
	}

	var req addCartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The variant must exist before it can be carted; stock is checked at
	// checkout, not here.
	if _, err := h.catalog.GetVariant(r.Context(), req.VariantID); err != nil {
		if errors.Is(err, catalog.ErrVariantNotFound) {
			respondError(r.Context(), w, http.StatusUnprocessableEntity, "variant not found")
			return
		}
		respondInternal(r.Context(), w, err)
		return
	}

	c, err := h.carts.BySession(r.Context(), sid)
	if err != nil {
		if !errors.Is(err, cart.ErrNotFound) {
			respondInternal(r.Context(), w, err)
			return
		}
		c = &cart.Cart{ID: uuid.New().String(), SessionID: sid}
	}

	if err := c.Add(req.VariantID, req.Quantity); err != nil {
		respondError(r.Context(), w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.carts.Save(r.Context(), c); err != nil {
		respondInternal(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, toCartDTO(c))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		respondError(r.Context(), w, http.StatusBadRequest, "missing "+sessionHeader+" header")
		return
	}

	if err := h.carts.Clear(r.Context(), sid); err != nil && !errors.Is(err, cart.ErrNotFound) {
		respondInternal(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
