package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/order"
)

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFrom(r.Context())
	if !ok {
		respondError(r.Context(), w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orders, err := h.orders.ListByUser(r.Context(), u.ID)
	if err != nil {
		respondInternal(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, toOrderDTOs(orders))
}

func (h *Handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListAll(r.Context())
	if err != nil {
		respondInternal(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, toOrderDTOs(orders))
}

type advanceOrderRequest struct {
	Status order.Status `json:"status"`
}

// advanceOrder applies an administrative lifecycle transition. PAID is never
// reachable here; it only happens through the payment webhook.
func (h *Handler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	var req advanceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.Valid() || req.Status == order.StatusPaid {
		respondError(r.Context(), w, http.StatusBadRequest, "invalid target status")
		return
	}

	o, err := h.lifecycle.Advance(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		var itErr *order.InvalidTransitionError
		switch {
		case errors.Is(err, order.ErrNotFound):
			respondError(r.Context(), w, http.StatusNotFound, "order not found")
		case errors.As(err, &itErr):
			respondError(r.Context(), w, http.StatusConflict, itErr.Error())
		default:
			respondInternal(r.Context(), w, err)
		}
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, toOrderDTO(o))
}
