package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/KilaBean/my-ecommerce-api/internal/broadcast"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/catalog"
)

const defaultRecommendLimit = 4

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		respondInternal(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, toProductDTOs(products))
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			respondError(r.Context(), w, http.StatusNotFound, "product not found")
			return
		}
		respondInternal(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, toProductDTO(*p))
}

func (h *Handler) recommendProducts(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecommendLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 20 {
			respondError(r.Context(), w, http.StatusBadRequest, "limit must be between 1 and 20")
			return
		}
		limit = n
	}

	products, err := h.catalog.Recommend(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		respondInternal(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, toProductDTOs(products))
}

type createVariantRequest struct {
	SKU        string            `json:"sku"`
	Price      decimal.Decimal   `json:"price"`
	Stock      int               `json:"stock"`
	Attributes map[string]string `json:"attributes"`
}

type createProductRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Variants    []createVariantRequest `json:"variants"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || len(req.Variants) == 0 {
		respondError(r.Context(), w, http.StatusBadRequest, "name and at least one variant are required")
		return
	}
	for _, v := range req.Variants {
		if v.SKU == "" || v.Price.IsNegative() || v.Stock < 0 {
			respondError(r.Context(), w, http.StatusBadRequest, "each variant needs a sku, a non-negative price and stock")
			return
		}
	}

	p := catalog.Product{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		IsActive:    true,
	}
	for _, v := range req.Variants {
		p.Variants = append(p.Variants, catalog.Variant{
			ID:         uuid.New().String(),
			ProductID:  p.ID,
			SKU:        v.SKU,
			Price:      v.Price,
			Stock:      v.Stock,
			Attributes: v.Attributes,
		})
	}

	if err := h.catalog.CreateProduct(r.Context(), &p); err != nil {
		respondInternal(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusCreated, toProductDTO(p))
}

type setStockRequest struct {
	Stock int `json:"stock"`
}

type stockChangeDTO struct {
	VariantID string `json:"variant_id"`
	SKU       string `json:"sku"`
	OldStock  int    `json:"old_stock"`
	NewStock  int    `json:"new_stock"`
}

// setVariantStock replaces a variant's stock count and broadcasts the change
// to websocket subscribers of the owning product. Manual edits carry both the
// old and the new count so dashboards can show the delta.
func (h *Handler) setVariantStock(w http.ResponseWriter, r *http.Request) {
	var req setStockRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Stock < 0 {
		respondError(r.Context(), w, http.StatusBadRequest, "stock cannot be negative")
		return
	}

	change, err := h.catalog.SetStock(r.Context(), r.PathValue("id"), req.Stock)
	if err != nil {
		if errors.Is(err, catalog.ErrVariantNotFound) {
			respondError(r.Context(), w, http.StatusNotFound, "variant not found")
			return
		}
		respondInternal(r.Context(), w, err)
		return
	}

	old := change.OldStock
	h.hub.Publish(change.ProductID, broadcast.Event{
		Kind:      broadcast.EventStockUpdate,
		VariantID: change.VariantID,
		OldStock:  &old,
		NewStock:  change.NewStock,
	})

	respondJSON(r.Context(), w, http.StatusOK, stockChangeDTO{
		VariantID: change.VariantID,
		SKU:       change.SKU,
		OldStock:  change.OldStock,
		NewStock:  change.NewStock,
	})
}
