package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/cart"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/catalog"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/coupon"
	"github.com/KilaBean/my-ecommerce-api/internal/domain/order"
)

type variantDTO struct {
	ID         string            `json:"id"`
	SKU        string            `json:"sku"`
	Price      decimal.Decimal   `json:"price"`
	Stock      int               `json:"stock"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type productDTO struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category"`
	Variants    []variantDTO `json:"variants"`
}

func toProductDTO(p catalog.Product) productDTO {
	variants := make([]variantDTO, len(p.Variants))
	for i, v := range p.Variants {
		variants[i] = variantDTO{
			ID:         v.ID,
			SKU:        v.SKU,
			Price:      v.Price,
			Stock:      v.Stock,
			Attributes: v.Attributes,
		}
	}
	return productDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Variants:    variants,
	}
}

func toProductDTOs(products []catalog.Product) []productDTO {
	out := make([]productDTO, len(products))
	for i, p := range products {
		out[i] = toProductDTO(p)
	}
	return out
}

type cartDTO struct {
	SessionID string      `json:"session_id"`
	Items     []cart.Line `json:"items"`
}

func toCartDTO(c *cart.Cart) cartDTO {
	items := c.Lines
	if items == nil {
		items = []cart.Line{}
	}
	return cartDTO{SessionID: c.SessionID, Items: items}
}

type orderLineDTO struct {
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type orderDTO struct {
	ID              string          `json:"id"`
	Total           decimal.Decimal `json:"total"`
	Status          order.Status    `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []orderLineDTO  `json:"items"`
}

func toOrderDTO(o *order.Order) orderDTO {
	items := make([]orderLineDTO, len(o.Lines))
	for i, l := range o.Lines {
		items[i] = orderLineDTO{
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}
	return orderDTO{
		ID:              o.ID,
		Total:           o.Total,
		Status:          o.Status,
		ShippingAddress: o.ShippingAddress,
		PaymentIntentID: o.PaymentIntentID,
		CreatedAt:       o.CreatedAt,
		Items:           items,
	}
}

func toOrderDTOs(orders []order.Order) []orderDTO {
	out := make([]orderDTO, len(orders))
	for i := range orders {
		out[i] = toOrderDTO(&orders[i])
	}
	return out
}

type couponDTO struct {
	ID           string              `json:"id"`
	Code         string              `json:"code"`
	DiscountType coupon.DiscountType `json:"discount_type"`
	Value        decimal.Decimal     `json:"value"`
	IsActive     bool                `json:"is_active"`
	ExpiresAt    *time.Time          `json:"expires_at,omitempty"`
	MaxUses      int                 `json:"max_uses,omitempty"`
	UsageCount   int                 `json:"usage_count"`
}

func toCouponDTO(c *coupon.Coupon) couponDTO {
	return couponDTO{
		ID:           c.ID,
		Code:         c.Code,
		DiscountType: c.DiscountType,
		Value:        c.Value,
		IsActive:     c.IsActive,
		ExpiresAt:    c.ExpiresAt,
		MaxUses:      c.MaxUses,
		UsageCount:   c.UsageCount,
	}
}
