package services

import (
	"context"
	"fmt"

	"foodorder/internal/models"
	"foodorder/internal/repositories"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CartItem is one client-submitted line. UnitPrice is what the client
// displayed and is only used to report discrepancies.
type CartItem struct {
	MenuItemID string           `json:"menu_item_id" validate:"required"`
	Quantity   int              `json:"quantity" validate:"min=1"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
}

// ClientTotals are the totals the client displayed at checkout.
type ClientTotals struct {
	Subtotal    *decimal.Decimal `json:"subtotal,omitempty"`
	Tax         *decimal.Decimal `json:"tax,omitempty"`
	DeliveryFee *decimal.Decimal `json:"delivery_fee,omitempty"`
	Total       *decimal.Decimal `json:"total,omitempty"`
}

// PricingConfig holds the server-side pricing constants.
type PricingConfig struct {
	TaxRate            decimal.Decimal
	DefaultDeliveryFee decimal.Decimal
	Tolerance          decimal.Decimal
}

// DefaultPricingConfig returns a 10% tax rate, a 2.99 delivery fee and a
// tolerance of one currency unit.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		TaxRate:            decimal.RequireFromString("0.10"),
		DefaultDeliveryFee: decimal.RequireFromString("2.99"),
		Tolerance:          decimal.NewFromInt(1),
	}
}

// Quote is the authoritative pricing of a cart.
type Quote struct {
	Items       []models.OrderItem
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
	// Discrepancy is |client total - server total|, zero when the client sent no total.
	Discrepancy decimal.Decimal
}

// PricingReconciler reprices a cart from the restaurant catalog.
type PricingReconciler struct {
	menu repositories.MenuRepository
	cfg  PricingConfig
}

// NewPricingReconciler creates a new PricingReconciler.
func NewPricingReconciler(menu repositories.MenuRepository, cfg PricingConfig) *PricingReconciler {
	return &PricingReconciler{menu: menu, cfg: cfg}
}

// Reconcile prices items with the catalog's prices, never the client's.
// A client total off by more than the tolerance is logged; the server total
// is returned either way.
func (p *PricingReconciler) Reconcile(ctx context.Context, restaurantID string, items []CartItem, deliveryFee *decimal.Decimal, client ClientTotals) (*Quote, error) {
	if len(items) == 0 {
		return nil, newValidationError("items", "at least one item is required")
	}
	if deliveryFee != nil && deliveryFee.IsNegative() {
		return nil, newValidationError("delivery_fee", "must not be negative")
	}

	ids := lo.Uniq(lo.Map(items, func(it CartItem, _ int) string { return it.MenuItemID }))
	catalog, err := p.menu.GetByIDs(ctx, restaurantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load menu for restaurant %s: %w", restaurantID, err)
	}

	verr := &ValidationError{Fields: map[string]string{}}
	lines := make([]models.OrderItem, 0, len(items))
	for i, it := range items {
		field := fmt.Sprintf("items[%d]", i)
		if it.Quantity < 1 {
			verr.Fields[field+".quantity"] = "must be at least 1"
			continue
		}
		menuItem, ok := catalog[it.MenuItemID]
		if !ok {
			verr.Fields[field+".menu_item_id"] = fmt.Sprintf("%s: %s", it.MenuItemID, repositories.ErrMenuItemNotFound)
			continue
		}
		if !menuItem.Available {
			verr.Fields[field+".menu_item_id"] = fmt.Sprintf("%s is not available", it.MenuItemID)
			continue
		}
		if menuItem.Price.IsNegative() {
			verr.Fields[field+".unit_price"] = "catalog price is negative"
			continue
		}
		if it.UnitPrice != nil && !it.UnitPrice.Equal(menuItem.Price) {
			log.Info().
				Str("menu_item_id", it.MenuItemID).
				Str("client_price", it.UnitPrice.StringFixed(2)).
				Str("server_price", menuItem.Price.StringFixed(2)).
				Msg("client unit price differs from catalog")
		}
		lines = append(lines, models.OrderItem{
			MenuItemID: menuItem.ID,
			Name:       menuItem.Name,
			UnitPrice:  menuItem.Price,
			Quantity:   it.Quantity,
		})
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	q := p.Price(lines, deliveryFee)
	if client.Total != nil {
		q.Discrepancy = client.Total.Sub(q.Total).Abs()
		if q.Discrepancy.GreaterThan(p.cfg.Tolerance) {
			log.Warn().
				Str("restaurant_id", restaurantID).
				Str("client_total", client.Total.StringFixed(2)).
				Str("server_total", q.Total.StringFixed(2)).
				Str("discrepancy", q.Discrepancy.StringFixed(2)).
				Msg("client total differs from server total, using server total")
		}
	}
	return q, nil
}

// Price computes the totals of already-priced lines.
func (p *PricingReconciler) Price(lines []models.OrderItem, deliveryFee *decimal.Decimal) *Quote {
	subtotal := lo.Reduce(lines, func(acc decimal.Decimal, l models.OrderItem, _ int) decimal.Decimal {
		return acc.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}, decimal.Zero).Round(2)

	fee := p.cfg.DefaultDeliveryFee
	if deliveryFee != nil {
		fee = *deliveryFee
	}
	fee = fee.Round(2)

	tax := subtotal.Mul(p.cfg.TaxRate).Round(2)
	return &Quote{
		Items:       lines,
		Subtotal:    subtotal,
		Tax:         tax,
		DeliveryFee: fee,
		Total:       subtotal.Add(tax).Add(fee).Round(2),
	}
}
