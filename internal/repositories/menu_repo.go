package repositories

import (
	"context"

	"foodorder/internal/models"
)

// MenuRepository is the read side of the restaurant catalog used for pricing.
type MenuRepository interface {
	// GetByIDs returns the requested items of one restaurant keyed by ID.
	// Unknown IDs are simply absent from the result.
	GetByIDs(ctx context.Context, restaurantID string, ids []string) (map[string]models.MenuItem, error)
	Create(ctx context.Context, item *models.MenuItem) error
}
