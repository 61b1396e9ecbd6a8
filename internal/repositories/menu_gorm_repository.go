package repositories

import (
	"context"
	"errors"
	"fmt"

	"foodorder/internal/models"

	"gorm.io/gorm"
)

// GORMMenuRepository is a GORM implementation of MenuRepository.
type GORMMenuRepository struct {
	db *gorm.DB
}

// NewGORMMenuRepository creates a new instance of GORMMenuRepository.
func NewGORMMenuRepository(db *gorm.DB) *GORMMenuRepository {
	return &GORMMenuRepository{db: db}
}

// GetByIDs retrieves the requested menu items of a restaurant.
func (r *GORMMenuRepository) GetByIDs(ctx context.Context, restaurantID string, ids []string) (map[string]models.MenuItem, error) {
	var items []models.MenuItem
	err := r.db.WithContext(ctx).
		Where("restaurant_id = ? AND id IN ?", restaurantID, ids).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get menu items for restaurant %s: %w", restaurantID, err)
	}

	result := make(map[string]models.MenuItem, len(items))
	for _, item := range items {
		result[item.ID] = item
	}
	return result, nil
}

// Create creates a new menu item in the database.
func (r *GORMMenuRepository) Create(ctx context.Context, item *models.MenuItem) error {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to create menu item %s: %w", item.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create menu item: %w", err)
	}
	return nil
}
