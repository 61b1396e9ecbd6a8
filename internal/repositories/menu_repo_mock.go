package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"foodorder/internal/models"

	"github.com/google/uuid"
)

// MockMenuRepository is an in-memory implementation of MenuRepository.
type MockMenuRepository struct {
	items map[string]models.MenuItem
	mu    sync.RWMutex
}

// NewMockMenuRepository creates a new instance of MockMenuRepository.
func NewMockMenuRepository() *MockMenuRepository {
	return &MockMenuRepository{
		items: make(map[string]models.MenuItem),
	}
}

// GetByIDs returns the requested items that belong to restaurantID.
func (r *MockMenuRepository) GetByIDs(_ context.Context, restaurantID string, ids []string) (map[string]models.MenuItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]models.MenuItem, len(ids))
	for _, id := range ids {
		if item, ok := r.items[id]; ok && item.RestaurantID == restaurantID {
			result[id] = item
		}
	}
	return result, nil
}

// Create adds a new menu item.
func (r *MockMenuRepository) Create(_ context.Context, item *models.MenuItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if _, ok := r.items[item.ID]; ok {
		return fmt.Errorf("failed to create menu item %s: %w", item.ID, ErrDuplicate)
	}
	item.CreatedAt = time.Now()
	item.UpdatedAt = time.Now()
	r.items[item.ID] = *item
	return nil
}
