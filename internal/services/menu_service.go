package services

import (
	"context"
	"errors"
	"fmt"

	"foodorder/internal/models"
	"foodorder/internal/repositories"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MenuItemInput is a catalog entry submitted by a restaurant.
type MenuItemInput struct {
	ID        string          `json:"id,omitempty" validate:"omitempty,max=64"`
	Name      string          `json:"name" validate:"required,max=255"`
	Price     decimal.Decimal `json:"price"`
	Available *bool           `json:"available,omitempty"`
}

// MenuService maintains the catalog prices orders are priced from.
type MenuService struct {
	repo     repositories.MenuRepository
	validate *validator.Validate
}

// NewMenuService creates a new MenuService.
func NewMenuService(repo repositories.MenuRepository) *MenuService {
	return &MenuService{
		repo:     repo,
		validate: newValidator(),
	}
}

// CreateMenuItem adds an item to a restaurant's catalog. Restaurants may
// only add to their own catalog.
func (s *MenuService) CreateMenuItem(ctx context.Context, principal models.Principal, restaurantID string, in MenuItemInput) (*models.MenuItem, error) {
	if !principal.Is(models.RoleAdmin) && !(principal.Is(models.RoleRestaurant) && principal.UserID == restaurantID) {
		return nil, fmt.Errorf("%w: catalog of restaurant %s", ErrForbidden, restaurantID)
	}
	if restaurantID == "" {
		return nil, newValidationError("restaurant_id", "is required")
	}
	if err := validateStruct(s.validate, in); err != nil {
		return nil, err
	}
	if in.Price.IsNegative() {
		return nil, newValidationError("price", "must not be negative")
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	item := &models.MenuItem{
		ID:           id,
		RestaurantID: restaurantID,
		Name:         in.Name,
		Price:        in.Price.Round(2),
		Available:    in.Available == nil || *in.Available,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, fmt.Errorf("%w: menu item %s already exists", ErrConflict, id)
		}
		return nil, fmt.Errorf("failed to create menu item: %w", err)
	}
	return item, nil
}
