package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"foodorder/internal/models"

	"github.com/samber/lo"
)

// MockOrderRepository is an in-memory implementation of OrderRepository.
// Conditional writes are checked and applied under one lock, which gives the
// same all-or-nothing behaviour as the SQL conditional updates.
type MockOrderRepository struct {
	orders map[string]models.Order
	mu     sync.RWMutex
}

// NewMockOrderRepository creates a new instance of MockOrderRepository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[string]models.Order),
	}
}

// Create adds a new order.
func (r *MockOrderRepository) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return fmt.Errorf("failed to create order %s: %w", order.ID, ErrDuplicate)
	}
	if order.IdempotencyKey != nil {
		for _, o := range r.orders {
			if o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return fmt.Errorf("failed to create order %s: %w", order.ID, ErrDuplicate)
			}
		}
	}

	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		order.Items[i].Position = i
		order.Items[i].OrderID = order.ID
	}
	r.orders[order.ID] = cloneOrder(*order)
	return nil
}

// GetByID returns an order by its ID.
func (r *MockOrderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	}
	o := cloneOrder(order)
	return &o, nil
}

// GetByIdempotencyKey returns the order created with key.
func (r *MockOrderRepository) GetByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, order := range r.orders {
		if order.IdempotencyKey != nil && *order.IdempotencyKey == key {
			o := cloneOrder(order)
			return &o, nil
		}
	}
	return nil, fmt.Errorf("idempotency key %s: %w", key, ErrOrderNotFound)
}

// List returns orders matching filter, newest first.
func (r *MockOrderRepository) List(_ context.Context, filter models.OrderFilter) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]models.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.RestaurantID != "" && o.RestaurantID != filter.RestaurantID {
			continue
		}
		if filter.DriverID != "" && !o.AssignedTo(filter.DriverID) {
			continue
		}
		if len(filter.Statuses) > 0 && !lo.Contains(filter.Statuses, o.Status) {
			continue
		}
		if filter.Unassigned && o.DriverID != nil {
			continue
		}
		result = append(result, cloneOrder(o))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []models.Order{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// UpdateStatus is a compare-and-swap on the status.
func (r *MockOrderRepository) UpdateStatus(_ context.Context, id string, from, to models.OrderStatus) (*models.Order, error) {
	return r.conditionalUpdate("update status", id,
		func(o *models.Order) bool { return o.Status == from },
		func(o *models.Order) { o.Status = to },
	)
}

// AssignDriver binds driverID if the order is out for delivery and unassigned.
func (r *MockOrderRepository) AssignDriver(_ context.Context, id, driverID string) (*models.Order, error) {
	return r.conditionalUpdate("assign driver", id,
		func(o *models.Order) bool { return o.Status == models.StatusOutForDelivery && o.DriverID == nil },
		func(o *models.Order) { o.DriverID = lo.ToPtr(driverID) },
	)
}

// CompleteDelivery marks the order delivered if driverID owns it.
func (r *MockOrderRepository) CompleteDelivery(_ context.Context, id, driverID string) (*models.Order, error) {
	return r.conditionalUpdate("complete delivery", id,
		func(o *models.Order) bool { return o.Status == models.StatusOutForDelivery && o.AssignedTo(driverID) },
		func(o *models.Order) { o.Status = models.StatusDelivered },
	)
}

// SetRefundStatus is a compare-and-swap on the refund status.
func (r *MockOrderRepository) SetRefundStatus(_ context.Context, id string, from []models.RefundStatus, to models.RefundStatus) (*models.Order, error) {
	return r.conditionalUpdate("set refund status", id,
		func(o *models.Order) bool { return lo.Contains(from, o.Payment.RefundStatus) },
		func(o *models.Order) { o.Payment.RefundStatus = to },
	)
}

// ReclaimStaleRefund renews an abandoned refund claim.
func (r *MockOrderRepository) ReclaimStaleRefund(_ context.Context, id string, olderThan time.Time) (*models.Order, error) {
	return r.conditionalUpdate("reclaim refund", id,
		func(o *models.Order) bool {
			return o.Payment.RefundStatus == models.RefundStatusRequested && o.UpdatedAt.Before(olderThan)
		},
		func(*models.Order) {},
	)
}

// ListDeliveredByDriver returns every delivered order attributed to driverID.
func (r *MockOrderRepository) ListDeliveredByDriver(_ context.Context, driverID string) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.Order
	for _, o := range r.orders {
		if o.Status == models.StatusDelivered && o.AssignedTo(driverID) {
			result = append(result, cloneOrder(o))
		}
	}
	return result, nil
}

// ListDriversWithDeliveries returns the drivers owning at least one delivered order.
func (r *MockOrderRepository) ListDriversWithDeliveries(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, o := range r.orders {
		if o.Status == models.StatusDelivered && o.DriverID != nil {
			ids = append(ids, *o.DriverID)
		}
	}
	return lo.Uniq(ids), nil
}

// ListByRefundStatus returns orders whose refund is in the given state.
func (r *MockOrderRepository) ListByRefundStatus(_ context.Context, status models.RefundStatus) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.Order
	for _, o := range r.orders {
		if o.Payment.RefundStatus == status {
			result = append(result, cloneOrder(o))
		}
	}
	return result, nil
}

// Count returns the number of stored orders.
func (r *MockOrderRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

func (r *MockOrderRepository) conditionalUpdate(op, id string, cond func(*models.Order) bool, apply func(*models.Order)) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	}
	if !cond(&order) {
		current := cloneOrder(order)
		return nil, &ConditionError{Op: op, Current: &current}
	}
	apply(&order)
	order.UpdatedAt = time.Now().UTC()
	r.orders[id] = order

	updated := cloneOrder(order)
	return &updated, nil
}

func cloneOrder(o models.Order) models.Order {
	c := o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	if o.DriverID != nil {
		c.DriverID = lo.ToPtr(*o.DriverID)
	}
	if o.IdempotencyKey != nil {
		c.IdempotencyKey = lo.ToPtr(*o.IdempotencyKey)
	}
	if o.Payment.AuthorizationID != nil {
		c.Payment.AuthorizationID = lo.ToPtr(*o.Payment.AuthorizationID)
	}
	return c
}
