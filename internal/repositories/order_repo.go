package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foodorder/internal/models"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrMenuItemNotFound = errors.New("menu item not found")
	ErrConditionFailed  = errors.New("conditional update matched no rows")
	ErrDuplicate        = errors.New("duplicate key")
)

// ConditionError is returned when a conditional write found the order but its
// current state did not satisfy the condition. Current is the state observed
// right after the failed write.
type ConditionError struct {
	Op      string
	Current *models.Order
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, ErrConditionFailed)
}

func (e *ConditionError) Is(target error) bool {
	return target == ErrConditionFailed
}

// OrderRepository is the order record store. Every guarded mutation is a
// single conditional write; callers never read-modify-write.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)

	// UpdateStatus moves the order to "to" only if its status is still "from".
	UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, error)
	// AssignDriver sets driver_id only if the order is out for delivery and unassigned.
	AssignDriver(ctx context.Context, id, driverID string) (*models.Order, error)
	// CompleteDelivery marks the order delivered only if it is out for delivery
	// and assigned to driverID.
	CompleteDelivery(ctx context.Context, id, driverID string) (*models.Order, error)
	// SetRefundStatus updates the refund status only if it is currently one of from.
	SetRefundStatus(ctx context.Context, id string, from []models.RefundStatus, to models.RefundStatus) (*models.Order, error)
	// ReclaimStaleRefund takes over a refund left requested since before
	// olderThan by bumping updated_at. Only one caller wins a given lease.
	ReclaimStaleRefund(ctx context.Context, id string, olderThan time.Time) (*models.Order, error)

	ListDeliveredByDriver(ctx context.Context, driverID string) ([]models.Order, error)
	ListDriversWithDeliveries(ctx context.Context) ([]string, error)
	ListByRefundStatus(ctx context.Context, status models.RefundStatus) ([]models.Order, error)
}
