package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foodorder/internal/models"

	"gorm.io/gorm"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{db: db}
}

func itemsByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// Create inserts the order together with its items.
func (r *GORMOrderRepository) Create(ctx context.Context, order *models.Order) error {
	for i := range order.Items {
		order.Items[i].Position = i
		order.Items[i].OrderID = order.ID
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to create order %s: %w", order.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create order %s: %w", order.ID, err)
	}
	return nil
}

// GetByID retrieves an order and its items.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Preload("Items", itemsByPosition).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return &order, nil
}

// GetByIdempotencyKey retrieves the order created with the given key.
func (r *GORMOrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Preload("Items", itemsByPosition).First(&order, "idempotency_key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("idempotency key %s: %w", key, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("failed to get order by idempotency key: %w", err)
	}
	return &order, nil
}

// List returns orders matching filter, newest first.
func (r *GORMOrderRepository) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{}).Preload("Items", itemsByPosition)
	if filter.CustomerID != "" {
		q = q.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.RestaurantID != "" {
		q = q.Where("restaurant_id = ?", filter.RestaurantID)
	}
	if filter.DriverID != "" {
		q = q.Where("driver_id = ?", filter.DriverID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.Unassigned {
		q = q.Where("driver_id IS NULL")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var orders []models.Order
	if err := q.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus is a compare-and-swap on the status column.
func (r *GORMOrderRepository) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now().UTC()})
	return r.afterConditionalWrite(ctx, "update status", id, res)
}

// AssignDriver is a compare-and-swap on driver_id IS NULL. Two drivers racing
// for the same order both issue this statement; the database lets one win.
func (r *GORMOrderRepository) AssignDriver(ctx context.Context, id, driverID string) (*models.Order, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ? AND driver_id IS NULL", id, models.StatusOutForDelivery).
		Updates(map[string]interface{}{"driver_id": driverID, "updated_at": time.Now().UTC()})
	return r.afterConditionalWrite(ctx, "assign driver", id, res)
}

// CompleteDelivery marks an assigned, out-for-delivery order as delivered.
func (r *GORMOrderRepository) CompleteDelivery(ctx context.Context, id, driverID string) (*models.Order, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ? AND driver_id = ?", id, models.StatusOutForDelivery, driverID).
		Updates(map[string]interface{}{"status": models.StatusDelivered, "updated_at": time.Now().UTC()})
	return r.afterConditionalWrite(ctx, "complete delivery", id, res)
}

// SetRefundStatus is a compare-and-swap on the refund status.
func (r *GORMOrderRepository) SetRefundStatus(ctx context.Context, id string, from []models.RefundStatus, to models.RefundStatus) (*models.Order, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_refund_status IN ?", id, from).
		Updates(map[string]interface{}{"payment_refund_status": to, "updated_at": time.Now().UTC()})
	return r.afterConditionalWrite(ctx, "set refund status", id, res)
}

// ReclaimStaleRefund renews a requested refund whose claim is older than
// olderThan. The bumped updated_at is the new lease.
func (r *GORMOrderRepository) ReclaimStaleRefund(ctx context.Context, id string, olderThan time.Time) (*models.Order, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_refund_status = ? AND updated_at < ?", id, models.RefundStatusRequested, olderThan.UTC()).
		Update("updated_at", time.Now().UTC())
	return r.afterConditionalWrite(ctx, "reclaim refund", id, res)
}

// ListDeliveredByDriver scans every delivered order attributed to driverID.
func (r *GORMOrderRepository) ListDeliveredByDriver(ctx context.Context, driverID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("driver_id = ? AND status = ?", driverID, models.StatusDelivered).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list delivered orders for driver %s: %w", driverID, err)
	}
	return orders, nil
}

// ListDriversWithDeliveries returns the distinct drivers owning at least one delivered order.
func (r *GORMOrderRepository) ListDriversWithDeliveries(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("status = ? AND driver_id IS NOT NULL", models.StatusDelivered).
		Distinct("driver_id").
		Pluck("driver_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list drivers: %w", err)
	}
	return ids, nil
}

// ListByRefundStatus returns orders whose refund is in the given state.
func (r *GORMOrderRepository) ListByRefundStatus(ctx context.Context, status models.RefundStatus) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).Where("payment_refund_status = ?", status).Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders by refund status %s: %w", status, err)
	}
	return orders, nil
}

func (r *GORMOrderRepository) afterConditionalWrite(ctx context.Context, op, id string, res *gorm.DB) (*models.Order, error) {
	if res.Error != nil {
		return nil, fmt.Errorf("failed to %s for order %s: %w", op, id, res.Error)
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, &ConditionError{Op: op, Current: current}
	}
	return current, nil
}
