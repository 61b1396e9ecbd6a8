package services

import (
	"context"
	"errors"
	"fmt"

	"foodorder/internal/models"
	"foodorder/internal/repositories"

	"github.com/rs/zerolog/log"
)

// DeliveryService binds drivers to orders. Exclusivity is enforced by the
// store's conditional write; there is no in-process locking.
type DeliveryService struct {
	orderRepo repositories.OrderRepository
	notifier  Notifier
	stats     StatsInvalidator
}

// NewDeliveryService creates a new DeliveryService. notifier and stats may be nil.
func NewDeliveryService(orderRepo repositories.OrderRepository, notifier Notifier, stats StatsInvalidator) *DeliveryService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &DeliveryService{orderRepo: orderRepo, notifier: notifier, stats: stats}
}

func actingAsDriver(p models.Principal, driverID string) bool {
	return p.Is(models.RoleAdmin) || (p.Is(models.RoleDriver) && p.UserID == driverID)
}

// AssignDriver claims an out-for-delivery, unassigned order for driverID.
// Of any number of concurrent claims exactly one succeeds; the others get
// ErrAlreadyAssigned.
func (s *DeliveryService) AssignDriver(ctx context.Context, principal models.Principal, orderID, driverID string) (*models.Order, error) {
	if driverID == "" {
		return nil, newValidationError("driver_id", "is required")
	}
	if orderID == "" {
		return nil, newValidationError("order_id", "is required")
	}
	if !actingAsDriver(principal, driverID) {
		return nil, fmt.Errorf("%w: may not act as driver %s", ErrForbidden, driverID)
	}

	order, err := s.orderRepo.AssignDriver(ctx, orderID, driverID)
	if err != nil {
		var cerr *repositories.ConditionError
		if !errors.As(err, &cerr) {
			return nil, translateRepoError(err)
		}
		cur := cerr.Current
		if cur.DriverID != nil {
			log.Info().Str("order_id", orderID).Str("driver_id", driverID).Str("owner", *cur.DriverID).Msg("driver assignment lost")
			return nil, conflict(ErrAlreadyAssigned, cur, "order %s is already assigned", orderID)
		}
		return nil, conflict(ErrNotEligible, cur, "order %s is %s, not out for delivery", orderID, cur.Status)
	}

	log.Info().Str("order_id", orderID).Str("driver_id", driverID).Msg("driver assigned")
	s.notifier.Notify(ctx, models.NewStatusEvent(order, order.Status))
	return order, nil
}

// CompleteDelivery marks an order delivered by the driver it is assigned to.
func (s *DeliveryService) CompleteDelivery(ctx context.Context, principal models.Principal, orderID, driverID string) (*models.Order, error) {
	if driverID == "" {
		return nil, newValidationError("driver_id", "is required")
	}
	if orderID == "" {
		return nil, newValidationError("order_id", "is required")
	}
	if !actingAsDriver(principal, driverID) {
		return nil, fmt.Errorf("%w: may not act as driver %s", ErrForbidden, driverID)
	}

	order, err := s.orderRepo.CompleteDelivery(ctx, orderID, driverID)
	if err != nil {
		var cerr *repositories.ConditionError
		if !errors.As(err, &cerr) {
			return nil, translateRepoError(err)
		}
		cur := cerr.Current
		if !cur.AssignedTo(driverID) {
			return nil, conflict(ErrNotAssigned, cur, "order %s is not assigned to driver %s", orderID, driverID)
		}
		return nil, conflict(ErrConflict, cur, "order %s is %s, not out for delivery", orderID, cur.Status)
	}

	log.Info().Str("order_id", orderID).Str("driver_id", driverID).Str("total", order.Total.StringFixed(2)).Msg("order delivered")
	if s.stats != nil {
		s.stats.Invalidate(ctx, driverID)
	}
	s.notifier.Notify(ctx, models.NewStatusEvent(order, models.StatusOutForDelivery))
	return order, nil
}

// ListAvailableDeliveries returns out-for-delivery orders nobody has claimed.
func (s *DeliveryService) ListAvailableDeliveries(ctx context.Context, principal models.Principal, limit, offset int) ([]models.Order, error) {
	if !principal.Is(models.RoleDriver, models.RoleAdmin) {
		return nil, fmt.Errorf("%w: role %s may not list deliveries", ErrForbidden, principal.Role)
	}
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.orderRepo.List(ctx, models.OrderFilter{
		Statuses:   []models.OrderStatus{models.StatusOutForDelivery},
		Unassigned: true,
		Limit:      limit,
		Offset:     offset,
	})
}
