package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"foodorder/internal/models"
	"foodorder/internal/repositories"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	maxIDAttempts     = 3
	maxCancelAttempts = 5
	defaultListLimit  = 50
	maxListLimit      = 200

	defaultRefundLease = 5 * time.Minute
)

// CustomerInput is the delivery contact captured at checkout.
type CustomerInput struct {
	Name    string `json:"name" validate:"required"`
	Address string `json:"address" validate:"required"`
	Phone   string `json:"phone" validate:"required"`
}

// CreateOrderRequest is a checkout submitted by a client.
type CreateOrderRequest struct {
	RestaurantID   string           `json:"restaurant_id" validate:"required"`
	CustomerID     string           `json:"customer_id,omitempty"`
	Items          []CartItem       `json:"items" validate:"required,min=1,dive"`
	Customer       CustomerInput    `json:"customer"`
	Payment        PaymentInput     `json:"payment"`
	DeliveryFee    *decimal.Decimal `json:"delivery_fee,omitempty"`
	ClientTotals   ClientTotals     `json:"client_totals"`
	IdempotencyKey string           `json:"idempotency_key,omitempty" validate:"omitempty,max=64"`
}

// StatsInvalidator is told when a driver's delivered set changes.
type StatsInvalidator interface {
	Invalidate(ctx context.Context, driverID string)
}

// OrderService handles business logic related to orders.
type OrderService struct {
	orderRepo repositories.OrderRepository
	pricing   *PricingReconciler
	payments  *PaymentCoordinator
	notifier  Notifier
	stats     StatsInvalidator
	validate  *validator.Validate
	newID     func() string

	// refundLease is how long a requested refund may stay unsettled before
	// the retry pass takes it over.
	refundLease time.Duration
}

// NewOrderService creates a new OrderService. notifier and stats may be nil.
func NewOrderService(orderRepo repositories.OrderRepository, pricing *PricingReconciler, payments *PaymentCoordinator, notifier Notifier, stats StatsInvalidator) *OrderService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &OrderService{
		orderRepo:   orderRepo,
		pricing:     pricing,
		payments:    payments,
		notifier:    notifier,
		stats:       stats,
		validate:    newValidator(),
		newID:       NewOrderID,
		refundLease: defaultRefundLease,
	}
}

// SetRefundLease sets how long a refund claim is honoured before
// RetryFailedRefunds treats it as abandoned.
func (s *OrderService) SetRefundLease(d time.Duration) {
	if d > 0 {
		s.refundLease = d
	}
}

// NewOrderID returns a human-readable id: ORD-<unix millis>-<6 hex>.
func NewOrderID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%d-%s", time.Now().UnixMilli(), suffix)
}

// CreateOrder prices the cart, settles payment and stores the order. It is
// all-or-nothing: on error no order exists and no charge is retained, except
// when a *PersistenceError reports a failed compensation.
func (s *OrderService) CreateOrder(ctx context.Context, principal models.Principal, req CreateOrderRequest) (*models.Order, error) {
	if !principal.Is(models.RoleCustomer, models.RoleAdmin) {
		return nil, fmt.Errorf("%w: role %s may not place orders", ErrForbidden, principal.Role)
	}
	customerID := principal.UserID
	if principal.Is(models.RoleAdmin) && req.CustomerID != "" {
		customerID = req.CustomerID
	}

	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, req.IdempotencyKey, customerID)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	quote, err := s.pricing.Reconcile(ctx, req.RestaurantID, req.Items, req.DeliveryFee, req.ClientTotals)
	if err != nil {
		return nil, err
	}

	// The gateway is told the order id, so it must be final before authorizing.
	id, err := s.freshID(ctx)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:           id,
		RestaurantID: req.RestaurantID,
		CustomerID:   customerID,
		Items:        quote.Items,
		Customer: models.CustomerSnapshot{
			Name:    req.Customer.Name,
			Address: req.Customer.Address,
			Phone:   req.Customer.Phone,
		},
		Status:      models.StatusPending,
		Subtotal:    quote.Subtotal,
		Tax:         quote.Tax,
		DeliveryFee: quote.DeliveryFee,
		Total:       quote.Total,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}

	var replayOf *models.Order
	authorize := FuncStep{
		StepName: "authorize_payment",
		ExecuteFn: func(ctx context.Context) error {
			payment, err := s.payments.Authorize(ctx, ChargeRequest{
				OrderID:        order.ID,
				CustomerID:     customerID,
				RestaurantID:   order.RestaurantID,
				Amount:         order.Total,
				Payment:        req.Payment,
				IdempotencyKey: req.IdempotencyKey,
			})
			if err != nil {
				return err
			}
			order.Payment = payment
			return nil
		},
		CompensateFn: func(ctx context.Context) error {
			if replayOf != nil && sameAuthorization(replayOf.Payment, order.Payment) {
				return nil
			}
			return s.payments.Refund(ctx, order.Payment)
		},
	}
	persist := FuncStep{
		StepName: "persist_order",
		ExecuteFn: func(ctx context.Context) error {
			existing, err := s.persist(ctx, order)
			replayOf = existing
			return err
		},
	}

	err = NewOrchestrator("create_order", authorize, persist).Start(ctx)
	if err != nil {
		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			return nil, err
		}
		if stepErr.Step == authorize.Name() {
			return nil, stepErr.Err
		}
		if replayOf != nil {
			if replayOf.CustomerID != customerID {
				return nil, conflict(ErrConflict, nil, "idempotency key already used")
			}
			log.Info().Str("order_id", replayOf.ID).Msg("concurrent submission with the same idempotency key, returning existing order")
			return replayOf, nil
		}
		return nil, &PersistenceError{
			Op:              "create order",
			Err:             stepErr.Err,
			Compensated:     stepErr.Compensated,
			CompensationErr: stepErr.CompensationErr,
		}
	}

	log.Info().
		Str("order_id", order.ID).
		Str("customer_id", customerID).
		Str("total", order.Total.StringFixed(2)).
		Str("payment_status", string(order.Payment.Status)).
		Msg("order created")
	s.notifier.Notify(ctx, models.NewStatusEvent(order, ""))
	return order, nil
}

var errIdempotentReplay = errors.New("order already created with this idempotency key")

// persist stores order, drawing a new id on collision. When the collision is
// on the idempotency key, the already stored order is returned together with
// errIdempotentReplay.
func (s *OrderService) persist(ctx context.Context, order *models.Order) (*models.Order, error) {
	var err error
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		err = s.orderRepo.Create(ctx, order)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, repositories.ErrDuplicate) {
			return nil, err
		}
		if order.IdempotencyKey != nil {
			existing, lookupErr := s.orderRepo.GetByIdempotencyKey(ctx, *order.IdempotencyKey)
			if lookupErr == nil {
				return existing, errIdempotentReplay
			}
		}
		next := s.newID()
		log.Warn().
			Str("old_order_id", order.ID).
			Str("new_order_id", next).
			Str("authorization_id", lo.FromPtr(order.Payment.AuthorizationID)).
			Int("attempt", attempt).
			Msg("order id collision after authorization, gateway references the old id")
		order.ID = next
	}
	return nil, err
}

// freshID draws ids until one is not stored yet.
func (s *OrderService) freshID(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id := s.newID()
		_, err := s.orderRepo.GetByID(ctx, id)
		if errors.Is(err, repositories.ErrOrderNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check order id %s: %w", id, err)
		}
		log.Warn().Str("order_id", id).Int("attempt", attempt).Msg("order id already taken, drawing another")
	}
	return "", fmt.Errorf("%w: no unused order id after %d attempts", ErrConflict, maxIDAttempts)
}

func (s *OrderService) findByIdempotencyKey(ctx context.Context, key, customerID string) (*models.Order, error) {
	existing, err := s.orderRepo.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, repositories.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	if existing.CustomerID != customerID {
		return nil, conflict(ErrConflict, nil, "idempotency key already used")
	}
	log.Info().Str("order_id", existing.ID).Msg("idempotent resubmission, returning existing order")
	return existing, nil
}

func sameAuthorization(a, b models.Payment) bool {
	return a.AuthorizationID != nil && b.AuthorizationID != nil && *a.AuthorizationID == *b.AuthorizationID
}

// GetOrder returns an order the principal may see.
func (s *OrderService) GetOrder(ctx context.Context, principal models.Principal, id string) (*models.Order, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(principal, order) {
		return nil, fmt.Errorf("%w: order %s", ErrForbidden, id)
	}
	return order, nil
}

// ListOrders returns orders matching filter, scoped to what the principal owns.
func (s *OrderService) ListOrders(ctx context.Context, principal models.Principal, filter models.OrderFilter) ([]models.Order, error) {
	switch principal.Role {
	case models.RoleCustomer:
		filter.CustomerID = principal.UserID
	case models.RoleRestaurant:
		filter.RestaurantID = principal.UserID
	case models.RoleDriver:
		filter.DriverID = principal.UserID
	case models.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: role %q", ErrForbidden, principal.Role)
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, newValidationError("status", fmt.Sprintf("unknown status %q", st))
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	orders, err := s.orderRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateOrderStatus moves an order to status. The write is conditional on
// the status that was read, so a concurrent change is reported as a conflict
// instead of being overwritten. Cancellation is delegated to CancelOrder.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, principal models.Principal, id string, status models.OrderStatus) (*models.Order, error) {
	if !principal.Is(models.RoleRestaurant, models.RoleDriver, models.RoleAdmin) {
		return nil, fmt.Errorf("%w: role %s may not update order status", ErrForbidden, principal.Role)
	}
	if !status.Valid() {
		return nil, newValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	if status == models.StatusCanceled {
		return s.CancelOrder(ctx, principal, id)
	}

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canUpdate(principal, order) {
		return nil, fmt.Errorf("%w: order %s", ErrForbidden, id)
	}

	prev := order.Status
	if prev.Terminal() {
		return nil, conflict(ErrConflict, order, "order %s is already %s", id, prev)
	}
	if status == prev {
		return order, nil
	}
	if status == models.StatusDelivered && prev != models.StatusOutForDelivery {
		return nil, conflict(ErrConflict, order, "order %s must be out for delivery before it is delivered, it is %s", id, prev)
	}
	if status == models.StatusDelivered && order.DriverID == nil && !principal.Is(models.RoleAdmin) {
		return nil, fmt.Errorf("%w: order %s has no driver, only an admin may mark it delivered", ErrForbidden, id)
	}
	if statusRank[status] < statusRank[prev] {
		log.Warn().Str("order_id", id).Str("from", string(prev)).Str("to", string(status)).Msg("order status moved backwards")
	}

	updated, err := s.orderRepo.UpdateStatus(ctx, id, prev, status)
	if err != nil {
		var cerr *repositories.ConditionError
		if errors.As(err, &cerr) {
			log.Info().Str("order_id", id).Str("expected", string(prev)).Str("found", string(cerr.Current.Status)).Msg("status update lost a race")
			return nil, conflict(ErrConflict, cerr.Current, "order %s changed concurrently, it is now %s", id, cerr.Current.Status)
		}
		return nil, translateRepoError(err)
	}

	log.Info().Str("order_id", id).Str("from", string(prev)).Str("to", string(status)).Str("actor", string(principal.Role)).Msg("order status updated")
	if status == models.StatusDelivered && updated.DriverID != nil && s.stats != nil {
		s.stats.Invalidate(ctx, *updated.DriverID)
	}
	s.notifier.Notify(ctx, models.NewStatusEvent(updated, prev))
	return updated, nil
}

// CancelOrder cancels a non-terminal order and refunds an authorized card
// payment. If the refund fails the canceled order is returned together with
// an error wrapping ErrRefundFailed; the refund is retried later.
func (s *OrderService) CancelOrder(ctx context.Context, principal models.Principal, id string) (*models.Order, error) {
	if !principal.Is(models.RoleCustomer, models.RoleRestaurant, models.RoleAdmin) {
		return nil, fmt.Errorf("%w: role %s may not cancel orders", ErrForbidden, principal.Role)
	}

	var (
		canceled *models.Order
		prev     models.OrderStatus
	)
	for attempt := 0; attempt < maxCancelAttempts && canceled == nil; attempt++ {
		order, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !canCancel(principal, order) {
			return nil, fmt.Errorf("%w: order %s", ErrForbidden, id)
		}
		if order.Status.Terminal() {
			return nil, conflict(ErrConflict, order, "order %s is already %s", id, order.Status)
		}

		prev = order.Status
		canceled, err = s.orderRepo.UpdateStatus(ctx, id, prev, models.StatusCanceled)
		if err != nil && !errors.Is(err, repositories.ErrConditionFailed) {
			return nil, translateRepoError(err)
		}
	}
	if canceled == nil {
		return nil, conflict(ErrConflict, nil, "order %s kept changing while canceling", id)
	}

	log.Info().Str("order_id", id).Str("from", string(prev)).Str("actor", string(principal.Role)).Msg("order canceled")
	s.notifier.Notify(ctx, models.NewStatusEvent(canceled, prev))

	if !canceled.Payment.Refundable() {
		return canceled, nil
	}
	return s.refund(ctx, canceled)
}

// refund claims the refund of order, calls the gateway and records the outcome.
func (s *OrderService) refund(ctx context.Context, order *models.Order) (*models.Order, error) {
	claimed, err := s.orderRepo.SetRefundStatus(ctx, order.ID,
		[]models.RefundStatus{models.RefundStatusNone, models.RefundStatusFailed}, models.RefundStatusRequested)
	if err != nil {
		var cerr *repositories.ConditionError
		if errors.As(err, &cerr) {
			// Someone else owns the refund.
			return cerr.Current, nil
		}
		return order, fmt.Errorf("%w: failed to record refund request: %v", ErrRefundFailed, err)
	}
	return s.settleRefund(ctx, claimed)
}

// settleRefund calls the gateway for a refund the caller has claimed and
// records the outcome. If the outcome cannot be written the order stays
// requested until its lease runs out.
func (s *OrderService) settleRefund(ctx context.Context, claimed *models.Order) (*models.Order, error) {
	ctx = context.WithoutCancel(ctx)
	refundErr := s.payments.Refund(ctx, claimed.Payment)

	outcome := models.RefundStatusRefunded
	if refundErr != nil {
		outcome = models.RefundStatusFailed
	}
	updated, err := s.orderRepo.SetRefundStatus(ctx, claimed.ID, []models.RefundStatus{models.RefundStatusRequested}, outcome)
	if err != nil {
		log.Error().Err(err).Str("order_id", claimed.ID).Str("refund_status", string(outcome)).Msg("failed to record refund outcome")
		updated = claimed
		updated.Payment.RefundStatus = outcome
	}

	if refundErr != nil {
		log.Error().Err(refundErr).Str("order_id", claimed.ID).Msg("refund failed, will retry")
		return updated, refundErr
	}
	log.Info().Str("order_id", claimed.ID).Msg("payment refunded")
	return updated, nil
}

// RetryFailedRefunds retries every refund recorded as failed, and every
// refund left requested for longer than the refund lease, and returns the
// number that succeeded.
func (s *OrderService) RetryFailedRefunds(ctx context.Context) (int, error) {
	failed, err := s.orderRepo.ListByRefundStatus(ctx, models.RefundStatusFailed)
	if err != nil {
		return 0, err
	}
	requested, err := s.orderRepo.ListByRefundStatus(ctx, models.RefundStatusRequested)
	if err != nil {
		return 0, err
	}
	staleBefore := time.Now().UTC().Add(-s.refundLease)
	abandoned := lo.Filter(requested, func(o models.Order, _ int) bool {
		return o.UpdatedAt.Before(staleBefore)
	})

	refunded := 0
	for i := range failed {
		if err := ctx.Err(); err != nil {
			return refunded, err
		}
		if _, err := s.refund(ctx, &failed[i]); err != nil {
			continue
		}
		refunded++
	}
	for _, o := range abandoned {
		if err := ctx.Err(); err != nil {
			return refunded, err
		}
		claimed, err := s.orderRepo.ReclaimStaleRefund(ctx, o.ID, staleBefore)
		if err != nil {
			if !errors.Is(err, repositories.ErrConditionFailed) {
				log.Error().Err(err).Str("order_id", o.ID).Msg("failed to reclaim refund")
			}
			continue
		}
		log.Warn().Str("order_id", o.ID).Time("claimed_at", o.UpdatedAt).Msg("reclaiming abandoned refund")
		if _, err := s.settleRefund(ctx, claimed); err != nil {
			continue
		}
		refunded++
	}
	if len(failed) > 0 || len(abandoned) > 0 {
		log.Info().Int("failed", len(failed)).Int("abandoned", len(abandoned)).Int("refunded", refunded).Msg("refund retry pass finished")
	}
	return refunded, nil
}

func (s *OrderService) load(ctx context.Context, id string) (*models.Order, error) {
	if id == "" {
		return nil, newValidationError("order_id", "is required")
	}
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, translateRepoError(err)
	}
	return order, nil
}

func translateRepoError(err error) error {
	switch {
	case errors.Is(err, repositories.ErrOrderNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repositories.ErrConditionFailed):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}

var statusRank = map[models.OrderStatus]int{
	models.StatusPending:        0,
	models.StatusConfirmed:      1,
	models.StatusPreparing:      2,
	models.StatusOutForDelivery: 3,
	models.StatusDelivered:      4,
	models.StatusCanceled:       4,
}

func canView(p models.Principal, o *models.Order) bool {
	switch p.Role {
	case models.RoleAdmin:
		return true
	case models.RoleCustomer:
		return o.CustomerID == p.UserID
	case models.RoleRestaurant:
		return o.RestaurantID == p.UserID
	case models.RoleDriver:
		return o.AssignedTo(p.UserID) || (o.Status == models.StatusOutForDelivery && o.DriverID == nil)
	}
	return false
}

func canUpdate(p models.Principal, o *models.Order) bool {
	switch p.Role {
	case models.RoleAdmin:
		return true
	case models.RoleRestaurant:
		return o.RestaurantID == p.UserID
	case models.RoleDriver:
		return o.AssignedTo(p.UserID)
	}
	return false
}

func canCancel(p models.Principal, o *models.Order) bool {
	switch p.Role {
	case models.RoleAdmin:
		return true
	case models.RoleCustomer:
		return o.CustomerID == p.UserID
	case models.RoleRestaurant:
		return o.RestaurantID == p.UserID
	}
	return false
}
