package services

import (
	"context"
	"errors"
	"fmt"

	"foodorder/internal/models"
	"foodorder/pkg/paymentgw"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PaymentGateway is the external payment processor.
type PaymentGateway interface {
	Authorize(ctx context.Context, req paymentgw.AuthorizeRequest) (*paymentgw.Authorization, error)
	Refund(ctx context.Context, authorizationID string) (*paymentgw.RefundResult, error)
}

// PaymentInput is the payment part of a checkout.
type PaymentInput struct {
	Method      models.PaymentMethod `json:"method" validate:"required,oneof=card cash"`
	MethodToken string               `json:"method_token" validate:"required_if=Method card"`
}

// ChargeRequest is what the coordinator needs to settle one order attempt.
type ChargeRequest struct {
	OrderID        string
	CustomerID     string
	RestaurantID   string
	Amount         decimal.Decimal
	Payment        PaymentInput
	IdempotencyKey string
}

// PaymentCoordinator turns a checkout into a payment record. Cash needs no
// external call; card is authorized synchronously and never retried.
type PaymentCoordinator struct {
	gateway  PaymentGateway
	currency string
}

// NewPaymentCoordinator creates a new PaymentCoordinator.
func NewPaymentCoordinator(gateway PaymentGateway, currency string) *PaymentCoordinator {
	return &PaymentCoordinator{gateway: gateway, currency: currency}
}

// Authorize settles req and returns the payment to embed in the order.
// A decline or an unreachable gateway yields a *PaymentError.
func (p *PaymentCoordinator) Authorize(ctx context.Context, req ChargeRequest) (models.Payment, error) {
	payment := models.Payment{
		Method:       req.Payment.Method,
		Amount:       req.Amount,
		Currency:     p.currency,
		RefundStatus: models.RefundStatusNone,
	}

	switch req.Payment.Method {
	case models.PaymentMethodCash:
		payment.Status = models.PaymentStatusPending
		return payment, nil
	case models.PaymentMethodCard:
	default:
		return payment, newValidationError("payment.method", fmt.Sprintf("unsupported payment method %q", req.Payment.Method))
	}

	if p.gateway == nil {
		return payment, &PaymentError{Status: models.PaymentStatusFailed, Reason: "payment gateway not configured"}
	}

	auth, err := p.gateway.Authorize(ctx, paymentgw.AuthorizeRequest{
		Amount:      req.Amount,
		Currency:    p.currency,
		MethodToken: req.Payment.MethodToken,
		Description: fmt.Sprintf("Order %s", req.OrderID),
		Metadata: map[string]string{
			"order_id":      req.OrderID,
			"customer_id":   req.CustomerID,
			"restaurant_id": req.RestaurantID,
		},
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		reason := "payment gateway unavailable"
		var decline *paymentgw.DeclineError
		if errors.As(err, &decline) {
			reason = "card declined"
		}
		log.Warn().Err(err).Str("order_id", req.OrderID).Msg("card authorization failed")
		return payment, &PaymentError{Status: models.PaymentStatusFailed, Reason: reason, Err: err}
	}

	status := gatewayStatus(auth.Status)
	if status == models.PaymentStatusFailed {
		log.Warn().Str("order_id", req.OrderID).Str("gateway_status", auth.Status).Msg("card authorization not accepted")
		return payment, &PaymentError{Status: status, Reason: fmt.Sprintf("gateway reported status %q", auth.Status)}
	}

	id := auth.ID
	payment.AuthorizationID = &id
	payment.Status = status
	return payment, nil
}

// Refund returns the authorized amount of payment to the customer.
func (p *PaymentCoordinator) Refund(ctx context.Context, payment models.Payment) error {
	if !payment.Refundable() {
		return nil
	}
	if p.gateway == nil {
		return fmt.Errorf("%w: payment gateway not configured", ErrRefundFailed)
	}

	res, err := p.gateway.Refund(ctx, *payment.AuthorizationID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	if res.Status == paymentgw.StatusFailed || res.Status == paymentgw.StatusCanceled {
		return fmt.Errorf("%w: gateway reported status %q", ErrRefundFailed, res.Status)
	}
	return nil
}

// gatewayStatus normalizes a gateway status into the internal payment status.
func gatewayStatus(s string) models.PaymentStatus {
	switch s {
	case paymentgw.StatusSucceeded, paymentgw.StatusRequiresCapture:
		return models.PaymentStatusCompleted
	case paymentgw.StatusProcessing:
		return models.PaymentStatusProcessing
	case paymentgw.StatusRequiresAction:
		return models.PaymentStatusPending
	case paymentgw.StatusCanceled, paymentgw.StatusFailed:
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatus(s)
	}
}
