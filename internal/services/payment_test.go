package services_test

import (
	"context"
	"errors"
	"testing"

	"foodorder/internal/models"
	"foodorder/internal/services"
	"foodorder/pkg/paymentgw"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPaymentCoordinator_Cash(t *testing.T) {
	gw := new(MockGateway)
	p := services.NewPaymentCoordinator(gw, "USD")

	payment, err := p.Authorize(context.Background(), services.ChargeRequest{
		OrderID: "ORD-1",
		Amount:  dec("22.77"),
		Payment: services.PaymentInput{Method: models.PaymentMethodCash},
	})

	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Nil(t, payment.AuthorizationID)
	assert.Equal(t, "22.77", payment.Amount.StringFixed(2))
	gw.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything)
}

func TestPaymentCoordinator_CardStatusMapping(t *testing.T) {
	tests := []struct {
		gateway  string
		expected models.PaymentStatus
	}{
		{paymentgw.StatusSucceeded, models.PaymentStatusCompleted},
		{paymentgw.StatusRequiresCapture, models.PaymentStatusCompleted},
		{paymentgw.StatusProcessing, models.PaymentStatusProcessing},
		{paymentgw.StatusRequiresAction, models.PaymentStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.gateway, func(t *testing.T) {
			gw := new(MockGateway)
			p := services.NewPaymentCoordinator(gw, "USD")
			gw.On("Authorize", mock.Anything, mock.MatchedBy(func(r paymentgw.AuthorizeRequest) bool {
				return r.Amount.Equal(dec("22.77")) && r.Currency == "USD" && r.MethodToken == "tok" &&
					r.Metadata["order_id"] == "ORD-1" && r.IdempotencyKey == "idem-1"
			})).Return(&paymentgw.Authorization{ID: "pi_1", Status: tt.gateway}, nil).Once()

			payment, err := p.Authorize(context.Background(), services.ChargeRequest{
				OrderID:        "ORD-1",
				Amount:         dec("22.77"),
				Payment:        services.PaymentInput{Method: models.PaymentMethodCard, MethodToken: "tok"},
				IdempotencyKey: "idem-1",
			})

			require.NoError(t, err)
			assert.Equal(t, tt.expected, payment.Status)
			require.NotNil(t, payment.AuthorizationID)
			assert.Equal(t, "pi_1", *payment.AuthorizationID)
			gw.AssertExpectations(t)
		})
	}
}

func TestPaymentCoordinator_CardFailures(t *testing.T) {
	tests := []struct {
		name   string
		auth   *paymentgw.Authorization
		err    error
		reason string
	}{
		{name: "declined", err: &paymentgw.DeclineError{Code: "card_declined"}, reason: "card declined"},
		{name: "unreachable", err: errors.New("dial tcp: timeout"), reason: "payment gateway unavailable"},
		{name: "failed status", auth: &paymentgw.Authorization{ID: "pi_1", Status: paymentgw.StatusFailed}, reason: "gateway reported status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(MockGateway)
			p := services.NewPaymentCoordinator(gw, "USD")
			if tt.auth != nil {
				gw.On("Authorize", mock.Anything, mock.Anything).Return(tt.auth, nil)
			} else {
				gw.On("Authorize", mock.Anything, mock.Anything).Return(nil, tt.err)
			}

			_, err := p.Authorize(context.Background(), services.ChargeRequest{
				OrderID: "ORD-1",
				Amount:  dec("10"),
				Payment: services.PaymentInput{Method: models.PaymentMethodCard, MethodToken: "tok"},
			})

			require.ErrorIs(t, err, services.ErrPayment)
			var perr *services.PaymentError
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, perr.Reason, tt.reason)
			assert.Equal(t, models.PaymentStatusFailed, perr.Status)
		})
	}
}

func TestPaymentCoordinator_Refund(t *testing.T) {
	authID := "pi_1"
	card := models.Payment{Method: models.PaymentMethodCard, AuthorizationID: &authID, Status: models.PaymentStatusCompleted}

	t.Run("refunded", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("Refund", mock.Anything, "pi_1").Return(&paymentgw.RefundResult{Status: paymentgw.StatusRefunded}, nil).Once()
		err := services.NewPaymentCoordinator(gw, "USD").Refund(context.Background(), card)
		assert.NoError(t, err)
		gw.AssertExpectations(t)
	})

	t.Run("gateway error", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("Refund", mock.Anything, "pi_1").Return(nil, errors.New("boom"))
		err := services.NewPaymentCoordinator(gw, "USD").Refund(context.Background(), card)
		assert.ErrorIs(t, err, services.ErrRefundFailed)
	})

	t.Run("authorization awaiting customer action", func(t *testing.T) {
		pendingID := "pi_3ds"
		pending := models.Payment{Method: models.PaymentMethodCard, AuthorizationID: &pendingID, Status: models.PaymentStatusPending}
		gw := new(MockGateway)
		gw.On("Refund", mock.Anything, "pi_3ds").Return(&paymentgw.RefundResult{Status: paymentgw.StatusCanceled}, nil).Once()
		err := services.NewPaymentCoordinator(gw, "USD").Refund(context.Background(), pending)
		assert.ErrorIs(t, err, services.ErrRefundFailed)
		gw.AssertExpectations(t)
	})

	t.Run("cash is not refunded", func(t *testing.T) {
		gw := new(MockGateway)
		err := services.NewPaymentCoordinator(gw, "USD").Refund(context.Background(), models.Payment{Method: models.PaymentMethodCash})
		assert.NoError(t, err)
		gw.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
	})
}
