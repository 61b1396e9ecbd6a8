package models

import "github.com/shopspring/decimal"

// PaymentMethod is how the customer settles the order.
type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodCash PaymentMethod = "cash"
)

// PaymentStatus is the internal, gateway-independent payment state.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// RefundStatus tracks the refund side effect of a canceled card order.
type RefundStatus string

const (
	RefundStatusNone      RefundStatus = "none"
	RefundStatusRequested RefundStatus = "requested"
	RefundStatusRefunded  RefundStatus = "refunded"
	RefundStatusFailed    RefundStatus = "failed"
)

// Payment is embedded in Order. Amount is frozen once Status is completed.
type Payment struct {
	Method          PaymentMethod   `json:"method" gorm:"type:varchar(16);not null"`
	AuthorizationID *string         `json:"authorization_id,omitempty" gorm:"type:varchar(128)"`
	Status          PaymentStatus   `json:"status" gorm:"type:varchar(16);not null"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	Currency        string          `json:"currency" gorm:"type:varchar(3);not null"`
	RefundStatus    RefundStatus    `json:"refund_status" gorm:"type:varchar(16);not null;default:none"`
}

// Refundable reports whether canceling the order must trigger a gateway refund.
// Any card authorization is refunded whatever its status; the gateway voids
// authorizations that never captured.
func (p Payment) Refundable() bool {
	return p.Method == PaymentMethodCard &&
		p.AuthorizationID != nil && *p.AuthorizationID != ""
}
