package models

import "time"

// StatusEvent is emitted to the notification dispatcher on every transition.
type StatusEvent struct {
	OrderID        string      `json:"order_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	DriverID       string      `json:"driver_id,omitempty"`
	RecipientName  string      `json:"recipient_name"`
	RecipientPhone string      `json:"recipient_phone"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// NewStatusEvent builds the event for order after a transition from prev.
func NewStatusEvent(order *Order, prev OrderStatus) StatusEvent {
	ev := StatusEvent{
		OrderID:        order.ID,
		Status:         order.Status,
		PreviousStatus: prev,
		RecipientName:  order.Customer.Name,
		RecipientPhone: order.Customer.Phone,
		OccurredAt:     time.Now().UTC(),
	}
	if order.DriverID != nil {
		ev.DriverID = *order.DriverID
	}
	return ev
}
