package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCanceled       OrderStatus = "canceled"
)

var validOrderStatuses = map[OrderStatus]struct{}{
	StatusPending:        {},
	StatusConfirmed:      {},
	StatusPreparing:      {},
	StatusOutForDelivery: {},
	StatusDelivered:      {},
	StatusCanceled:       {},
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := validOrderStatuses[s]
	return ok
}

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCanceled
}

// OrderItem is one priced line of an order. UnitPrice is the catalog price
// at the time the order was placed.
type OrderItem struct {
	ID         uint            `json:"-" gorm:"primaryKey"`
	OrderID    string          `json:"-" gorm:"type:varchar(40);index;not null"`
	Position   int             `json:"-" gorm:"not null"`
	MenuItemID string          `json:"menu_item_id" gorm:"type:varchar(64);not null"`
	Name       string          `json:"name" gorm:"type:varchar(255)"`
	UnitPrice  decimal.Decimal `json:"unit_price" gorm:"type:numeric(12,2);not null"`
	Quantity   int             `json:"quantity" gorm:"not null"`
}

// CustomerSnapshot is a copy of the delivery contact taken at checkout.
// Later profile edits never reach a placed order.
type CustomerSnapshot struct {
	Name    string `json:"name" gorm:"type:varchar(255)"`
	Address string `json:"address" gorm:"type:varchar(512)"`
	Phone   string `json:"phone" gorm:"type:varchar(32)"`
}

// Order is the authoritative record of a placed order.
type Order struct {
	ID             string           `json:"id" gorm:"primaryKey;type:varchar(40)"`
	RestaurantID   string           `json:"restaurant_id" gorm:"type:varchar(64);index;not null"`
	CustomerID     string           `json:"customer_id" gorm:"type:varchar(64);index;not null"`
	Items          []OrderItem      `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Customer       CustomerSnapshot `json:"customer" gorm:"embedded;embeddedPrefix:customer_"`
	Payment        Payment          `json:"payment" gorm:"embedded;embeddedPrefix:payment_"`
	Status         OrderStatus      `json:"status" gorm:"type:varchar(32);index;not null"`
	Subtotal       decimal.Decimal  `json:"subtotal" gorm:"type:numeric(12,2);not null"`
	Tax            decimal.Decimal  `json:"tax" gorm:"type:numeric(12,2);not null"`
	DeliveryFee    decimal.Decimal  `json:"delivery_fee" gorm:"type:numeric(12,2);not null"`
	Total          decimal.Decimal  `json:"total" gorm:"type:numeric(12,2);not null"`
	DriverID       *string          `json:"driver_id,omitempty" gorm:"type:varchar(64);index"`
	IdempotencyKey *string          `json:"-" gorm:"type:varchar(64);uniqueIndex"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// AssignedTo reports whether the order is bound to driverID.
func (o Order) AssignedTo(driverID string) bool {
	return o.DriverID != nil && *o.DriverID == driverID
}

// OrderFilter narrows a ListOrders query. Empty fields match everything.
type OrderFilter struct {
	CustomerID   string
	RestaurantID string
	DriverID     string
	Statuses     []OrderStatus
	Unassigned   bool
	Limit        int
	Offset       int
}
