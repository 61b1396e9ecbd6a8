package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MenuItem is the server-side catalog entry used to price an order.
type MenuItem struct {
	ID           string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	RestaurantID string          `json:"restaurant_id" gorm:"type:varchar(64);index;not null"`
	Name         string          `json:"name" gorm:"type:varchar(255);not null"`
	Price        decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	Available    bool            `json:"available" gorm:"not null"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
