package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DriverStats is derived from the delivered orders attributed to a driver.
// It is never stored as a counter; it is recomputed from orders.
type DriverStats struct {
	DriverID        string          `json:"driver_id"`
	CompletedOrders int64           `json:"completed_orders"`
	TotalEarnings   decimal.Decimal `json:"total_earnings"`
	ComputedAt      time.Time       `json:"computed_at"`
}
