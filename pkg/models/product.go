package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stock is a product's inventory snapshot. Current never drops below zero
// and Reserved never exceeds Current.
type Stock struct {
	Current  int64 `json:"current"`
	Reserved int64 `json:"reserved"`
	Minimum  int64 `json:"minimum"`
	Maximum  int64 `json:"maximum"` // 0 means unbounded
}

// Available returns the units not locked by reservations.
func (s Stock) Available() int64 {
	return s.Current - s.Reserved
}

// IsLow reports whether current stock is below the configured minimum.
func (s Stock) IsLow() bool {
	return s.Minimum > 0 && s.Current < s.Minimum
}

type Product struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku,omitempty"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     Stock           `json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MovementType classifies a stock movement.
type MovementType string

const (
	MovementInbound  MovementType = "inbound"
	MovementOutbound MovementType = "outbound"
	MovementSet      MovementType = "set"
	MovementReserve  MovementType = "reserve"
	MovementRelease  MovementType = "release"
)

// StockMovement is the audit record of one stock change.
type StockMovement struct {
	ID            string       `json:"id"`
	ProductID     string       `json:"product_id"`
	Type          MovementType `json:"type"`
	PreviousStock int64        `json:"previous_stock"`
	NewStock      int64        `json:"new_stock"`
	Quantity      int64        `json:"quantity"` // magnitude, always >= 0
	Reason        string       `json:"reason"`
	Actor         string       `json:"actor"`
	CreatedAt     time.Time    `json:"created_at"`
}
