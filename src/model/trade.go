package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade records one confirmed fill at the venue, tying an order to the
// position it opened or closed. Append-only history.
type Trade struct {
	ID         string          `gorm:"primaryKey;size:60" json:"id"`
	OrderID    string          `gorm:"size:60;not null;index" json:"order_id"`
	PositionID string          `gorm:"size:60;index" json:"position_id,omitempty"`
	Symbol     string          `gorm:"type:varchar(50);not null;index:idx_trades_symbol_ts,priority:1" json:"symbol"`
	Side       string          `gorm:"size:10;not null" json:"side"`
	Size       decimal.Decimal `gorm:"type:double precision;not null" json:"size"`
	Price      decimal.Decimal `gorm:"type:double precision;not null" json:"price"`
	Fee        decimal.Decimal `gorm:"type:double precision" json:"fee"`
	Timestamp  time.Time       `gorm:"not null;index:idx_trades_symbol_ts,priority:2" json:"timestamp"`
}

func (Trade) TableName() string {
	return "trades"
}
