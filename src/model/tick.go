package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TickSideBuy  = "buy"
	TickSideSell = "sell"
)

// Tick is a single trade print from the market data source. Immutable once
// published. Timestamp is the venue wall-clock time of the print; ReceivedAt
// carries Go's monotonic reading taken when the tick entered the process, so
// latency between the two can be measured reliably.
type Tick struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Symbol     string          `gorm:"type:varchar(50);not null;index:idx_ticks_symbol_ts,priority:1" json:"symbol"`
	Price      decimal.Decimal `gorm:"type:double precision;not null" json:"price"`
	Size       decimal.Decimal `gorm:"type:double precision;not null" json:"size"`
	Side       string          `gorm:"size:10" json:"side"`
	Timestamp  time.Time       `gorm:"not null;index:idx_ticks_symbol_ts,priority:2" json:"timestamp"`
	ReceivedAt time.Time       `json:"received_at"`
}

func (Tick) TableName() string {
	return "ticks"
}
