package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionStatusPending = "pending"
	PositionStatusOpen    = "open"
	PositionStatusClosing = "closing"
	PositionStatusClosed  = "closed"

	SideLong  = "long"
	SideShort = "short"
)

// Position is a tracked exposure in one symbol/strategy. Mutable; all writes
// go through the order manager's per-symbol worker, one mutation in flight at
// a time. Status only ever follows pending→open→closing→closed, or
// pending→closed when the opening order is rejected.
type Position struct {
	ID         string `gorm:"primaryKey;size:60" json:"id"`
	Symbol     string `gorm:"type:varchar(50);not null;index:idx_positions_symbol_status,priority:1" json:"symbol"`
	StrategyID string `gorm:"size:100;index" json:"strategy_id"`
	Side       string `gorm:"size:10;not null" json:"side"`
	Status     string `gorm:"size:20;not null;default:pending;index:idx_positions_symbol_status,priority:2" json:"status"`

	Size       decimal.Decimal  `gorm:"type:double precision;not null" json:"size"`
	EntryPrice decimal.Decimal  `gorm:"type:double precision" json:"entry_price"`
	MarkPrice  decimal.Decimal  `gorm:"type:double precision" json:"mark_price"`
	ExitPrice  *decimal.Decimal `gorm:"type:double precision" json:"exit_price,omitempty"`

	StopLoss *decimal.Decimal `gorm:"type:double precision" json:"stop_loss,omitempty"`
	// TrailingBy is the trailing-stop distance as a fraction of the
	// watermark; Watermark is the best price reached since entry and only
	// ever moves in the position's favor.
	TrailingBy *decimal.Decimal `gorm:"type:double precision" json:"trailing_by,omitempty"`
	Watermark  *decimal.Decimal `gorm:"type:double precision" json:"watermark,omitempty"`

	UnrealizedPnl decimal.Decimal `gorm:"type:double precision" json:"unrealized_pnl"`
	RealizedPnl   decimal.Decimal `gorm:"type:double precision" json:"realized_pnl"`

	OpenedAt  *time.Time `json:"opened_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// Live reports whether the position still counts against per-symbol limits.
func (p Position) Live() bool {
	return p.Status == PositionStatusPending ||
		p.Status == PositionStatusOpen ||
		p.Status == PositionStatusClosing
}
