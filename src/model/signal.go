package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type SignalDirection string

const (
	SignalEnterLong  SignalDirection = "enter_long"
	SignalEnterShort SignalDirection = "enter_short"
	SignalExit       SignalDirection = "exit"
	SignalAdjustStop SignalDirection = "adjust_stop"
)

// Signal is a strategy's directional recommendation. Immutable; consumed
// exactly once by the order manager (or discarded when expired/invalid) and
// then archived. Params is a snapshot of the parameters the strategy used to
// produce it.
type Signal struct {
	ID         string          `gorm:"primaryKey;size:60" json:"id"`
	Symbol     string          `gorm:"type:varchar(50);not null;index" json:"symbol"`
	StrategyID string          `gorm:"size:100;not null;index" json:"strategy_id"`
	Direction  SignalDirection `gorm:"size:20;not null" json:"direction"`
	// PositionID targets a specific position for exit/adjust_stop signals.
	// When empty the manager matches by symbol + strategy id.
	PositionID string `gorm:"size:60" json:"position_id,omitempty"`

	Size       decimal.Decimal  `gorm:"type:double precision" json:"size"`
	Price      decimal.Decimal  `gorm:"type:double precision" json:"price"`
	StopLoss   *decimal.Decimal `gorm:"type:double precision" json:"stop_loss,omitempty"`
	TrailingBy *decimal.Decimal `gorm:"type:double precision" json:"trailing_by,omitempty"`
	Confidence decimal.Decimal  `gorm:"type:double precision" json:"confidence"`
	// Volume is the traded volume observed when the signal was generated,
	// checked against the strategy's minimum volume threshold.
	Volume decimal.Decimal `gorm:"type:double precision" json:"volume"`

	GeneratedAt time.Time      `gorm:"not null" json:"generated_at"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	Params      map[string]any `gorm:"type:jsonb;serializer:json" json:"params,omitempty"`
}

func (Signal) TableName() string {
	return "signals"
}

// Expired reports whether the signal is past its expiry at the given time.
func (s Signal) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// Entry reports whether the signal opens new exposure.
func (s Signal) Entry() bool {
	return s.Direction == SignalEnterLong || s.Direction == SignalEnterShort
}
