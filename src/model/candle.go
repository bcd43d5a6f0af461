package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a fixed-interval OHLCV aggregate over the half-open window
// [StartAt, EndAt). While open it is owned exclusively by the normalizer;
// once the interval rolls over it is finalized and becomes immutable.
type Candle struct {
	ID       uint            `gorm:"primaryKey" json:"id"`
	Symbol   string          `gorm:"type:varchar(50);not null;uniqueIndex:ux_candles_symbol_interval_start,priority:1" json:"symbol"`
	Interval string          `gorm:"type:varchar(10);not null;uniqueIndex:ux_candles_symbol_interval_start,priority:2" json:"interval"`
	StartAt  time.Time       `gorm:"not null;uniqueIndex:ux_candles_symbol_interval_start,priority:3;index" json:"start_at"`
	EndAt    time.Time       `gorm:"not null" json:"end_at"`
	Open     decimal.Decimal `gorm:"type:double precision;not null" json:"open"`
	High     decimal.Decimal `gorm:"type:double precision;not null" json:"high"`
	Low      decimal.Decimal `gorm:"type:double precision;not null" json:"low"`
	Close    decimal.Decimal `gorm:"type:double precision;not null" json:"close"`
	Volume   decimal.Decimal `gorm:"type:double precision;not null" json:"volume"`
}

func (Candle) TableName() string {
	return "candles"
}

// Apply folds one tick into an open candle. The caller is responsible for
// checking that the tick falls inside [StartAt, EndAt).
func (c *Candle) Apply(t Tick) {
	if t.Price.GreaterThan(c.High) {
		c.High = t.Price
	}
	if t.Price.LessThan(c.Low) {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume = c.Volume.Add(t.Size)
}

// NewCandle opens a candle seeded with the given tick.
func NewCandle(symbol, interval string, start, end time.Time, t Tick) Candle {
	return Candle{
		Symbol:   symbol,
		Interval: interval,
		StartAt:  start,
		EndAt:    end,
		Open:     t.Price,
		High:     t.Price,
		Low:      t.Price,
		Close:    t.Price,
		Volume:   t.Size,
	}
}
