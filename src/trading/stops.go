package trading

import (
	"github.com/shopspring/decimal"

	"tradingcore/src/model"
)

// pnlFor is the single PnL formula for both mark-to-market and realization:
// (price - entry) * size, negated for shorts.
func pnlFor(side string, entry, price, size decimal.Decimal) decimal.Decimal {
	pnl := price.Sub(entry).Mul(size)
	if side == model.SideShort {
		pnl = pnl.Neg()
	}
	return pnl
}

// advanceWatermark moves the watermark in the position's favor only. Returns
// true when it moved.
func advanceWatermark(p *model.Position, price decimal.Decimal) bool {
	if p.TrailingBy == nil {
		return false
	}
	if p.Watermark == nil {
		w := price
		p.Watermark = &w
		return true
	}
	if p.Side == model.SideLong && price.GreaterThan(*p.Watermark) {
		w := price
		p.Watermark = &w
		return true
	}
	if p.Side == model.SideShort && price.LessThan(*p.Watermark) {
		w := price
		p.Watermark = &w
		return true
	}
	return false
}

// trailingTrigger derives the trailing stop price from the watermark:
// watermark*(1-distance) for longs, watermark*(1+distance) for shorts.
// Returns nil when no trailing stop is armed.
func trailingTrigger(p *model.Position) *decimal.Decimal {
	if p.TrailingBy == nil || p.Watermark == nil {
		return nil
	}
	one := decimal.NewFromInt(1)
	var t decimal.Decimal
	if p.Side == model.SideShort {
		t = p.Watermark.Mul(one.Add(*p.TrailingBy))
	} else {
		t = p.Watermark.Mul(one.Sub(*p.TrailingBy))
	}
	return &t
}

// effectiveStop combines the fixed stop loss and the trailing trigger into
// the tighter of the two.
func effectiveStop(p *model.Position) *decimal.Decimal {
	trail := trailingTrigger(p)
	if trail == nil {
		return p.StopLoss
	}
	if p.StopLoss == nil {
		return trail
	}
	if p.Side == model.SideShort {
		if trail.LessThan(*p.StopLoss) {
			return trail
		}
		return p.StopLoss
	}
	if trail.GreaterThan(*p.StopLoss) {
		return trail
	}
	return p.StopLoss
}

// stopCrossed reports whether price breached the effective stop. Longs stop
// out when price falls to or through the stop, shorts when it rises to or
// through it.
func stopCrossed(p *model.Position, price decimal.Decimal) bool {
	stop := effectiveStop(p)
	if stop == nil {
		return false
	}
	if p.Side == model.SideShort {
		return price.GreaterThanOrEqual(*stop)
	}
	return price.LessThanOrEqual(*stop)
}
