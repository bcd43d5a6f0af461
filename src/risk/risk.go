package risk

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"tradingcore/src/model"
)

var (
	ErrMaxPositions     = errors.New("max positions per symbol reached")
	ErrPriceImpact      = errors.New("price impact above limit")
	ErrPositionTooSmall = errors.New("position size below minimum")
	ErrReserveBreached  = errors.New("reserve balance below minimum")
	ErrNonPositivePrice = errors.New("price must be positive")
)

// Limits is the global risk configuration consumed by the order manager.
// Price-impact and liquidity thresholds are venue-level, not per strategy.
type Limits struct {
	MaxPositionSize       decimal.Decimal
	MinPositionSize       decimal.Decimal
	MaxPositionsPerSymbol int
	DefaultStopLossPct    decimal.Decimal
	RiskFactor            decimal.Decimal
	MaxPriceImpact        decimal.Decimal
	MinReserveBalance     decimal.Decimal
}

type config struct {
	MaxPositionSize       float64 `envconfig:"MAX_POSITION_SIZE" default:"1000"`
	MinPositionSize       float64 `envconfig:"MIN_POSITION_SIZE" default:"10"`
	MaxPositionsPerSymbol int     `envconfig:"MAX_POSITIONS_PER_SYMBOL" default:"1"`
	DefaultStopLossPct    float64 `envconfig:"DEFAULT_STOP_LOSS_PERCENT" default:"0.05"`
	RiskFactor            float64 `envconfig:"RISK_FACTOR" default:"0.02"`
	MaxPriceImpact        float64 `envconfig:"MAX_PRICE_IMPACT" default:"0.01"`
	MinReserveBalance     float64 `envconfig:"MIN_RESERVE_BALANCE" default:"0.1"`
}

func GetLimits() Limits {
	var c config
	if err := envconfig.Process("", &c); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return Limits{
		MaxPositionSize:       decimal.NewFromFloat(c.MaxPositionSize),
		MinPositionSize:       decimal.NewFromFloat(c.MinPositionSize),
		MaxPositionsPerSymbol: c.MaxPositionsPerSymbol,
		DefaultStopLossPct:    decimal.NewFromFloat(c.DefaultStopLossPct),
		RiskFactor:            decimal.NewFromFloat(c.RiskFactor),
		MaxPriceImpact:        decimal.NewFromFloat(c.MaxPriceImpact),
		MinReserveBalance:     decimal.NewFromFloat(c.MinReserveBalance),
	}
}

// CheckPositionCount enforces the per-symbol concurrency limit counting
// every live (pending, open, closing) position.
func (l Limits) CheckPositionCount(live int) error {
	if live >= l.MaxPositionsPerSymbol {
		return fmt.Errorf("%d live positions: %w", live, ErrMaxPositions)
	}
	return nil
}

// CheckPriceImpact rejects quotes whose impact exceeds the venue limit.
func (l Limits) CheckPriceImpact(impact decimal.Decimal) error {
	if impact.GreaterThan(l.MaxPriceImpact) {
		return fmt.Errorf("impact %s > limit %s: %w",
			impact.String(), l.MaxPriceImpact.String(), ErrPriceImpact)
	}
	return nil
}

// CheckReserve rejects an entry whose notional would leave less than
// MinReserveBalance (as a fraction of the account) uncommitted. committed is
// the notional already tied up in live positions.
func (l Limits) CheckReserve(accountSize, committed, notional decimal.Decimal) error {
	free := accountSize.Sub(committed).Sub(notional)
	reserve := accountSize.Mul(l.MinReserveBalance)
	if free.LessThan(reserve) {
		return fmt.Errorf("free balance %s < reserve %s: %w",
			free.String(), reserve.String(), ErrReserveBreached)
	}
	return nil
}

// SizePosition derives an executable size from a signal. A requested size of
// zero falls back to risk-factor sizing: the account risks
// accountSize*RiskFactor against the stop distance. The result is clamped to
// MaxPositionSize; sizes below MinPositionSize are rejected rather than
// rounded up.
func (l Limits) SizePosition(requested, price, accountSize decimal.Decimal, stopLossPct decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, ErrNonPositivePrice
	}

	size := requested
	if size.IsZero() {
		if stopLossPct.IsZero() {
			stopLossPct = l.DefaultStopLossPct
		}
		riskAmount := accountSize.Mul(l.RiskFactor)
		size = riskAmount.Div(price.Mul(stopLossPct))
	}

	if size.GreaterThan(l.MaxPositionSize) {
		size = l.MaxPositionSize
	}
	if size.LessThan(l.MinPositionSize) {
		return decimal.Zero, fmt.Errorf("size %s < min %s: %w",
			size.String(), l.MinPositionSize.String(), ErrPositionTooSmall)
	}
	return size, nil
}

// StopLossFor computes the default stop price for an entry when the signal
// does not carry an explicit one. Long stops sit below entry, short stops
// above.
func (l Limits) StopLossFor(side string, entry decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	if pct.IsZero() {
		pct = l.DefaultStopLossPct
	}
	if side == model.SideShort {
		return entry.Mul(decimal.NewFromInt(1).Add(pct))
	}
	return entry.Mul(decimal.NewFromInt(1).Sub(pct))
}
