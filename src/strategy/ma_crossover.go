package strategy

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradingcore/src/model"
)

const TypeMACrossover = "ma_crossover"

func init() {
	Register(TypeMACrossover, func(id, symbol string, params Params) (Strategy, error) {
		return NewMACrossover(id, symbol, params), nil
	})
}

// MACrossover trades fast/slow moving-average crosses on closed candles.
// A bullish cross emits enter_long, a bearish cross enter_short; repeated
// crosses in the same direction are suppressed until the direction flips.
type MACrossover struct {
	id     string
	symbol string
	params Params

	fastPeriod int
	slowPeriod int
	minVolume  decimal.Decimal
	riskFactor decimal.Decimal
	signalTTL  time.Duration

	closes  []decimal.Decimal
	volumes []decimal.Decimal
	fastMA  []decimal.Decimal
	slowMA  []decimal.Decimal
	// lastCross is "up", "down" or empty before the first cross.
	lastCross string

	pending *model.Signal
}

func NewMACrossover(id, symbol string, params Params) *MACrossover {
	return &MACrossover{
		id:         id,
		symbol:     symbol,
		params:     params,
		fastPeriod: params.Int("fast_ma", 10),
		slowPeriod: params.Int("slow_ma", 21),
		minVolume:  params.Decimal("min_volume", decimal.NewFromInt(1_000_000)),
		riskFactor: params.Decimal("risk_factor", decimal.NewFromFloat(0.02)),
		signalTTL:  time.Duration(params.Int("signal_ttl_seconds", 60)) * time.Second,
	}
}

func (m *MACrossover) Initialize(ctx context.Context) error {
	m.closes = m.closes[:0]
	m.volumes = m.volumes[:0]
	m.lastCross = ""
	return nil
}

func (m *MACrossover) DataRequirements() []DataType {
	return []DataType{DataTypeCandle}
}

func (m *MACrossover) ProcessData(ctx context.Context, dp DataPoint) error {
	if dp.Type != DataTypeCandle || dp.Candle == nil {
		return nil
	}

	m.closes = append(m.closes, dp.Candle.Close)
	m.volumes = append(m.volumes, dp.Candle.Volume)

	// Bound the history to what the indicators need.
	maxPeriod := m.slowPeriod
	if m.fastPeriod > maxPeriod {
		maxPeriod = m.fastPeriod
	}
	if keep := maxPeriod * 2; len(m.closes) > keep {
		m.closes = m.closes[len(m.closes)-keep:]
		m.volumes = m.volumes[len(m.volumes)-keep:]
	}

	if len(m.closes) >= maxPeriod {
		m.fastMA = movingAverage(m.closes, m.fastPeriod)
		m.slowMA = movingAverage(m.closes, m.slowPeriod)
	}

	m.pending = m.evaluateCross(dp.Timestamp)
	return nil
}

func (m *MACrossover) evaluateCross(ts time.Time) *model.Signal {
	if len(m.fastMA) < 2 || len(m.slowMA) < 2 {
		return nil
	}

	volume := m.volumes[len(m.volumes)-1]
	if volume.LessThan(m.minVolume) {
		return nil
	}

	prevDiff := m.fastMA[len(m.fastMA)-2].Sub(m.slowMA[len(m.slowMA)-2])
	currDiff := m.fastMA[len(m.fastMA)-1].Sub(m.slowMA[len(m.slowMA)-1])

	var direction model.SignalDirection
	var cross string
	switch {
	case prevDiff.LessThanOrEqual(decimal.Zero) && currDiff.GreaterThan(decimal.Zero):
		direction, cross = model.SignalEnterLong, "up"
	case prevDiff.GreaterThanOrEqual(decimal.Zero) && currDiff.LessThan(decimal.Zero):
		direction, cross = model.SignalEnterShort, "down"
	default:
		return nil
	}
	if m.lastCross == cross {
		return nil
	}
	m.lastCross = cross

	return m.newSignal(direction, ts, volume)
}

func (m *MACrossover) newSignal(direction model.SignalDirection, ts time.Time, volume decimal.Decimal) *model.Signal {
	price := m.closes[len(m.closes)-1]
	expiry := ts.Add(m.signalTTL)

	return &model.Signal{
		ID:          "sig_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Symbol:      m.symbol,
		StrategyID:  m.id,
		Direction:   direction,
		Price:       price,
		Volume:      volume,
		Confidence:  decimal.NewFromFloat(0.8),
		GeneratedAt: ts,
		ExpiresAt:   &expiry,
		Params: map[string]any{
			"strategy":    TypeMACrossover,
			"fast_ma":     m.fastMA[len(m.fastMA)-1].String(),
			"slow_ma":     m.slowMA[len(m.slowMA)-1].String(),
			"risk_factor": m.riskFactor.String(),
		},
	}
}

func (m *MACrossover) GenerateSignal(ctx context.Context) (*model.Signal, error) {
	sig := m.pending
	m.pending = nil
	return sig, nil
}

// movingAverage returns the simple moving average series of the input with
// the given period, oldest first.
func movingAverage(data []decimal.Decimal, period int) []decimal.Decimal {
	if period <= 0 || len(data) < period {
		return nil
	}

	out := make([]decimal.Decimal, 0, len(data)-period+1)
	div := decimal.NewFromInt(int64(period))

	sum := decimal.Zero
	for i, v := range data {
		sum = sum.Add(v)
		if i >= period {
			sum = sum.Sub(data[i-period])
		}
		if i >= period-1 {
			out = append(out, sum.Div(div))
		}
	}
	return out
}
