package strategy

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradingcore/src/model"
)

const TypeTWAP = "twap"

func init() {
	Register(TypeTWAP, func(id, symbol string, params Params) (Strategy, error) {
		return NewTWAP(id, symbol, params), nil
	})
}

// TWAP compares the last close against the time-weighted average price of a
// rolling candle window. A discount beyond `threshold` enters long, a
// premium beyond it enters short. One position view at a time, like VWAP.
type TWAP struct {
	id     string
	symbol string

	window     int
	threshold  decimal.Decimal
	minVolume  decimal.Decimal
	riskFactor decimal.Decimal
	signalTTL  time.Duration

	closes  []decimal.Decimal
	volumes []decimal.Decimal
	entered model.SignalDirection

	pending *model.Signal
}

func NewTWAP(id, symbol string, params Params) *TWAP {
	return &TWAP{
		id:         id,
		symbol:     symbol,
		window:     params.Int("window", 30),
		threshold:  params.Decimal("threshold", decimal.NewFromFloat(0.01)),
		minVolume:  params.Decimal("min_volume", decimal.NewFromInt(1_000_000)),
		riskFactor: params.Decimal("risk_factor", decimal.NewFromFloat(0.02)),
		signalTTL:  time.Duration(params.Int("signal_ttl_seconds", 60)) * time.Second,
	}
}

func (t *TWAP) Initialize(ctx context.Context) error {
	t.closes = t.closes[:0]
	t.volumes = t.volumes[:0]
	t.entered = ""
	return nil
}

func (t *TWAP) DataRequirements() []DataType {
	return []DataType{DataTypeCandle}
}

func (t *TWAP) ProcessData(ctx context.Context, dp DataPoint) error {
	if dp.Type != DataTypeCandle || dp.Candle == nil {
		return nil
	}

	t.closes = append(t.closes, dp.Candle.Close)
	t.volumes = append(t.volumes, dp.Candle.Volume)
	if len(t.closes) > t.window {
		t.closes = t.closes[len(t.closes)-t.window:]
		t.volumes = t.volumes[len(t.volumes)-t.window:]
	}

	t.pending = t.evaluate(dp.Timestamp)
	return nil
}

func (t *TWAP) evaluate(ts time.Time) *model.Signal {
	if len(t.closes) < t.window {
		return nil
	}

	volume := t.volumes[len(t.volumes)-1]
	if volume.LessThan(t.minVolume) {
		return nil
	}

	// Candles are equally spaced, so the time-weighted average reduces to
	// the arithmetic mean of closes.
	sum := decimal.Zero
	for _, c := range t.closes {
		sum = sum.Add(c)
	}
	twap := sum.Div(decimal.NewFromInt(int64(len(t.closes))))
	if twap.IsZero() {
		return nil
	}

	price := t.closes[len(t.closes)-1]
	drift := price.Sub(twap).Div(twap)

	switch {
	case t.entered == "" && drift.LessThanOrEqual(t.threshold.Neg()):
		t.entered = model.SignalEnterLong
		return t.newSignal(model.SignalEnterLong, ts, volume, twap)
	case t.entered == "" && drift.GreaterThanOrEqual(t.threshold):
		t.entered = model.SignalEnterShort
		return t.newSignal(model.SignalEnterShort, ts, volume, twap)
	case t.entered == model.SignalEnterLong && drift.GreaterThanOrEqual(decimal.Zero):
		t.entered = ""
		return t.newSignal(model.SignalExit, ts, volume, twap)
	case t.entered == model.SignalEnterShort && drift.LessThanOrEqual(decimal.Zero):
		t.entered = ""
		return t.newSignal(model.SignalExit, ts, volume, twap)
	}
	return nil
}

func (t *TWAP) newSignal(direction model.SignalDirection, ts time.Time, volume, twap decimal.Decimal) *model.Signal {
	expiry := ts.Add(t.signalTTL)
	return &model.Signal{
		ID:          "sig_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Symbol:      t.symbol,
		StrategyID:  t.id,
		Direction:   direction,
		Price:       t.closes[len(t.closes)-1],
		Volume:      volume,
		Confidence:  decimal.NewFromFloat(0.6),
		GeneratedAt: ts,
		ExpiresAt:   &expiry,
		Params: map[string]any{
			"strategy":    TypeTWAP,
			"twap":        twap.String(),
			"threshold":   t.threshold.String(),
			"risk_factor": t.riskFactor.String(),
		},
	}
}

func (t *TWAP) GenerateSignal(ctx context.Context) (*model.Signal, error) {
	sig := t.pending
	t.pending = nil
	return sig, nil
}
