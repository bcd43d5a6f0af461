package strategy

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradingcore/src/model"
)

const TypeVWAP = "vwap"

func init() {
	Register(TypeVWAP, func(id, symbol string, params Params) (Strategy, error) {
		return NewVWAP(id, symbol, params), nil
	})
}

// VWAP is a mean-reversion variant around the volume-weighted average price
// of a rolling candle window. Price stretching `deviation` standard
// deviations below VWAP enters long, above enters short; reverting back
// through VWAP exits.
type VWAP struct {
	id     string
	symbol string

	window     int
	deviation  decimal.Decimal
	minVolume  decimal.Decimal
	riskFactor decimal.Decimal
	signalTTL  time.Duration

	candles []model.Candle
	// entered tracks the direction this instance believes it holds, so the
	// reversion exit fires once.
	entered model.SignalDirection

	pending *model.Signal
}

func NewVWAP(id, symbol string, params Params) *VWAP {
	return &VWAP{
		id:         id,
		symbol:     symbol,
		window:     params.Int("window", 20),
		deviation:  params.Decimal("deviation", decimal.NewFromFloat(2.0)),
		minVolume:  params.Decimal("min_volume", decimal.NewFromInt(1_000_000)),
		riskFactor: params.Decimal("risk_factor", decimal.NewFromFloat(0.02)),
		signalTTL:  time.Duration(params.Int("signal_ttl_seconds", 60)) * time.Second,
	}
}

func (v *VWAP) Initialize(ctx context.Context) error {
	v.candles = v.candles[:0]
	v.entered = ""
	return nil
}

func (v *VWAP) DataRequirements() []DataType {
	return []DataType{DataTypeCandle}
}

func (v *VWAP) ProcessData(ctx context.Context, dp DataPoint) error {
	if dp.Type != DataTypeCandle || dp.Candle == nil {
		return nil
	}

	v.candles = append(v.candles, *dp.Candle)
	if len(v.candles) > v.window {
		v.candles = v.candles[len(v.candles)-v.window:]
	}

	v.pending = v.evaluate(dp.Timestamp)
	return nil
}

// vwapOf returns the volume-weighted average price of the window and the
// standard deviation of typical prices around it.
func (v *VWAP) vwapOf() (vwap, stddev decimal.Decimal, ok bool) {
	if len(v.candles) < v.window {
		return decimal.Zero, decimal.Zero, false
	}

	pv := decimal.Zero
	vol := decimal.Zero
	three := decimal.NewFromInt(3)
	typicals := make([]decimal.Decimal, 0, len(v.candles))
	for _, c := range v.candles {
		typical := c.High.Add(c.Low).Add(c.Close).Div(three)
		typicals = append(typicals, typical)
		pv = pv.Add(typical.Mul(c.Volume))
		vol = vol.Add(c.Volume)
	}
	if vol.IsZero() {
		return decimal.Zero, decimal.Zero, false
	}
	vwap = pv.Div(vol)

	sumSq := decimal.Zero
	for _, typical := range typicals {
		diff := typical.Sub(vwap)
		sumSq = sumSq.Add(diff.Mul(diff))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(typicals))))
	f, _ := variance.Float64()
	stddev = decimal.NewFromFloat(math.Sqrt(f))
	return vwap, stddev, true
}

func (v *VWAP) evaluate(ts time.Time) *model.Signal {
	vwap, stddev, ok := v.vwapOf()
	if !ok || stddev.IsZero() {
		return nil
	}

	last := v.candles[len(v.candles)-1]
	if last.Volume.LessThan(v.minVolume) {
		return nil
	}

	band := stddev.Mul(v.deviation)
	lower := vwap.Sub(band)
	upper := vwap.Add(band)
	price := last.Close

	switch {
	case v.entered == "" && price.LessThan(lower):
		v.entered = model.SignalEnterLong
		return v.newSignal(model.SignalEnterLong, ts, last.Volume, vwap)
	case v.entered == "" && price.GreaterThan(upper):
		v.entered = model.SignalEnterShort
		return v.newSignal(model.SignalEnterShort, ts, last.Volume, vwap)
	case v.entered == model.SignalEnterLong && price.GreaterThanOrEqual(vwap):
		v.entered = ""
		return v.newSignal(model.SignalExit, ts, last.Volume, vwap)
	case v.entered == model.SignalEnterShort && price.LessThanOrEqual(vwap):
		v.entered = ""
		return v.newSignal(model.SignalExit, ts, last.Volume, vwap)
	}
	return nil
}

func (v *VWAP) newSignal(direction model.SignalDirection, ts time.Time, volume, vwap decimal.Decimal) *model.Signal {
	expiry := ts.Add(v.signalTTL)
	return &model.Signal{
		ID:          "sig_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Symbol:      v.symbol,
		StrategyID:  v.id,
		Direction:   direction,
		Price:       v.candles[len(v.candles)-1].Close,
		Volume:      volume,
		Confidence:  decimal.NewFromFloat(0.7),
		GeneratedAt: ts,
		ExpiresAt:   &expiry,
		Params: map[string]any{
			"strategy":    TypeVWAP,
			"vwap":        vwap.String(),
			"deviation":   v.deviation.String(),
			"risk_factor": v.riskFactor.String(),
		},
	}
}

func (v *VWAP) GenerateSignal(ctx context.Context) (*model.Signal, error) {
	sig := v.pending
	v.pending = nil
	return sig, nil
}
