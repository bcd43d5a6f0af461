package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/src/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func candlePoint(ts time.Time, close, volume string) DataPoint {
	c := model.Candle{
		Symbol:   "SOL-USDC",
		Interval: "1m",
		StartAt:  ts.Add(-time.Minute),
		EndAt:    ts,
		Open:     d(close),
		High:     d(close),
		Low:      d(close),
		Close:    d(close),
		Volume:   d(volume),
	}
	return DataPoint{Type: DataTypeCandle, Symbol: "SOL-USDC", Timestamp: ts, Candle: &c}
}

// feed pushes closes through the strategy and returns the signals generated.
func feed(t *testing.T, s Strategy, closes []string) []*model.Signal {
	t.Helper()
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var signals []*model.Signal
	for i, close := range closes {
		dp := candlePoint(ts.Add(time.Duration(i)*time.Minute), close, "2000000")
		if err := s.ProcessData(ctx, dp); err != nil {
			t.Fatalf("process data %d: %v", i, err)
		}
		sig, err := s.GenerateSignal(ctx)
		if err != nil {
			t.Fatalf("generate signal %d: %v", i, err)
		}
		if sig != nil {
			signals = append(signals, sig)
		}
	}
	return signals
}

func TestMovingAverage(t *testing.T) {
	data := []decimal.Decimal{d("1"), d("2"), d("3"), d("4"), d("5")}
	out := movingAverage(data, 3)
	if len(out) != 3 {
		t.Fatalf("expected 3 values, got %d", len(out))
	}
	want := []string{"2", "3", "4"}
	for i, w := range want {
		if !out[i].Equal(d(w)) {
			t.Fatalf("ma[%d] = %s, want %s", i, out[i], w)
		}
	}

	if movingAverage(data, 6) != nil {
		t.Fatal("expected nil when data shorter than period")
	}
}

func TestMACrossoverBullishCross(t *testing.T) {
	s := NewMACrossover("strat_test", "SOL-USDC", Params{
		"fast_ma": 2, "slow_ma": 3, "min_volume": float64(0),
	})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Downtrend establishes fast < slow, then a sharp rally crosses up.
	signals := feed(t, s, []string{"105", "104", "103", "102", "101", "110", "115"})
	if len(signals) != 1 {
		t.Fatalf("expected exactly one signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Direction != model.SignalEnterLong {
		t.Fatalf("expected enter_long, got %s", sig.Direction)
	}
	if sig.Symbol != "SOL-USDC" || sig.StrategyID != "strat_test" {
		t.Fatalf("signal identity wrong: %+v", sig)
	}
	if !sig.Price.Equal(d("110")) && !sig.Price.Equal(d("115")) {
		t.Fatalf("signal price should be a rally close, got %s", sig.Price)
	}
	if sig.ExpiresAt == nil || !sig.ExpiresAt.After(sig.GeneratedAt) {
		t.Fatalf("expiry not set after generation time: %+v", sig)
	}
	if sig.Params["strategy"] != TypeMACrossover {
		t.Fatalf("params snapshot missing strategy tag: %v", sig.Params)
	}
}

func TestMACrossoverDirectionFlip(t *testing.T) {
	s := NewMACrossover("strat_test", "SOL-USDC", Params{
		"fast_ma": 2, "slow_ma": 3, "min_volume": float64(0),
	})

	// Up cross, then a collapse for a down cross.
	signals := feed(t, s, []string{"105", "104", "103", "102", "110", "115", "90", "80", "70"})
	if len(signals) != 2 {
		t.Fatalf("expected two signals, got %d", len(signals))
	}
	if signals[0].Direction != model.SignalEnterLong || signals[1].Direction != model.SignalEnterShort {
		t.Fatalf("expected long then short, got %s then %s", signals[0].Direction, signals[1].Direction)
	}
}

func TestMACrossoverMinVolumeGate(t *testing.T) {
	s := NewMACrossover("strat_test", "SOL-USDC", Params{
		"fast_ma": 2, "slow_ma": 3, "min_volume": float64(5_000_000),
	})

	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	closes := []string{"105", "104", "103", "102", "101", "110", "115"}
	for i, close := range closes {
		dp := candlePoint(ts.Add(time.Duration(i)*time.Minute), close, "1000") // thin volume
		if err := s.ProcessData(ctx, dp); err != nil {
			t.Fatal(err)
		}
		sig, err := s.GenerateSignal(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if sig != nil {
			t.Fatalf("signal emitted despite volume below minimum: %+v", sig)
		}
	}
}

func TestMACrossoverIgnoresTicks(t *testing.T) {
	s := NewMACrossover("strat_test", "SOL-USDC", Params{"fast_ma": 2, "slow_ma": 3})
	ctx := context.Background()

	tk := model.Tick{Symbol: "SOL-USDC", Price: d("100"), Size: d("1"), Timestamp: time.Now()}
	dp := DataPoint{Type: DataTypeTrade, Symbol: "SOL-USDC", Timestamp: tk.Timestamp, Tick: &tk}
	if err := s.ProcessData(ctx, dp); err != nil {
		t.Fatal(err)
	}
	sig, err := s.GenerateSignal(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sig != nil {
		t.Fatal("tick data must not produce a signal for a candle strategy")
	}
}

func TestTemplateParamsMergeOverrides(t *testing.T) {
	params, err := TemplateParams(TypeMACrossover, "aggressive", Params{"fast_ma": 5})
	if err != nil {
		t.Fatal(err)
	}
	if params.Int("fast_ma", 0) != 5 {
		t.Fatalf("override lost: %v", params["fast_ma"])
	}
	if params.Int("slow_ma", 0) != 21 {
		t.Fatalf("template base lost: %v", params["slow_ma"])
	}

	if _, err := TemplateParams("unknown", "conservative", nil); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := TemplateParams(TypeMACrossover, "unknown", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestRegistryNewUnknownType(t *testing.T) {
	if _, err := New("does_not_exist", "id", "SOL-USDC", nil); err == nil {
		t.Fatal("expected error for unregistered type")
	}

	types := Types()
	seen := map[string]bool{}
	for _, tt := range types {
		seen[tt] = true
	}
	for _, want := range []string{TypeMACrossover, TypeVWAP, TypeTWAP} {
		if !seen[want] {
			t.Fatalf("registry missing %s (have %v)", want, types)
		}
	}
}
