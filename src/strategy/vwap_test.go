package strategy

import (
	"context"
	"testing"
	"time"

	"tradingcore/src/model"
)

func TestVWAPEntersLongBelowBandAndExitsOnReversion(t *testing.T) {
	s := NewVWAP("strat_test", "SOL-USDC", Params{
		"window": 3, "deviation": float64(1.0), "min_volume": float64(0),
	})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Flat prices, then a sharp drop below the lower band, then reversion
	// back through the average.
	signals := feed(t, s, []string{"100", "100", "90", "97"})
	if len(signals) != 2 {
		t.Fatalf("expected entry then exit, got %d signals", len(signals))
	}
	if signals[0].Direction != model.SignalEnterLong {
		t.Fatalf("expected enter_long on the drop, got %s", signals[0].Direction)
	}
	if signals[1].Direction != model.SignalExit {
		t.Fatalf("expected exit on reversion, got %s", signals[1].Direction)
	}
	if signals[0].Params["strategy"] != TypeVWAP {
		t.Fatalf("params snapshot missing strategy tag: %v", signals[0].Params)
	}
}

func TestVWAPEntersShortAboveBand(t *testing.T) {
	s := NewVWAP("strat_test", "SOL-USDC", Params{
		"window": 3, "deviation": float64(1.0), "min_volume": float64(0),
	})

	signals := feed(t, s, []string{"100", "100", "112"})
	if len(signals) != 1 {
		t.Fatalf("expected one signal, got %d", len(signals))
	}
	if signals[0].Direction != model.SignalEnterShort {
		t.Fatalf("expected enter_short on the spike, got %s", signals[0].Direction)
	}
}

func TestVWAPNoSignalOnZeroDeviation(t *testing.T) {
	s := NewVWAP("strat_test", "SOL-USDC", Params{
		"window": 3, "deviation": float64(1.0), "min_volume": float64(0),
	})

	if signals := feed(t, s, []string{"100", "100", "100", "100"}); len(signals) != 0 {
		t.Fatalf("flat market produced %d signals", len(signals))
	}
}

func TestTWAPDriftEntryAndExit(t *testing.T) {
	s := NewTWAP("strat_test", "SOL-USDC", Params{
		"window": 4, "threshold": float64(0.01), "min_volume": float64(0),
	})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Flat window, then a discount beyond the threshold, then drift back
	// to the average.
	signals := feed(t, s, []string{"100", "100", "100", "100", "95", "99"})
	if len(signals) != 2 {
		t.Fatalf("expected entry then exit, got %d signals", len(signals))
	}
	if signals[0].Direction != model.SignalEnterLong {
		t.Fatalf("expected enter_long on the discount, got %s", signals[0].Direction)
	}
	if signals[1].Direction != model.SignalExit {
		t.Fatalf("expected exit on mean return, got %s", signals[1].Direction)
	}
}

func TestTWAPPremiumEntersShort(t *testing.T) {
	s := NewTWAP("strat_test", "SOL-USDC", Params{
		"window": 4, "threshold": float64(0.01), "min_volume": float64(0),
	})

	signals := feed(t, s, []string{"100", "100", "100", "100", "105"})
	if len(signals) != 1 {
		t.Fatalf("expected one signal, got %d", len(signals))
	}
	if signals[0].Direction != model.SignalEnterShort {
		t.Fatalf("expected enter_short on the premium, got %s", signals[0].Direction)
	}
}

func TestTWAPNeedsFullWindow(t *testing.T) {
	s := NewTWAP("strat_test", "SOL-USDC", Params{
		"window": 10, "threshold": float64(0.01), "min_volume": float64(0),
	})

	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	dp := candlePoint(ts, "100", "2000000")
	if err := s.ProcessData(ctx, dp); err != nil {
		t.Fatal(err)
	}
	sig, err := s.GenerateSignal(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sig != nil {
		t.Fatal("signal before the window filled")
	}
}
