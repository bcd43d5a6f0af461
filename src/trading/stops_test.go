package trading

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/src/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func TestPnlForLongAndShort(t *testing.T) {
	// (price - entry) * size, negated for shorts.
	if got := pnlFor(model.SideLong, d("19.98"), d("18.98"), d("100")); !got.Equal(d("-100")) {
		t.Fatalf("long pnl = %s, want -100", got)
	}
	if got := pnlFor(model.SideLong, d("19.98"), d("21.98"), d("100")); !got.Equal(d("200")) {
		t.Fatalf("long pnl = %s, want 200", got)
	}
	if got := pnlFor(model.SideShort, d("19.98"), d("18.98"), d("100")); !got.Equal(d("100")) {
		t.Fatalf("short pnl = %s, want 100", got)
	}
	if got := pnlFor(model.SideShort, d("19.98"), d("21.98"), d("100")); !got.Equal(d("-200")) {
		t.Fatalf("short pnl = %s, want -200", got)
	}
}

func TestWatermarkOnlyMovesInFavor(t *testing.T) {
	p := &model.Position{Side: model.SideLong, TrailingBy: dp("0.02")}

	if !advanceWatermark(p, d("100")) {
		t.Fatal("first price must seed the watermark")
	}
	if !advanceWatermark(p, d("105")) || !p.Watermark.Equal(d("105")) {
		t.Fatalf("watermark must rise with price, got %s", p.Watermark)
	}
	if advanceWatermark(p, d("101")) {
		t.Fatal("watermark must not retreat on a pullback")
	}
	if !p.Watermark.Equal(d("105")) {
		t.Fatalf("watermark changed on pullback: %s", p.Watermark)
	}

	short := &model.Position{Side: model.SideShort, TrailingBy: dp("0.02")}
	advanceWatermark(short, d("100"))
	if !advanceWatermark(short, d("95")) || !short.Watermark.Equal(d("95")) {
		t.Fatalf("short watermark must fall with price, got %s", short.Watermark)
	}
	if advanceWatermark(short, d("98")) {
		t.Fatal("short watermark must not rise on a bounce")
	}
}

func TestWatermarkInertWithoutTrailing(t *testing.T) {
	p := &model.Position{Side: model.SideLong}
	if advanceWatermark(p, d("100")) || p.Watermark != nil {
		t.Fatal("positions without a trailing stop keep no watermark")
	}
}

func TestTrailingTriggerFromWatermark(t *testing.T) {
	long := &model.Position{Side: model.SideLong, TrailingBy: dp("0.02"), Watermark: dp("105")}
	if got := trailingTrigger(long); got == nil || !got.Equal(d("102.9")) {
		t.Fatalf("long trigger = %v, want 102.9", got)
	}

	short := &model.Position{Side: model.SideShort, TrailingBy: dp("0.02"), Watermark: dp("95")}
	if got := trailingTrigger(short); got == nil || !got.Equal(d("96.9")) {
		t.Fatalf("short trigger = %v, want 96.9", got)
	}

	if trailingTrigger(&model.Position{Side: model.SideLong, TrailingBy: dp("0.02")}) != nil {
		t.Fatal("no trigger before the watermark is seeded")
	}
}

func TestEffectiveStopPicksTighterOfFixedAndTrailing(t *testing.T) {
	// Trailing above the fixed stop wins for a long.
	p := &model.Position{
		Side:       model.SideLong,
		StopLoss:   dp("95"),
		TrailingBy: dp("0.02"),
		Watermark:  dp("105"),
	}
	if got := effectiveStop(p); !got.Equal(d("102.9")) {
		t.Fatalf("effective stop = %s, want trailing 102.9", got)
	}

	// Fixed stop above the trailing trigger wins.
	p.StopLoss = dp("103.5")
	if got := effectiveStop(p); !got.Equal(d("103.5")) {
		t.Fatalf("effective stop = %s, want fixed 103.5", got)
	}

	// Short: the lower of the two protects tighter.
	s := &model.Position{
		Side:       model.SideShort,
		StopLoss:   dp("99"),
		TrailingBy: dp("0.02"),
		Watermark:  dp("95"),
	}
	if got := effectiveStop(s); !got.Equal(d("96.9")) {
		t.Fatalf("short effective stop = %s, want trailing 96.9", got)
	}
}

func TestStopCrossed(t *testing.T) {
	long := &model.Position{Side: model.SideLong, StopLoss: dp("95")}
	if stopCrossed(long, d("95.01")) {
		t.Fatal("price above the stop must not trigger")
	}
	if !stopCrossed(long, d("95")) {
		t.Fatal("touching the stop triggers")
	}
	if !stopCrossed(long, d("90")) {
		t.Fatal("price through the stop triggers")
	}

	short := &model.Position{Side: model.SideShort, StopLoss: dp("105")}
	if stopCrossed(short, d("104.99")) {
		t.Fatal("price below a short stop must not trigger")
	}
	if !stopCrossed(short, d("105")) {
		t.Fatal("touching a short stop triggers")
	}

	if stopCrossed(&model.Position{Side: model.SideLong}, d("1")) {
		t.Fatal("no stop configured, nothing to cross")
	}
}
