package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradingcore/src/bus"
	"tradingcore/src/model"
	"tradingcore/src/statestore"
)

var ErrOutOfOrder = errors.New("tick timestamp out of order")

// Normalizer converts raw trade prints into canonical ticks and aggregates
// them into candles across the configured interval set. It owns the single
// open candle per (symbol, interval); finalized candles are immutable,
// published on market.candle and persisted.
type Normalizer struct {
	cfg   Config
	log   *logger.Entry
	bus   *bus.Bus
	store statestore.Store

	intervals map[string]time.Duration

	mu     sync.Mutex
	lastTS map[string]time.Time
	// open[symbol][interval] is the one mutable candle per pair.
	open map[string]map[string]*model.Candle
}

func NewNormalizer(b *bus.Bus, store statestore.Store, cfg Config) (*Normalizer, error) {
	intervals := make(map[string]time.Duration, len(cfg.Intervals))
	for _, label := range cfg.Intervals {
		d, err := ParseInterval(label)
		if err != nil {
			return nil, err
		}
		intervals[label] = d
	}
	if len(intervals) == 0 {
		return nil, errors.New("no candle intervals configured")
	}

	return &Normalizer{
		cfg:       cfg,
		log:       logger.WithField("component", "normalizer"),
		bus:       b,
		store:     store,
		intervals: intervals,
		lastTS:    make(map[string]time.Time),
		open:      make(map[string]map[string]*model.Candle),
	}, nil
}

// bucketStart aligns t to the wall-clock boundary of the interval, in UTC.
func bucketStart(t time.Time, interval time.Duration) time.Time {
	secs := t.Unix()
	step := int64(interval.Seconds())
	return time.Unix((secs/step)*step, 0).UTC()
}

// Ingest validates and applies one tick. Out-of-order ticks beyond the
// tolerance window are rejected with ErrOutOfOrder, never reordered. A single
// tick may finalize several candles at once, one per interval whose boundary
// it crossed.
func (n *Normalizer) Ingest(ctx context.Context, tick model.Tick) error {
	if tick.Symbol == "" || !tick.Price.IsPositive() {
		return fmt.Errorf("invalid tick for %q: non-positive price", tick.Symbol)
	}
	if tick.ReceivedAt.IsZero() {
		tick.ReceivedAt = time.Now()
	}

	n.mu.Lock()
	last, seen := n.lastTS[tick.Symbol]
	if seen && tick.Timestamp.Before(last.Add(-n.cfg.TickTolerance)) {
		n.mu.Unlock()
		n.log.WithFields(logger.Fields{
			"symbol":  tick.Symbol,
			"tick_ts": tick.Timestamp,
			"last_ts": last,
		}).Warn("rejecting out-of-order tick")
		return ErrOutOfOrder
	}
	if !seen || tick.Timestamp.After(last) {
		n.lastTS[tick.Symbol] = tick.Timestamp
	}

	closed := n.applyToCandles(tick)
	n.mu.Unlock()

	// Finalized candles are flushed first. The open candle has already been
	// replaced, so a failure persisting or announcing the tick must not drop
	// a completed window.
	var errs []error
	for _, c := range closed {
		if err := n.finalize(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}

	if err := n.store.AppendTick(ctx, tick); err != nil {
		errs = append(errs, fmt.Errorf("persist tick: %w", err))
	} else if err := n.bus.Publish(ctx, model.EventMarketTrade, map[string]any{
		"tick":      tick,
		"symbol":    tick.Symbol,
		"price":     tick.Price.String(),
		"size":      tick.Size.String(),
		"timestamp": tick.Timestamp,
	}); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	n.updateLatestPrice(ctx, tick)
	return nil
}

// applyToCandles updates every interval's open candle with the tick and
// returns the candles whose windows it closed. Caller holds n.mu.
func (n *Normalizer) applyToCandles(tick model.Tick) []model.Candle {
	bySymbol, ok := n.open[tick.Symbol]
	if !ok {
		bySymbol = make(map[string]*model.Candle, len(n.intervals))
		n.open[tick.Symbol] = bySymbol
	}

	var closed []model.Candle
	for label, interval := range n.intervals {
		cur := bySymbol[label]
		if cur != nil && !tick.Timestamp.Before(cur.EndAt) {
			closed = append(closed, *cur)
			cur = nil
		}

		if cur == nil {
			start := bucketStart(tick.Timestamp, interval)
			c := model.NewCandle(tick.Symbol, label, start, start.Add(interval), tick)
			bySymbol[label] = &c
			continue
		}

		// Ticks inside the tolerance window may lag the candle start;
		// they still belong to the open candle.
		cur.Apply(tick)
	}
	return closed
}

func (n *Normalizer) finalize(ctx context.Context, c model.Candle) error {
	if err := n.store.AppendCandle(ctx, c); err != nil {
		return fmt.Errorf("persist candle: %w", err)
	}

	n.log.WithFields(logger.Fields{
		"symbol":   c.Symbol,
		"interval": c.Interval,
		"start":    c.StartAt,
		"close":    c.Close.String(),
		"volume":   c.Volume.String(),
	}).Debug("candle finalized")

	return n.bus.Publish(ctx, model.EventMarketCandle, map[string]any{
		"candle":   c,
		"symbol":   c.Symbol,
		"interval": c.Interval,
	})
}

// updateLatestPrice keeps the last trade price in keyed state with a short
// TTL so other components can read it without a history query. Best effort.
func (n *Normalizer) updateLatestPrice(ctx context.Context, tick model.Tick) {
	payload, err := json.Marshal(map[string]any{
		"last_price":      tick.Price.String(),
		"last_size":       tick.Size.String(),
		"last_trade_time": tick.Timestamp,
	})
	if err != nil {
		return
	}
	key := "market:" + tick.Symbol + ":latest"
	if err := n.store.SetState(ctx, key, payload, n.cfg.PriceStateTTL); err != nil {
		n.log.WithError(err).WithField("symbol", tick.Symbol).
			Warn("failed to update latest price state")
	}
}

// OpenCandle returns a copy of the current open candle for inspection.
func (n *Normalizer) OpenCandle(symbol, interval string) (model.Candle, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if bySymbol, ok := n.open[symbol]; ok {
		if c, ok := bySymbol[interval]; ok {
			return *c, true
		}
	}
	return model.Candle{}, false
}
