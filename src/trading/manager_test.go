package trading

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tradingcore/src/bus"
	"tradingcore/src/database"
	"tradingcore/src/model"
	"tradingcore/src/risk"
	"tradingcore/src/statestore"
	"tradingcore/src/venue"
)

// fakeVenue fills every quote and swap from scripted values.
type fakeVenue struct {
	mu         sync.Mutex
	price      decimal.Decimal
	fillSize   decimal.Decimal
	fee        decimal.Decimal
	impact     decimal.Decimal
	quoteErr   error
	swapErr    error
	quoteCalls int
	swapCalls  int
}

func (f *fakeVenue) GetQuote(ctx context.Context, inputAsset, outputAsset string, amount decimal.Decimal) (*venue.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &venue.Quote{
		InputAsset:  inputAsset,
		OutputAsset: outputAsset,
		Amount:      amount,
		Price:       f.price,
		PriceImpact: f.impact,
		Raw:         map[string]any{},
	}, nil
}

func (f *fakeVenue) ExecuteSwap(ctx context.Context, quote *venue.Quote) (*venue.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swapCalls++
	if f.swapErr != nil {
		return nil, f.swapErr
	}
	return &venue.SwapResult{
		VenueOrderID:   "venue_1",
		ConfirmedPrice: f.price,
		FilledSize:     f.fillSize,
		Fee:            f.fee,
	}, nil
}

func (f *fakeVenue) set(fn func(*fakeVenue)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func testLimits() risk.Limits {
	return risk.Limits{
		MaxPositionSize:       d("1000"),
		MinPositionSize:       d("10"),
		MaxPositionsPerSymbol: 1,
		DefaultStopLossPct:    d("0.05"),
		RiskFactor:            d("0.02"),
		MaxPriceImpact:        d("0.01"),
		MinReserveBalance:     d("0.1"),
	}
}

func setupManager(t *testing.T) (*Manager, *fakeVenue, *bus.Bus, statestore.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	store := statestore.NewGormStoreWithDB(db)

	b := bus.New(nil, bus.Config{QueueSize: 64, MaxRetries: 0, RetryDelay: time.Millisecond})
	t.Cleanup(b.Close)

	fv := &fakeVenue{
		price:    d("19.98"),
		fillSize: d("100"),
		fee:      d("0.1"),
		impact:   d("0.001"),
	}
	m := NewManager(Config{
		ExecutionTimeout: time.Second,
		AccountSize:      10000,
		QuoteAsset:       "USDC",
		WorkerQueueSize:  16,
	}, testLimits(), b, store, fv)
	return m, fv, b, store
}

func collect(b *bus.Bus, pattern string) <-chan model.Event {
	ch := make(chan model.Event, 16)
	b.Subscribe(pattern, func(ctx context.Context, evt model.Event) error {
		ch <- evt
		return nil
	})
	return ch
}

func waitFor(t *testing.T, ch <-chan model.Event, eventType string) model.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type == eventType {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
			return model.Event{}
		}
	}
}

func entrySignal(strategyID, size string) model.Signal {
	return model.Signal{
		ID:          "sig_test1",
		Symbol:      "SOL-USDC",
		StrategyID:  strategyID,
		Direction:   model.SignalEnterLong,
		Size:        d(size),
		Price:       d("19.98"),
		GeneratedAt: time.Now(),
	}
}

func TestEntryOpensPosition(t *testing.T) {
	m, fv, b, store := setupManager(t)
	events := collect(b, "trading.*")
	ctx := context.Background()

	m.handleSignal(ctx, entrySignal("strat_1", "100"))

	waitFor(t, events, model.EventOrderPlaced)
	opened := waitFor(t, events, model.EventPositionOpened)
	waitFor(t, events, model.EventTradeExecuted)

	pos, ok := opened.Payload["position"].(model.Position)
	require.True(t, ok)
	require.Equal(t, model.PositionStatusOpen, pos.Status)
	require.Equal(t, model.SideLong, pos.Side)
	require.True(t, pos.EntryPrice.Equal(d("19.98")))
	require.True(t, pos.Size.Equal(d("100")))
	require.NotNil(t, pos.StopLoss)
	require.True(t, pos.StopLoss.Equal(d("18.981")), "default stop 5%% below entry, got %s", pos.StopLoss)

	live := m.Positions("SOL-USDC")
	require.Len(t, live, 1)

	require.Equal(t, 1, fv.quoteCalls)
	require.Equal(t, 1, fv.swapCalls)

	now := time.Now().UTC()
	trades, err := store.Trades(ctx, statestore.HistoryQuery{
		Symbol: "SOL-USDC", From: now.Add(-time.Minute), To: now.Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, trades[0].Price.Equal(d("19.98")))
}

func TestSecondEntryRejectedOverPositionLimit(t *testing.T) {
	m, fv, b, _ := setupManager(t)
	events := collect(b, "trading.*")
	ctx := context.Background()

	m.handleSignal(ctx, entrySignal("strat_1", "100"))
	waitFor(t, events, model.EventPositionOpened)

	sig := entrySignal("strat_2", "100")
	sig.ID = "sig_test2"
	m.handleSignal(ctx, sig)

	failed := waitFor(t, events, model.EventTradeFailed)
	require.Equal(t, "sig_test2", failed.Payload["signal_id"])
	require.Contains(t, failed.Payload["reason"], "max positions")

	require.Len(t, m.Positions("SOL-USDC"), 1)
	require.Equal(t, 1, fv.quoteCalls, "rejected signal must not reach the venue")
}

func TestEntryRejectedBelowMinimumSize(t *testing.T) {
	m, fv, b, _ := setupManager(t)
	events := collect(b, "trading.*")

	m.handleSignal(context.Background(), entrySignal("strat_1", "5"))

	failed := waitFor(t, events, model.EventTradeFailed)
	require.Contains(t, failed.Payload["reason"], "min")
	require.Empty(t, m.Positions(""))
	require.Equal(t, 0, fv.quoteCalls)
}

func TestEntryRejectedWhenReserveBreached(t *testing.T) {
	m, fv, b, _ := setupManager(t)
	events := collect(b, "trading.*")

	// 500 * 19.98 = 9990 notional leaves less than the 10% reserve of the
	// 10000 account.
	m.handleSignal(context.Background(), entrySignal("strat_1", "500"))

	failed := waitFor(t, events, model.EventTradeFailed)
	require.Contains(t, failed.Payload["reason"], "reserve")
	require.Empty(t, m.Positions(""))
	require.Equal(t, 0, fv.quoteCalls)
}

func TestEntryRejectedOnPriceImpact(t *testing.T) {
	m, fv, b, _ := setupManager(t)
	events := collect(b, "trading.*")
	fv.set(func(f *fakeVenue) { f.impact = d("0.05") })

	m.handleSignal(context.Background(), entrySignal("strat_1", "100"))

	failed := waitFor(t, events, model.EventTradeFailed)
	require.Contains(t, failed.Payload["reason"], "impact")
	require.Empty(t, m.Positions(""))
	require.Equal(t, 0, fv.swapCalls, "impact rejection must happen before execution")
}

func TestEntryVenueFailureClosesPendingPosition(t *testing.T) {
	m, fv, b, store := setupManager(t)
	events := collect(b, "trading.*")
	fv.set(func(f *fakeVenue) { f.swapErr = venue.ErrTransactionFailed })

	m.handleSignal(context.Background(), entrySignal("strat_1", "100"))

	waitFor(t, events, model.EventTradeFailed)
	require.Empty(t, m.Positions(""))

	closed, err := store.Positions(context.Background(), "SOL-USDC", model.PositionStatusClosed)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	require.Nil(t, closed[0].OpenedAt, "position never opened at the venue")
}

func TestStopLossTriggersExitAndRealizesLoss(t *testing.T) {
	m, fv, b, store := setupManager(t)
	events := collect(b, "trading.*")
	ctx := context.Background()

	m.handleSignal(ctx, entrySignal("strat_1", "100"))
	waitFor(t, events, model.EventPositionOpened)

	// Price falls through the 18.981 default stop; the exit fills at 18.98.
	fv.set(func(f *fakeVenue) { f.price = d("18.98") })
	m.markToMarket(ctx, model.Tick{
		Symbol:    "SOL-USDC",
		Price:     d("18.98"),
		Size:      d("1"),
		Timestamp: time.Now(),
	})

	closedEvt := waitFor(t, events, model.EventPositionClosed)
	pos, ok := closedEvt.Payload["position"].(model.Position)
	require.True(t, ok)
	require.Equal(t, model.PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.ExitPrice)
	require.True(t, pos.ExitPrice.Equal(d("18.98")))
	// (18.98 - 19.98) * 100 minus the 0.1 fee.
	require.True(t, pos.RealizedPnl.Equal(d("-100.1")), "realized %s", pos.RealizedPnl)

	require.Empty(t, m.Positions(""))

	closed, err := store.Positions(ctx, "SOL-USDC", model.PositionStatusClosed)
	require.NoError(t, err)
	require.Len(t, closed, 1)
}

func TestTrailingStopRatchetsAndTriggers(t *testing.T) {
	m, fv, b, _ := setupManager(t)
	events := collect(b, "trading.*")
	ctx := context.Background()

	sig := entrySignal("strat_1", "100")
	trail := d("0.02")
	sig.TrailingBy = &trail
	m.handleSignal(ctx, sig)
	waitFor(t, events, model.EventPositionOpened)

	// Rally to 21: the watermark ratchets and the trailing trigger follows.
	m.markToMarket(ctx, model.Tick{Symbol: "SOL-USDC", Price: d("21"), Size: d("1"), Timestamp: time.Now()})
	updated := waitFor(t, events, model.EventPositionUpdated)
	upos := updated.Payload["position"].(model.Position)
	require.NotNil(t, upos.Watermark)
	require.True(t, upos.Watermark.Equal(d("21")))

	// Pullback through 21*0.98 = 20.58 stops the position out in profit.
	fv.set(func(f *fakeVenue) { f.price = d("20.5") })
	m.markToMarket(ctx, model.Tick{Symbol: "SOL-USDC", Price: d("20.5"), Size: d("1"), Timestamp: time.Now()})

	closedEvt := waitFor(t, events, model.EventPositionClosed)
	pos := closedEvt.Payload["position"].(model.Position)
	// (20.5 - 19.98) * 100 minus the 0.1 fee.
	require.True(t, pos.RealizedPnl.Equal(d("51.9")), "realized %s", pos.RealizedPnl)
}

func TestConcurrentEntryBurstRespectsPositionLimit(t *testing.T) {
	m, fv, b, _ := setupManager(t)
	events := collect(b, "trading.*")

	const burst = 8
	var wg sync.WaitGroup
	for i := 0; i < burst; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig := entrySignal(fmt.Sprintf("strat_%d", i), "10")
			sig.ID = fmt.Sprintf("sig_burst%d", i)
			_ = m.onSignal(context.Background(), model.Event{
				Type:    model.EventStrategySignal,
				Payload: map[string]any{"signal": sig},
			})
		}()
	}
	wg.Wait()

	opened, failed := 0, 0
	deadline := time.After(5 * time.Second)
	for opened+failed < burst {
		select {
		case evt := <-events:
			switch evt.Type {
			case model.EventPositionOpened:
				opened++
			case model.EventTradeFailed:
				failed++
			}
		case <-deadline:
			t.Fatalf("saw %d opened and %d failed of %d signals", opened, failed, burst)
		}
	}

	require.Equal(t, 1, opened)
	require.Equal(t, burst-1, failed)
	require.Len(t, m.Positions("SOL-USDC"), 1)
	require.Equal(t, 1, fv.swapCalls, "only one signal may reach execution")
}

func TestSnapshotReadersDuringMarkToMarket(t *testing.T) {
	m, _, b, _ := setupManager(t)
	events := collect(b, "trading.*")
	ctx := context.Background()

	m.handleSignal(ctx, entrySignal("strat_1", "100"))
	waitFor(t, events, model.EventPositionOpened)

	// Revaluation on one goroutine, snapshot reads on another. Prices stay
	// above the stop so no exit fires.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			price := d("20").Add(decimal.NewFromInt(int64(i % 5)).Div(d("10")))
			m.markToMarket(ctx, model.Tick{
				Symbol: "SOL-USDC", Price: price, Size: d("1"), Timestamp: time.Now(),
			})
		}
	}()
	for i := 0; i < 200; i++ {
		_ = m.Summarize()
		_ = m.Positions("SOL-USDC")
	}
	<-done

	live := m.Positions("SOL-USDC")
	require.Len(t, live, 1)
	require.True(t, live[0].MarkPrice.IsPositive())
}

func TestStopConcurrentWithDispatch(t *testing.T) {
	m, _, _, _ := setupManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if !m.dispatch("SOL-USDC", func() {}) {
					return
				}
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx, false))
	wg.Wait()

	require.False(t, m.dispatch("SOL-USDC", func() {}), "dispatch after stop must be refused")
}

func TestExitForUnknownPositionFailsClosed(t *testing.T) {
	m, fv, b, _ := setupManager(t)
	sysErr := collect(b, model.EventSystemError)

	m.handleExit(context.Background(), model.Signal{
		ID:          "sig_ghost",
		Symbol:      "SOL-USDC",
		StrategyID:  "strat_1",
		Direction:   model.SignalExit,
		PositionID:  "pos_missing",
		GeneratedAt: time.Now(),
	})

	evt := waitFor(t, sysErr, model.EventSystemError)
	require.Contains(t, evt.Payload["reason"], "unknown position")
	require.Equal(t, 0, fv.quoteCalls)
}

func TestExitVenueFailureReopensPosition(t *testing.T) {
	m, fv, b, _ := setupManager(t)
	events := collect(b, "trading.*")
	ctx := context.Background()

	m.handleSignal(ctx, entrySignal("strat_1", "100"))
	waitFor(t, events, model.EventPositionOpened)

	fv.set(func(f *fakeVenue) { f.swapErr = venue.ErrTimeout })
	m.handleSignal(ctx, model.Signal{
		ID:          "sig_exit",
		Symbol:      "SOL-USDC",
		StrategyID:  "strat_1",
		Direction:   model.SignalExit,
		GeneratedAt: time.Now(),
	})

	waitFor(t, events, model.EventTradeFailed)
	live := m.Positions("SOL-USDC")
	require.Len(t, live, 1)
	require.Equal(t, model.PositionStatusOpen, live[0].Status, "failed exit leaves the position open for retry")
}

func TestAdjustStopUpdatesOpenPosition(t *testing.T) {
	m, _, b, _ := setupManager(t)
	events := collect(b, "trading.*")
	ctx := context.Background()

	m.handleSignal(ctx, entrySignal("strat_1", "100"))
	waitFor(t, events, model.EventPositionOpened)

	newStop := d("19.5")
	m.handleSignal(ctx, model.Signal{
		ID:          "sig_adj",
		Symbol:      "SOL-USDC",
		StrategyID:  "strat_1",
		Direction:   model.SignalAdjustStop,
		StopLoss:    &newStop,
		GeneratedAt: time.Now(),
	})

	updated := waitFor(t, events, model.EventPositionUpdated)
	require.Equal(t, "stop_adjusted", updated.Payload["change"])
	pos := updated.Payload["position"].(model.Position)
	require.True(t, pos.StopLoss.Equal(d("19.5")))
}

func TestExpiredSignalRejected(t *testing.T) {
	m, fv, b, _ := setupManager(t)
	events := collect(b, "trading.*")

	sig := entrySignal("strat_1", "100")
	expired := time.Now().Add(-time.Minute)
	sig.ExpiresAt = &expired
	m.handleSignal(context.Background(), sig)

	failed := waitFor(t, events, model.EventTradeFailed)
	require.Contains(t, failed.Payload["reason"], "expired")
	require.Equal(t, 0, fv.quoteCalls)
}

func TestVenueConfirmationIdempotentOnTerminalOrder(t *testing.T) {
	m, _, _, store := setupManager(t)
	ctx := context.Background()

	pos := &model.Position{
		ID:     "pos_dup",
		Symbol: "SOL-USDC",
		Side:   model.SideLong,
		Status: model.PositionStatusPending,
		Size:   d("100"),
	}
	m.track(pos)
	order := m.newOrder(pos, model.SideLong, model.OrderDirectionEntry, d("100"), d("19.98"))
	sig := entrySignal("strat_1", "100")
	res := &venue.SwapResult{VenueOrderID: "v1", ConfirmedPrice: d("19.98"), FilledSize: d("100"), Fee: d("0.1")}

	m.confirmEntry(ctx, pos, order, sig, res, nil)
	require.Equal(t, model.PositionStatusOpen, pos.Status)

	// A late duplicate confirmation must not touch the books again.
	m.confirmEntry(ctx, pos, order, sig, res, nil)

	now := time.Now().UTC()
	trades, err := store.Trades(ctx, statestore.HistoryQuery{
		Symbol: "SOL-USDC", From: now.Add(-time.Minute), To: now.Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestCloseAllClosesOpenPositions(t *testing.T) {
	m, _, b, _ := setupManager(t)
	events := collect(b, "trading.*")
	ctx := context.Background()

	m.handleSignal(ctx, entrySignal("strat_1", "100"))
	waitFor(t, events, model.EventPositionOpened)

	m.CloseAll(ctx, "shutdown")
	waitFor(t, events, model.EventPositionClosed)
	require.Empty(t, m.Positions(""))
}

func TestRecoverLivePositionsOnStart(t *testing.T) {
	m, _, _, store := setupManager(t)
	ctx := context.Background()

	require.NoError(t, store.SavePosition(ctx, model.Position{
		ID: "pos_prev", Symbol: "SOL-USDC", Side: model.SideLong,
		Status: model.PositionStatusOpen, Size: d("50"), EntryPrice: d("20"),
	}))

	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Stop(ctx, false)
	})

	live := m.Positions("SOL-USDC")
	require.Len(t, live, 1)
	require.Equal(t, "pos_prev", live[0].ID)
}
