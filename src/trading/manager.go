package trading

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradingcore/src/bus"
	"tradingcore/src/model"
	"tradingcore/src/risk"
	"tradingcore/src/statestore"
	"tradingcore/src/venue"
)

var ErrManagerStopped = fmt.Errorf("order manager is stopped")

// Manager is the order and position manager. All mutations of a symbol's
// positions run on that symbol's worker goroutine, one at a time; handlers
// only ever enqueue work. Nothing outside this package writes positions or
// orders.
type Manager struct {
	cfg    Config
	limits risk.Limits
	bus    *bus.Bus
	store  statestore.Store
	venue  venue.Client
	log    *logger.Entry

	mu        sync.Mutex
	positions map[string]*model.Position
	workers   map[string]chan func()
	subs      []*bus.Subscription
	stopped   bool

	// dispatching counts in-flight worker enqueues; Stop waits for it before
	// closing the worker channels.
	dispatching sync.WaitGroup

	wg sync.WaitGroup
}

func NewManager(cfg Config, limits risk.Limits, b *bus.Bus, store statestore.Store, v venue.Client) *Manager {
	return &Manager{
		cfg:       cfg,
		limits:    limits,
		bus:       b,
		store:     store,
		venue:     v,
		log:       logger.WithField("component", "order_manager"),
		positions: map[string]*model.Position{},
		workers:   map[string]chan func(){},
	}
}

// Start recovers live positions from storage and subscribes to signals and
// price ticks.
func (m *Manager) Start(ctx context.Context) error {
	live, err := m.store.Positions(ctx, "",
		model.PositionStatusPending, model.PositionStatusOpen, model.PositionStatusClosing)
	if err != nil {
		return fmt.Errorf("recover positions: %w", err)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrManagerStopped
	}
	for i := range live {
		p := live[i]
		m.positions[p.ID] = &p
	}
	m.subs = append(m.subs,
		m.bus.Subscribe(model.EventStrategySignal, m.onSignal),
		m.bus.Subscribe(model.EventMarketTrade, m.onPriceTick),
	)
	m.mu.Unlock()

	m.log.WithField("recovered", len(live)).Info("order manager started")
	return nil
}

// Stop unsubscribes, drains every worker and, when closePositions is set,
// closes all open positions at the venue first.
func (m *Manager) Stop(ctx context.Context, closePositions bool) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, sub := range subs {
		m.bus.Unsubscribe(sub)
	}

	if closePositions {
		m.CloseAll(ctx, "shutdown")
	}

	m.mu.Lock()
	m.stopped = true
	workers := m.workers
	m.workers = map[string]chan func(){}
	m.mu.Unlock()

	// Enqueues that won the race against the stopped flag must land before
	// the channels close.
	m.dispatching.Wait()
	for _, q := range workers {
		close(q)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.log.Info("order manager stopped")
	return nil
}

// CloseAll requests an exit for every open position and waits for the
// workers to process them.
func (m *Manager) CloseAll(ctx context.Context, reason string) {
	m.mu.Lock()
	targets := make([]*model.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.Status == model.PositionStatusOpen {
			targets = append(targets, p)
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range targets {
		p := p
		wg.Add(1)
		ok := m.dispatch(p.Symbol, func() {
			defer wg.Done()
			m.log.WithFields(logger.Fields{"position": p.ID, "reason": reason}).
				Info("forced close")
			m.handleExit(ctx, model.Signal{
				ID:          "sig_" + shortID(),
				Symbol:      p.Symbol,
				StrategyID:  p.StrategyID,
				Direction:   model.SignalExit,
				PositionID:  p.ID,
				Price:       p.MarkPrice,
				GeneratedAt: time.Now(),
			})
		})
		if !ok {
			wg.Done()
		}
	}
	wg.Wait()
}

// Positions returns a snapshot of the live positions, optionally filtered by
// symbol.
func (m *Manager) Positions(symbol string) []model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// Summary aggregates live exposure for status reporting.
type Summary struct {
	OpenPositions int             `json:"open_positions"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	Symbols       []string        `json:"symbols"`
}

func (m *Manager) Summarize() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Summary{}
	seen := map[string]bool{}
	for _, p := range m.positions {
		if p.Status != model.PositionStatusOpen && p.Status != model.PositionStatusClosing {
			continue
		}
		s.OpenPositions++
		s.UnrealizedPnl = s.UnrealizedPnl.Add(p.UnrealizedPnl)
		s.RealizedPnl = s.RealizedPnl.Add(p.RealizedPnl)
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			s.Symbols = append(s.Symbols, p.Symbol)
		}
	}
	return s
}

// dispatch enqueues fn on the symbol's worker, creating the worker on first
// use. Returns false when the manager is stopped.
func (m *Manager) dispatch(symbol string, fn func()) bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	m.dispatching.Add(1)
	q, ok := m.workers[symbol]
	if !ok {
		q = make(chan func(), m.cfg.WorkerQueueSize)
		m.workers[symbol] = q
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for fn := range q {
				fn()
			}
		}()
	}
	m.mu.Unlock()

	defer m.dispatching.Done()
	q <- fn
	return true
}

func (m *Manager) onSignal(ctx context.Context, evt model.Event) error {
	sig, ok := evt.Payload["signal"].(model.Signal)
	if !ok {
		m.log.WithField("event", evt.ID).Warn("signal event without signal payload")
		return nil
	}
	m.dispatch(sig.Symbol, func() {
		m.handleSignal(context.Background(), sig)
	})
	return nil
}

func (m *Manager) onPriceTick(ctx context.Context, evt model.Event) error {
	tick, ok := evt.Payload["tick"].(model.Tick)
	if !ok {
		return nil
	}
	m.dispatch(tick.Symbol, func() {
		m.markToMarket(context.Background(), tick)
	})
	return nil
}

func (m *Manager) handleSignal(ctx context.Context, sig model.Signal) {
	if sig.Expired(time.Now()) {
		m.rejectSignal(ctx, sig, "signal expired")
		return
	}
	switch sig.Direction {
	case model.SignalEnterLong, model.SignalEnterShort:
		m.handleEntry(ctx, sig)
	case model.SignalExit:
		m.handleExit(ctx, sig)
	case model.SignalAdjustStop:
		m.handleAdjustStop(ctx, sig)
	default:
		m.rejectSignal(ctx, sig, fmt.Sprintf("unknown direction %q", sig.Direction))
	}
}

func (m *Manager) handleEntry(ctx context.Context, sig model.Signal) {
	side := model.SideLong
	if sig.Direction == model.SignalEnterShort {
		side = model.SideShort
	}

	if err := m.limits.CheckPositionCount(m.liveCount(sig.Symbol)); err != nil {
		m.rejectSignal(ctx, sig, err.Error())
		return
	}

	stopPct := m.stopPercent(sig)
	size, err := m.limits.SizePosition(sig.Size, sig.Price, m.cfg.AccountSizeDecimal(), stopPct)
	if err != nil {
		m.rejectSignal(ctx, sig, err.Error())
		return
	}
	if err := m.limits.CheckReserve(m.cfg.AccountSizeDecimal(), m.committedNotional(), size.Mul(sig.Price)); err != nil {
		m.rejectSignal(ctx, sig, err.Error())
		return
	}

	now := time.Now()
	pos := &model.Position{
		ID:         "pos_" + shortID(),
		Symbol:     sig.Symbol,
		StrategyID: sig.StrategyID,
		Side:       side,
		Status:     model.PositionStatusPending,
		Size:       size,
		EntryPrice: sig.Price,
		MarkPrice:  sig.Price,
		TrailingBy: sig.TrailingBy,
		CreatedAt:  now,
	}
	if err := m.store.SavePosition(ctx, *pos); err != nil {
		m.rejectSignal(ctx, sig, fmt.Sprintf("persist position: %v", err))
		return
	}
	m.track(pos)

	quote, err := m.entryQuote(ctx, sig.Symbol, side, size, sig.Price)
	if err != nil {
		m.abandonPending(ctx, pos, sig, fmt.Sprintf("quote: %v", err))
		return
	}
	if err := m.limits.CheckPriceImpact(quote.PriceImpact); err != nil {
		m.abandonPending(ctx, pos, sig, err.Error())
		return
	}

	order := m.newOrder(pos, side, model.OrderDirectionEntry, size, sig.Price)
	if err := m.submit(ctx, order, quote); err != nil {
		m.abandonPending(ctx, pos, sig, fmt.Sprintf("submit: %v", err))
		return
	}

	res, execErr := m.execute(ctx, quote)
	m.confirmEntry(ctx, pos, order, sig, res, execErr)
}

func (m *Manager) handleExit(ctx context.Context, sig model.Signal) {
	pos := m.findTarget(sig)
	if pos == nil {
		// A signal for a position we do not hold is a state inconsistency
		// between the strategy layer and the books. Fail closed.
		m.log.WithFields(logger.Fields{
			"signal":      sig.ID,
			"symbol":      sig.Symbol,
			"strategy_id": sig.StrategyID,
			"position_id": sig.PositionID,
		}).Error("exit signal for unknown position")
		m.publish(ctx, model.EventSystemError, map[string]any{
			"source":    "order_manager",
			"signal_id": sig.ID,
			"symbol":    sig.Symbol,
			"reason":    "exit signal for unknown position",
		})
		return
	}
	if pos.Status != model.PositionStatusOpen {
		// Stop trigger and strategy exit can race; whichever reached the
		// worker first wins and the loser is a no-op.
		m.log.WithFields(logger.Fields{
			"position": pos.ID,
			"status":   pos.Status,
			"signal":   sig.ID,
		}).Info("exit skipped, position not open")
		return
	}

	snap := m.mutate(pos, func(p *model.Position) { p.Status = model.PositionStatusClosing })
	if err := m.store.SavePosition(ctx, snap); err != nil {
		m.mutate(pos, func(p *model.Position) { p.Status = model.PositionStatusOpen })
		m.rejectSignal(ctx, sig, fmt.Sprintf("persist closing: %v", err))
		return
	}

	price := sig.Price
	if price.IsZero() {
		price = pos.MarkPrice
	}
	quote, err := m.exitQuote(ctx, pos, price)
	if err != nil {
		m.reopenAfterFailedExit(ctx, pos, sig, fmt.Sprintf("quote: %v", err))
		return
	}

	order := m.newOrder(pos, pos.Side, model.OrderDirectionExit, pos.Size, price)
	if err := m.submit(ctx, order, quote); err != nil {
		m.reopenAfterFailedExit(ctx, pos, sig, fmt.Sprintf("submit: %v", err))
		return
	}

	res, execErr := m.execute(ctx, quote)
	m.confirmExit(ctx, pos, order, sig, res, execErr)
}

func (m *Manager) handleAdjustStop(ctx context.Context, sig model.Signal) {
	pos := m.findTarget(sig)
	if pos == nil || pos.Status != model.PositionStatusOpen {
		m.rejectSignal(ctx, sig, "no open position to adjust")
		return
	}
	snap := m.mutate(pos, func(p *model.Position) {
		if sig.StopLoss != nil {
			p.StopLoss = sig.StopLoss
		}
		if sig.TrailingBy != nil {
			p.TrailingBy = sig.TrailingBy
			if p.Watermark == nil {
				w := p.MarkPrice
				p.Watermark = &w
			}
		}
	})
	if err := m.store.SavePosition(ctx, snap); err != nil {
		m.log.WithError(err).WithField("position", pos.ID).Error("persist stop adjustment")
		return
	}
	m.publish(ctx, model.EventPositionUpdated, map[string]any{
		"position":    snap,
		"position_id": snap.ID,
		"symbol":      snap.Symbol,
		"change":      "stop_adjusted",
	})
}

// markToMarket revalues the symbol's open positions on a tick and triggers
// stops. Runs on the symbol worker, so a triggered exit executes before the
// next tick is processed.
func (m *Manager) markToMarket(ctx context.Context, tick model.Tick) {
	var triggered []model.Position
	var advanced []model.Position

	m.mu.Lock()
	for _, pos := range m.positions {
		if pos.Symbol != tick.Symbol || pos.Status != model.PositionStatusOpen {
			continue
		}
		pos.MarkPrice = tick.Price
		pos.UnrealizedPnl = pnlFor(pos.Side, pos.EntryPrice, tick.Price, pos.Size)
		moved := advanceWatermark(pos, tick.Price)

		if stopCrossed(pos, tick.Price) {
			triggered = append(triggered, *pos)
			continue
		}
		if moved {
			advanced = append(advanced, *pos)
		}
	}
	m.mu.Unlock()

	for i := range advanced {
		snap := advanced[i]
		if err := m.store.SavePosition(ctx, snap); err != nil {
			m.log.WithError(err).WithField("position", snap.ID).Warn("persist watermark")
		}
		m.publish(ctx, model.EventPositionUpdated, map[string]any{
			"position":    snap,
			"position_id": snap.ID,
			"symbol":      snap.Symbol,
			"change":      "watermark_advanced",
		})
	}

	for _, pos := range triggered {
		m.log.WithFields(logger.Fields{
			"position": pos.ID,
			"symbol":   pos.Symbol,
			"price":    tick.Price.String(),
			"stop":     effectiveStop(&pos).String(),
		}).Warn("stop triggered")
		m.handleExit(ctx, model.Signal{
			ID:          "sig_" + shortID(),
			Symbol:      pos.Symbol,
			StrategyID:  pos.StrategyID,
			Direction:   model.SignalExit,
			PositionID:  pos.ID,
			Price:       tick.Price,
			GeneratedAt: time.Now(),
		})
	}
}

func (m *Manager) confirmEntry(ctx context.Context, pos *model.Position, order *model.Order, sig model.Signal, res *venue.SwapResult, execErr error) {
	if order.Terminal() {
		m.log.WithField("order", order.ID).Warn("duplicate venue confirmation ignored")
		return
	}
	now := time.Now()

	if execErr != nil {
		order.Status = model.OrderStatusFailed
		order.Error = execErr.Error()
		order.UpdatedAt = now
		m.saveOrder(ctx, order)

		snap := m.mutate(pos, func(p *model.Position) {
			p.Status = model.PositionStatusClosed
			p.ClosedAt = &now
		})
		m.untrack(pos.ID)
		m.savePosition(ctx, &snap)

		m.log.WithError(execErr).WithFields(logger.Fields{
			"order": order.ID, "position": pos.ID,
		}).Error("entry execution failed")
		m.publish(ctx, model.EventTradeFailed, map[string]any{
			"order_id":    order.ID,
			"position_id": pos.ID,
			"signal_id":   sig.ID,
			"symbol":      pos.Symbol,
			"reason":      execErr.Error(),
		})
		return
	}

	order.Status = model.OrderStatusConfirmed
	order.FilledPrice = &res.ConfirmedPrice
	order.FilledSize = &res.FilledSize
	order.Fee = res.Fee
	order.FilledAt = &now
	order.UpdatedAt = now
	if order.VenueResponse == nil {
		order.VenueResponse = map[string]any{}
	}
	order.VenueResponse["venue_order_id"] = res.VenueOrderID
	m.saveOrder(ctx, order)

	snap := m.mutate(pos, func(p *model.Position) {
		p.Status = model.PositionStatusOpen
		p.EntryPrice = res.ConfirmedPrice
		p.Size = res.FilledSize
		p.MarkPrice = res.ConfirmedPrice
		p.OpenedAt = &now
		if sig.StopLoss != nil {
			p.StopLoss = sig.StopLoss
		} else {
			sl := m.limits.StopLossFor(p.Side, res.ConfirmedPrice, m.stopPercent(sig))
			p.StopLoss = &sl
		}
		if p.TrailingBy != nil {
			w := res.ConfirmedPrice
			p.Watermark = &w
		}
	})
	m.savePosition(ctx, &snap)

	m.recordTrade(ctx, order, res, now)

	m.log.WithFields(logger.Fields{
		"position": snap.ID,
		"symbol":   snap.Symbol,
		"side":     snap.Side,
		"size":     snap.Size.String(),
		"entry":    snap.EntryPrice.String(),
	}).Info("position opened")
	m.publish(ctx, model.EventPositionOpened, map[string]any{
		"position":    snap,
		"position_id": snap.ID,
		"symbol":      snap.Symbol,
		"side":        snap.Side,
		"signal_id":   sig.ID,
	})
	m.publish(ctx, model.EventTradeExecuted, map[string]any{
		"order_id":    order.ID,
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"price":       res.ConfirmedPrice.String(),
		"size":        res.FilledSize.String(),
	})
}

func (m *Manager) confirmExit(ctx context.Context, pos *model.Position, order *model.Order, sig model.Signal, res *venue.SwapResult, execErr error) {
	if order.Terminal() {
		m.log.WithField("order", order.ID).Warn("duplicate venue confirmation ignored")
		return
	}
	now := time.Now()

	if execErr != nil {
		order.Status = model.OrderStatusFailed
		order.Error = execErr.Error()
		order.UpdatedAt = now
		m.saveOrder(ctx, order)
		m.reopenAfterFailedExit(ctx, pos, sig, execErr.Error())
		return
	}

	order.Status = model.OrderStatusConfirmed
	order.FilledPrice = &res.ConfirmedPrice
	order.FilledSize = &res.FilledSize
	order.Fee = res.Fee
	order.FilledAt = &now
	order.UpdatedAt = now
	if order.VenueResponse == nil {
		order.VenueResponse = map[string]any{}
	}
	order.VenueResponse["venue_order_id"] = res.VenueOrderID
	m.saveOrder(ctx, order)

	realized := pnlFor(pos.Side, pos.EntryPrice, res.ConfirmedPrice, pos.Size).Sub(res.Fee)
	snap := m.mutate(pos, func(p *model.Position) {
		p.Status = model.PositionStatusClosed
		p.ExitPrice = &res.ConfirmedPrice
		p.MarkPrice = res.ConfirmedPrice
		p.RealizedPnl = realized
		p.UnrealizedPnl = decimal.Zero
		p.ClosedAt = &now
	})
	m.untrack(pos.ID)
	m.savePosition(ctx, &snap)

	m.recordTrade(ctx, order, res, now)

	m.log.WithFields(logger.Fields{
		"position": snap.ID,
		"symbol":   snap.Symbol,
		"exit":     res.ConfirmedPrice.String(),
		"realized": realized.String(),
	}).Info("position closed")
	m.publish(ctx, model.EventPositionClosed, map[string]any{
		"position":     snap,
		"position_id":  snap.ID,
		"symbol":       snap.Symbol,
		"realized_pnl": realized.String(),
		"signal_id":    sig.ID,
	})
	m.publish(ctx, model.EventTradeExecuted, map[string]any{
		"order_id":    order.ID,
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"price":       res.ConfirmedPrice.String(),
		"size":        res.FilledSize.String(),
	})
}

// submit persists the order, moves it to submitted and announces it. The
// quote is attached so the venue response can be audited against it.
func (m *Manager) submit(ctx context.Context, order *model.Order, quote *venue.Quote) error {
	if err := m.store.SaveOrder(ctx, *order); err != nil {
		return err
	}
	now := time.Now()
	order.Status = model.OrderStatusSubmitted
	order.SubmittedAt = &now
	order.UpdatedAt = now
	order.VenueResponse = map[string]any{"quote": quote.Raw}
	if err := m.store.SaveOrder(ctx, *order); err != nil {
		return err
	}
	m.publish(ctx, model.EventOrderPlaced, map[string]any{
		"order_id":    order.ID,
		"position_id": order.PositionID,
		"symbol":      order.Symbol,
		"side":        order.Side,
		"order_dir":   order.OrderDir,
		"size":        order.Size.String(),
	})
	return nil
}

func (m *Manager) execute(ctx context.Context, quote *venue.Quote) (*venue.SwapResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, m.cfg.ExecutionTimeout)
	defer cancel()
	res, err := m.venue.ExecuteSwap(execCtx, quote)
	if err != nil {
		if execCtx.Err() != nil {
			return nil, venue.ErrTimeout
		}
		return nil, err
	}
	return res, nil
}

// entryQuote prices the swap that opens exposure: for longs the quote asset
// buys the base, for shorts the base is sold for the quote asset.
func (m *Manager) entryQuote(ctx context.Context, symbol, side string, size, price decimal.Decimal) (*venue.Quote, error) {
	base, quoteAsset := m.assets(symbol)
	if side == model.SideLong {
		return m.venue.GetQuote(ctx, quoteAsset, base, size.Mul(price))
	}
	return m.venue.GetQuote(ctx, base, quoteAsset, size)
}

func (m *Manager) exitQuote(ctx context.Context, pos *model.Position, price decimal.Decimal) (*venue.Quote, error) {
	base, quoteAsset := m.assets(pos.Symbol)
	if pos.Side == model.SideLong {
		return m.venue.GetQuote(ctx, base, quoteAsset, pos.Size)
	}
	return m.venue.GetQuote(ctx, quoteAsset, base, pos.Size.Mul(price))
}

func (m *Manager) assets(symbol string) (base, quote string) {
	if b, q, ok := strings.Cut(symbol, "-"); ok {
		return b, q
	}
	return symbol, m.cfg.QuoteAsset
}

func (m *Manager) newOrder(pos *model.Position, side, dir string, size, price decimal.Decimal) *model.Order {
	return &model.Order{
		ID:            "ord_" + shortID(),
		PositionID:    pos.ID,
		Symbol:        pos.Symbol,
		Side:          side,
		OrderDir:      dir,
		Status:        model.OrderStatusCreated,
		Size:          size,
		ExpectedPrice: price,
		CreatedAt:     time.Now(),
	}
}

func (m *Manager) recordTrade(ctx context.Context, order *model.Order, res *venue.SwapResult, at time.Time) {
	trade := model.Trade{
		ID:         "trade_" + shortID(),
		OrderID:    order.ID,
		PositionID: order.PositionID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Size:       res.FilledSize,
		Price:      res.ConfirmedPrice,
		Fee:        res.Fee,
		Timestamp:  at,
	}
	if err := m.store.AppendTrade(ctx, trade); err != nil {
		m.log.WithError(err).WithField("trade", trade.ID).Error("persist trade")
	}
}

// abandonPending closes a position whose entry never reached the venue.
func (m *Manager) abandonPending(ctx context.Context, pos *model.Position, sig model.Signal, reason string) {
	now := time.Now()
	snap := m.mutate(pos, func(p *model.Position) {
		p.Status = model.PositionStatusClosed
		p.ClosedAt = &now
	})
	m.untrack(pos.ID)
	m.savePosition(ctx, &snap)
	m.rejectSignal(ctx, sig, reason)
}

// reopenAfterFailedExit puts a closing position back to open so stops and
// future exit signals can try again.
func (m *Manager) reopenAfterFailedExit(ctx context.Context, pos *model.Position, sig model.Signal, reason string) {
	snap := m.mutate(pos, func(p *model.Position) { p.Status = model.PositionStatusOpen })
	m.savePosition(ctx, &snap)
	m.log.WithFields(logger.Fields{
		"position": pos.ID,
		"signal":   sig.ID,
		"reason":   reason,
	}).Error("exit failed, position remains open")
	m.publish(ctx, model.EventTradeFailed, map[string]any{
		"position_id": pos.ID,
		"signal_id":   sig.ID,
		"symbol":      pos.Symbol,
		"reason":      reason,
	})
}

func (m *Manager) rejectSignal(ctx context.Context, sig model.Signal, reason string) {
	m.log.WithFields(logger.Fields{
		"signal":    sig.ID,
		"symbol":    sig.Symbol,
		"direction": sig.Direction,
		"reason":    reason,
	}).Warn("signal rejected")
	m.publish(ctx, model.EventTradeFailed, map[string]any{
		"signal_id":   sig.ID,
		"strategy_id": sig.StrategyID,
		"symbol":      sig.Symbol,
		"reason":      reason,
	})
}

// stopPercent derives the stop distance as a fraction of the signal price.
// Falls back to zero, which makes the risk limits apply their default.
func (m *Manager) stopPercent(sig model.Signal) decimal.Decimal {
	if sig.StopLoss == nil || !sig.Price.IsPositive() {
		return decimal.Zero
	}
	return sig.Price.Sub(*sig.StopLoss).Abs().Div(sig.Price)
}

// committedNotional sums the entry notional of every live position across all
// symbols.
func (m *Manager) committedNotional() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, p := range m.positions {
		if p.Live() {
			total = total.Add(p.EntryPrice.Mul(p.Size))
		}
	}
	return total
}

func (m *Manager) liveCount(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.positions {
		if p.Symbol == symbol && p.Live() {
			n++
		}
	}
	return n
}

func (m *Manager) findTarget(sig model.Signal) *model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sig.PositionID != "" {
		return m.positions[sig.PositionID]
	}
	for _, p := range m.positions {
		if p.Symbol == sig.Symbol && p.StrategyID == sig.StrategyID && p.Status == model.PositionStatusOpen {
			return p
		}
	}
	return nil
}

// mutate applies fn to the position under the books lock, so concurrent
// snapshot readers never observe a half-written position. Returns a copy for
// persistence and events.
func (m *Manager) mutate(pos *model.Position, fn func(*model.Position)) model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(pos)
	return *pos
}

func (m *Manager) track(p *model.Position) {
	m.mu.Lock()
	m.positions[p.ID] = p
	m.mu.Unlock()
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	delete(m.positions, id)
	m.mu.Unlock()
}

func (m *Manager) savePosition(ctx context.Context, p *model.Position) {
	if err := m.store.SavePosition(ctx, *p); err != nil {
		m.log.WithError(err).WithField("position", p.ID).Error("persist position")
	}
}

func (m *Manager) saveOrder(ctx context.Context, o *model.Order) {
	if err := m.store.SaveOrder(ctx, *o); err != nil {
		m.log.WithError(err).WithField("order", o.ID).Error("persist order")
	}
}

func (m *Manager) publish(ctx context.Context, eventType string, payload map[string]any) {
	if err := m.bus.Publish(ctx, eventType, payload); err != nil {
		m.log.WithError(err).WithField("type", eventType).Warn("publish event")
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
