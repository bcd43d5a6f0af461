package strategy

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
	"tradingcore/src/statestore"
)

// Instance statuses.
const (
	StatusInitializing = "initializing"
	StatusActive       = "active"
	StatusPaused       = "paused"
	StatusStopped      = "stopped"
)

var (
	ErrInstanceNotFound = fmt.Errorf("strategy instance not found")
	ErrInstanceStopped  = fmt.Errorf("strategy instance is stopped")
	ErrRuntimeStopped   = fmt.Errorf("strategy runtime is stopped")
)

// Instance is one running strategy bound to a symbol. Lifecycle transitions
// and data delivery both take mu, so a pause or a parameter swap never lands
// in the middle of processing a data item.
type Instance struct {
	ID       string
	Type     string
	Symbol   string
	Template string

	mu     sync.Mutex
	status string
	strat  Strategy
	params Params
}

func (in *Instance) Status() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

func (in *Instance) Params() Params {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := Params{}
	for k, v := range in.params {
		out[k] = v
	}
	return out
}

// Runtime hosts strategy instances, feeds them normalized market data in
// timestamp order per symbol, validates signals and republishes them.
type Runtime struct {
	cfg   Config
	bus   *bus.Bus
	store statestore.Store
	log   *logger.Entry

	mu          sync.Mutex
	instances   map[string]*Instance
	bySymbol    map[string][]*Instance
	dispatchers map[string]chan DataPoint
	lastSpread  map[string]float64
	subs        []*bus.Subscription
	stopped     bool

	wg sync.WaitGroup
}

func NewRuntime(cfg Config, b *bus.Bus, store statestore.Store) *Runtime {
	return &Runtime{
		cfg:         cfg,
		bus:         b,
		store:       store,
		log:         logger.WithField("component", "strategy_runtime"),
		instances:   map[string]*Instance{},
		bySymbol:    map[string][]*Instance{},
		dispatchers: map[string]chan DataPoint{},
		lastSpread:  map[string]float64{},
	}
}

// Start subscribes the runtime to market data. Data items arriving before
// Start are never seen; items after Stop are dropped.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.stopped {
		return ErrRuntimeStopped
	}
	// One subscription covers candles and trades: a single delivery
	// goroutine keeps the two types in publish order per symbol, which the
	// per-symbol dispatchers rely on.
	rt.subs = append(rt.subs, rt.bus.Subscribe("market.*", rt.onMarketEvent))
	rt.log.Info("strategy runtime started")
	return nil
}

// Stop unsubscribes from market data, drains every per-symbol queue and
// stops all instances. Safe to call once.
func (rt *Runtime) Stop(ctx context.Context) error {
	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		return nil
	}
	rt.stopped = true
	subs := rt.subs
	rt.subs = nil
	queues := rt.dispatchers
	rt.dispatchers = map[string]chan DataPoint{}
	rt.mu.Unlock()

	for _, sub := range subs {
		rt.bus.Unsubscribe(sub)
	}
	for _, q := range queues {
		close(q)
	}

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	rt.mu.Lock()
	ids := make([]string, 0, len(rt.instances))
	for id := range rt.instances {
		ids = append(ids, id)
	}
	rt.mu.Unlock()
	for _, id := range ids {
		if err := rt.StopInstance(ctx, id); err != nil && err != ErrInstanceStopped {
			rt.log.WithError(err).WithField("instance", id).Warn("stop instance")
		}
	}
	rt.log.Info("strategy runtime stopped")
	return nil
}

// AddInstance builds a strategy from a registered type and a parameter
// template, initializes it and activates it for its symbol.
func (rt *Runtime) AddInstance(ctx context.Context, typeTag, symbol, template string, overrides Params) (*Instance, error) {
	params, err := TemplateParams(typeTag, template, overrides)
	if err != nil {
		return nil, err
	}
	id := "strat_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	strat, err := New(typeTag, id, symbol, params)
	if err != nil {
		return nil, err
	}

	in := &Instance{
		ID:       id,
		Type:     typeTag,
		Symbol:   symbol,
		Template: template,
		status:   StatusInitializing,
		strat:    strat,
		params:   params,
	}
	if err := strat.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", typeTag, err)
	}

	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		return nil, ErrRuntimeStopped
	}
	in.status = StatusActive
	rt.instances[id] = in
	rt.bySymbol[symbol] = append(rt.bySymbol[symbol], in)
	rt.ensureDispatcherLocked(symbol)
	rt.mu.Unlock()

	rt.log.WithFields(logger.Fields{
		"instance": id, "type": typeTag, "symbol": symbol, "template": template,
	}).Info("strategy instance started")

	if err := rt.bus.Publish(ctx, model.EventStrategyStarted, map[string]any{
		"strategy_id": id,
		"type":        typeTag,
		"symbol":      symbol,
		"template":    template,
	}); err != nil {
		rt.log.WithError(err).Warn("publish strategy.started")
	}
	return in, nil
}

func (rt *Runtime) Instance(id string) (*Instance, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	in, ok := rt.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return in, nil
}

func (rt *Runtime) Instances() []*Instance {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]*Instance, 0, len(rt.instances))
	for _, in := range rt.instances {
		out = append(out, in)
	}
	return out
}

// Pause suspends data delivery to the instance. Queued items are skipped,
// not buffered, while paused.
func (rt *Runtime) Pause(ctx context.Context, id string) error {
	return rt.transition(ctx, id, StatusActive, StatusPaused)
}

func (rt *Runtime) Resume(ctx context.Context, id string) error {
	return rt.transition(ctx, id, StatusPaused, StatusActive)
}

func (rt *Runtime) transition(ctx context.Context, id, from, to string) error {
	in, err := rt.Instance(id)
	if err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.status == StatusStopped {
		return ErrInstanceStopped
	}
	if in.status != from {
		return fmt.Errorf("instance %s is %s, cannot move to %s", id, in.status, to)
	}
	in.status = to
	rt.log.WithFields(logger.Fields{"instance": id, "status": to}).Info("strategy instance transition")
	return nil
}

// StopInstance permanently retires the instance. It stays queryable but
// sees no further data.
func (rt *Runtime) StopInstance(ctx context.Context, id string) error {
	in, err := rt.Instance(id)
	if err != nil {
		return err
	}
	in.mu.Lock()
	if in.status == StatusStopped {
		in.mu.Unlock()
		return ErrInstanceStopped
	}
	in.status = StatusStopped
	in.mu.Unlock()

	rt.log.WithField("instance", id).Info("strategy instance stopped")
	if err := rt.bus.Publish(ctx, model.EventStrategyStopped, map[string]any{
		"strategy_id": id,
		"symbol":      in.Symbol,
	}); err != nil {
		rt.log.WithError(err).Warn("publish strategy.stopped")
	}
	return nil
}

// UpdateParams rebuilds the instance's strategy with the merged parameter
// set. The swap happens under the instance lock, so it is atomic with
// respect to data delivery; accumulated indicator state restarts from
// scratch on the new parameters.
func (rt *Runtime) UpdateParams(ctx context.Context, id string, overrides Params) error {
	in, err := rt.Instance(id)
	if err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.status == StatusStopped {
		return ErrInstanceStopped
	}
	params := in.params.Merge(overrides)
	strat, err := New(in.Type, in.ID, in.Symbol, params)
	if err != nil {
		return err
	}
	if err := strat.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize %s: %w", in.Type, err)
	}
	in.strat = strat
	in.params = params

	rt.log.WithField("instance", id).Info("strategy parameters updated")
	if err := rt.bus.Publish(ctx, model.EventStrategyUpdated, map[string]any{
		"strategy_id": id,
		"symbol":      in.Symbol,
	}); err != nil {
		rt.log.WithError(err).Warn("publish strategy.updated")
	}
	return nil
}

func (rt *Runtime) onMarketEvent(ctx context.Context, evt model.Event) error {
	dp, ok := dataPointFrom(evt)
	if !ok {
		return nil
	}

	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		return nil
	}
	if dp.Type == DataTypeCandle && dp.Candle != nil && dp.Candle.Close.IsPositive() {
		rng := dp.Candle.High.Sub(dp.Candle.Low).Div(dp.Candle.Close)
		rt.lastSpread[dp.Symbol], _ = rng.Float64()
	}
	q, ok := rt.dispatchers[dp.Symbol]
	rt.mu.Unlock()
	if !ok {
		// No instance trades this symbol.
		return nil
	}

	select {
	case q <- dp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dataPointFrom(evt model.Event) (DataPoint, bool) {
	switch evt.Type {
	case model.EventMarketCandle:
		c, ok := evt.Payload["candle"].(model.Candle)
		if !ok {
			return DataPoint{}, false
		}
		return DataPoint{Type: DataTypeCandle, Symbol: c.Symbol, Timestamp: c.EndAt, Candle: &c}, true
	case model.EventMarketTrade:
		t, ok := evt.Payload["tick"].(model.Tick)
		if !ok {
			return DataPoint{}, false
		}
		return DataPoint{Type: DataTypeTrade, Symbol: t.Symbol, Timestamp: t.Timestamp, Tick: &t}, true
	}
	return DataPoint{}, false
}

func (rt *Runtime) ensureDispatcherLocked(symbol string) {
	if _, ok := rt.dispatchers[symbol]; ok {
		return
	}
	q := make(chan DataPoint, rt.cfg.QueueSize)
	rt.dispatchers[symbol] = q
	rt.wg.Add(1)
	go rt.dispatchLoop(symbol, q)
}

// dispatchLoop feeds one symbol's instances. Every instance sees item N
// before any instance sees item N+1, which keeps signal generation ordered
// by data timestamp even with concurrent evaluation.
func (rt *Runtime) dispatchLoop(symbol string, q <-chan DataPoint) {
	defer rt.wg.Done()
	for dp := range q {
		rt.mu.Lock()
		targets := make([]*Instance, len(rt.bySymbol[symbol]))
		copy(targets, rt.bySymbol[symbol])
		rt.mu.Unlock()

		var wg sync.WaitGroup
		for _, in := range targets {
			wg.Add(1)
			go func(in *Instance) {
				defer wg.Done()
				rt.deliver(in, dp)
			}(in)
		}
		wg.Wait()
	}
}

func (rt *Runtime) deliver(in *Instance, dp DataPoint) {
	in.mu.Lock()
	if in.status != StatusActive || !requires(in.strat, dp.Type) {
		in.mu.Unlock()
		return
	}
	ctx := context.Background()
	if err := in.strat.ProcessData(ctx, dp); err != nil {
		in.mu.Unlock()
		rt.log.WithError(err).WithField("instance", in.ID).Warn("process data")
		return
	}
	sig, err := in.strat.GenerateSignal(ctx)
	in.mu.Unlock()
	if err != nil {
		rt.log.WithError(err).WithField("instance", in.ID).Warn("generate signal")
		return
	}
	if sig == nil {
		return
	}
	rt.emit(ctx, in, *sig)
}

func requires(s Strategy, dt DataType) bool {
	for _, r := range s.DataRequirements() {
		if r == dt {
			return true
		}
	}
	return false
}

// emit validates a raw signal and publishes it for the order manager.
// Rejected signals are logged and surfaced as warnings, never forwarded.
func (rt *Runtime) emit(ctx context.Context, in *Instance, sig model.Signal) {
	if reason := rt.rejectReason(in.Symbol, sig); reason != "" {
		rt.log.WithFields(logger.Fields{
			"instance": in.ID,
			"signal":   sig.ID,
			"symbol":   sig.Symbol,
			"reason":   reason,
		}).Warn("signal rejected")
		if err := rt.bus.Publish(ctx, model.EventSystemWarning, map[string]any{
			"source":      "strategy_runtime",
			"signal_id":   sig.ID,
			"strategy_id": in.ID,
			"symbol":      sig.Symbol,
			"reason":      reason,
		}); err != nil {
			rt.log.WithError(err).Warn("publish system.warning")
		}
		return
	}

	if err := rt.store.ArchiveSignal(ctx, sig); err != nil {
		rt.log.WithError(err).WithField("signal", sig.ID).Error("archive signal")
	}
	if err := rt.bus.Publish(ctx, model.EventStrategySignal, map[string]any{
		"signal":      sig,
		"signal_id":   sig.ID,
		"strategy_id": sig.StrategyID,
		"symbol":      sig.Symbol,
		"direction":   string(sig.Direction),
	}); err != nil {
		rt.log.WithError(err).WithField("signal", sig.ID).Error("publish signal")
		return
	}
	rt.log.WithFields(logger.Fields{
		"signal":    sig.ID,
		"symbol":    sig.Symbol,
		"direction": sig.Direction,
	}).Info("signal published")
}

func (rt *Runtime) rejectReason(symbol string, sig model.Signal) string {
	now := time.Now()
	if sig.Expired(now) {
		return "expired"
	}
	if age := now.Sub(sig.GeneratedAt); age > rt.cfg.SignalTimeout {
		return fmt.Sprintf("stale: generated %s ago", age.Truncate(time.Millisecond))
	}
	if rt.cfg.MinVolume > 0 && sig.Volume.LessThan(decimal.NewFromFloat(rt.cfg.MinVolume)) {
		return "volume below minimum"
	}
	rt.mu.Lock()
	spread, seen := rt.lastSpread[symbol]
	rt.mu.Unlock()
	if seen && rt.cfg.MaxSpread > 0 && spread > rt.cfg.MaxSpread {
		return "spread above maximum"
	}
	return ""
}
