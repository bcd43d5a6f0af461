package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradingcore/src/bus"
	"tradingcore/src/database"
	"tradingcore/src/marketdata"
	"tradingcore/src/model"
	"tradingcore/src/risk"
	"tradingcore/src/statestore"
	"tradingcore/src/strategy"
	"tradingcore/src/trading"
	"tradingcore/src/venue"
)

// TradingSystem is the composition root: it owns the bus, the market data
// normalizer, the strategy runtime, the order manager and the venue client,
// and sequences their startup and shutdown.
type TradingSystem struct {
	cfg Config
	log *logger.Entry

	Bus        *bus.Bus
	Store      statestore.Store
	Normalizer *marketdata.Normalizer
	Runtime    *strategy.Runtime
	Manager    *trading.Manager
	Venue      venue.Client

	mu        sync.Mutex
	startedAt time.Time
	running   bool
	loopStop  chan struct{}
	loopDone  chan struct{}
}

// New builds the full system from environment configuration. The database
// connection must be initialized before calling this.
func New(cfg Config) (*TradingSystem, error) {
	if database.MainDB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	store := statestore.NewGormStore()
	b := bus.New(store, bus.GetConfig())

	normalizer, err := marketdata.NewNormalizer(b, store, marketdata.GetConfig())
	if err != nil {
		return nil, fmt.Errorf("build normalizer: %w", err)
	}

	runtime := strategy.NewRuntime(strategy.GetConfig(), b, store)
	venueClient := venue.NewSwapClient(venue.GetConfig())
	manager := trading.NewManager(trading.GetConfig(), risk.GetLimits(), b, store, venueClient)

	return &TradingSystem{
		cfg:        cfg,
		log:        logger.WithField("component", "system"),
		Bus:        b,
		Store:      store,
		Normalizer: normalizer,
		Runtime:    runtime,
		Manager:    manager,
		Venue:      venueClient,
	}, nil
}

// Start brings the components up in dependency order: the order manager
// first so no signal can arrive without a consumer, then the strategy
// runtime, then the configured strategy instances.
func (s *TradingSystem) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("system already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.loopStop = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	if err := s.Manager.Start(ctx); err != nil {
		return fmt.Errorf("start order manager: %w", err)
	}
	if err := s.Runtime.Start(ctx); err != nil {
		return fmt.Errorf("start strategy runtime: %w", err)
	}

	for _, symbol := range s.cfg.SymbolList() {
		if _, err := s.Runtime.AddInstance(ctx, s.cfg.StrategyType, symbol, s.cfg.StrategyTemplate, nil); err != nil {
			return fmt.Errorf("start strategy for %s: %w", symbol, err)
		}
	}

	go s.maintenanceLoop()

	s.log.WithField("symbols", s.cfg.Symbols).Info("trading system started")
	s.publishStatus(ctx, "started")
	return nil
}

// Stop shuts the pipeline down back to front: stop generating signals,
// drain and close positions, flush the bus, then prune.
func (s *TradingSystem) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.loopStop)
	s.mu.Unlock()
	<-s.loopDone

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.publishStatus(ctx, "stopping")

	if err := s.Runtime.Stop(ctx); err != nil {
		s.log.WithError(err).Error("stop strategy runtime")
	}
	if err := s.Manager.Stop(ctx, s.cfg.ClosePositionsOnExit); err != nil {
		s.log.WithError(err).Error("stop order manager")
	}
	if err := s.Bus.Drain(ctx); err != nil {
		s.log.WithError(err).Warn("drain bus")
	}
	s.Bus.Close()

	s.log.Info("trading system stopped")
	return nil
}

// Status is the live snapshot served on /status and published as
// system.status events.
func (s *TradingSystem) Status() map[string]any {
	s.mu.Lock()
	running := s.running
	startedAt := s.startedAt
	s.mu.Unlock()

	status := map[string]any{
		"running":    running,
		"symbols":    s.cfg.SymbolList(),
		"strategies": len(s.Runtime.Instances()),
		"summary":    s.Manager.Summarize(),
	}
	if running {
		status["uptime"] = time.Since(startedAt).Truncate(time.Second).String()
	}
	return status
}

func (s *TradingSystem) maintenanceLoop() {
	defer close(s.loopDone)

	var statusTick, pruneTick <-chan time.Time
	if s.cfg.StatusInterval > 0 {
		t := time.NewTicker(s.cfg.StatusInterval)
		defer t.Stop()
		statusTick = t.C
	}
	if s.cfg.PruneInterval > 0 {
		t := time.NewTicker(s.cfg.PruneInterval)
		defer t.Stop()
		pruneTick = t.C
	}

	retention := statestore.GetConfig().EventRetention
	for {
		select {
		case <-s.loopStop:
			return
		case <-statusTick:
			s.publishStatus(context.Background(), "running")
		case <-pruneTick:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			pruned, err := s.Store.PruneEvents(ctx, time.Now().Add(-retention))
			cancel()
			if err != nil {
				s.log.WithError(err).Warn("prune events")
			} else if pruned > 0 {
				s.log.WithField("pruned", pruned).Info("events pruned")
			}
		}
	}
}

func (s *TradingSystem) publishStatus(ctx context.Context, state string) {
	payload := s.Status()
	payload["state"] = state
	if err := s.Bus.Publish(ctx, model.EventSystemStatus, payload); err != nil {
		s.log.WithError(err).Warn("publish system.status")
	}
}
