package ingest

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"

	"tradingcore/src/bus"
	"tradingcore/src/marketdata"
	"tradingcore/src/model"
	"tradingcore/src/statestore"
)

// Ingest polls an exchange's public trade feed and pushes ticks through the
// normalizer, producing candles, market events and latest-price state.
type Ingest struct {
	Log        *logger.Entry
	Config     *Config
	Normalizer *marketdata.Normalizer
	Bus        *bus.Bus

	exchange goex.API
	lastTid  int64
}

func (ing *Ingest) Start() error {
	ing.Config = GetConfig()
	ing.Log = logger.WithField("cmd", "ingest")

	store := statestore.NewGormStore()
	ing.Bus = bus.New(store, bus.GetConfig())

	normalizer, err := marketdata.NewNormalizer(ing.Bus, store, marketdata.GetConfig())
	if err != nil {
		return err
	}
	ing.Normalizer = normalizer
	ing.exchange = ing.newBinanceInstance()

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	ing.Log.WithFields(logger.Fields{
		"symbol": ing.Config.Symbol,
		"quote":  ing.Config.Quote,
	}).Info("ingest started")
	ing.run(ctx)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := ing.Bus.Drain(drainCtx); err != nil {
		ing.Log.WithError(err).Warn("drain bus")
	}
	ing.Bus.Close()
	return nil
}

func (*Ingest) newBinanceInstance() *binance.Binance {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return binance.NewWithConfig(apiConfig)
}

func (ing *Ingest) run(ctx context.Context) {
	ticker := time.NewTicker(ing.Config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ing.Log.Info("ingest stopping")
			return
		case <-ticker.C:
			if err := ing.poll(ctx); err != nil {
				ing.Log.WithError(err).Warn("poll trades")
			}
		}
	}
}

func (ing *Ingest) poll(ctx context.Context) error {
	pair := goex.NewCurrencyPair(
		goex.Currency{Symbol: ing.Config.Symbol},
		goex.Currency{Symbol: ing.Config.Quote},
	)
	trades, err := ing.exchange.GetTrades(pair, ing.lastTid)
	if err != nil {
		return err
	}

	symbol := ing.Config.Symbol + "-" + ing.Config.Quote
	for i := range trades {
		t := trades[i]
		if t.Tid <= ing.lastTid {
			continue
		}
		ing.lastTid = t.Tid

		tick := model.Tick{
			Symbol:    symbol,
			Price:     decimal.NewFromFloat(t.Price),
			Size:      decimal.NewFromFloat(t.Amount),
			Side:      t.Type.String(),
			Timestamp: time.UnixMilli(t.Date).UTC(),
		}
		if err := ing.Normalizer.Ingest(ctx, tick); err != nil {
			ing.Log.WithError(err).WithFields(logger.Fields{
				"symbol": symbol,
				"tid":    t.Tid,
			}).Warn("ingest tick")
		}
	}
	return nil
}
