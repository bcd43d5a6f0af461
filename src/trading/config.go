package trading

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	// ExecutionTimeout bounds a single venue swap, quote included. An
	// expired swap is treated as failed and never resubmitted.
	ExecutionTimeout time.Duration `envconfig:"EXECUTION_TIMEOUT" default:"30s"`
	// AccountSize is the notional account value used for risk-factor
	// sizing when a signal does not carry an explicit size.
	AccountSize float64 `envconfig:"ACCOUNT_SIZE" default:"10000"`
	// QuoteAsset is the settlement asset for symbols without an explicit
	// quote leg.
	QuoteAsset string `envconfig:"QUOTE_ASSET" default:"USDC"`
	// WorkerQueueSize bounds each per-symbol command queue.
	WorkerQueueSize int `envconfig:"TRADING_QUEUE_SIZE" default:"256"`
}

func (c Config) AccountSizeDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.AccountSize)
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
