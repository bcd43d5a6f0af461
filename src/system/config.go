package system

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Symbols is the comma-separated list of markets to trade at startup.
	Symbols string `envconfig:"TRADING_SYMBOLS" default:""`
	// StrategyType and StrategyTemplate seed one instance per symbol.
	StrategyType     string `envconfig:"STRATEGY_TYPE" default:"ma_crossover"`
	StrategyTemplate string `envconfig:"STRATEGY_TEMPLATE" default:"conservative"`

	// ClosePositionsOnExit forces every open position closed during
	// shutdown instead of leaving exposure for the next run to recover.
	ClosePositionsOnExit bool `envconfig:"CLOSE_POSITIONS_ON_EXIT" default:"true"`

	// StatusInterval is the system.status heartbeat period; zero disables
	// the heartbeat.
	StatusInterval time.Duration `envconfig:"STATUS_INTERVAL" default:"30s"`
	// PruneInterval is how often retained events past the retention window
	// are removed.
	PruneInterval time.Duration `envconfig:"EVENT_PRUNE_INTERVAL" default:"1h"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

func (c Config) SymbolList() []string {
	if c.Symbols == "" {
		return nil
	}
	parts := strings.Split(c.Symbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
