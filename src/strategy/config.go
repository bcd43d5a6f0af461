package strategy

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SignalTimeout discards signals older than this at validation time.
	SignalTimeout time.Duration `envconfig:"SIGNAL_TIMEOUT_SECONDS" default:"60s"`
	// MinVolume is the global floor on the traded volume backing a signal;
	// strategies may set a higher per-template threshold.
	MinVolume float64 `envconfig:"MIN_VOLUME" default:"0"`
	// MaxSpread bounds the relative range of the latest candle; wider
	// markets are too thin to act on.
	MaxSpread float64 `envconfig:"MAX_SPREAD" default:"0.05"`
	// QueueSize bounds each per-symbol dispatch queue.
	QueueSize int `envconfig:"STRATEGY_QUEUE_SIZE" default:"256"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
