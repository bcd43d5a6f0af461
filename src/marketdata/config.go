package marketdata

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Intervals is the candle interval set maintained per symbol.
	Intervals []string `envconfig:"CANDLE_INTERVALS" default:"1m,5m,15m,1h,4h,1d"`
	// TickTolerance is how far behind the last accepted tick a new tick's
	// timestamp may be before it is rejected as out of order.
	TickTolerance time.Duration `envconfig:"TICK_TOLERANCE" default:"2s"`
	// PriceStateTTL bounds how long the latest-price entry in keyed state
	// stays fresh.
	PriceStateTTL time.Duration `envconfig:"PRICE_STATE_TTL" default:"60s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// ParseInterval maps the interval labels used in config and storage to
// durations. Only the labels of the supported set are valid.
func ParseInterval(label string) (time.Duration, error) {
	switch label {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported candle interval %q", label)
	}
}
