package venue

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BaseURL   string        `envconfig:"VENUE_BASE_URL" default:"https://quote-api.jup.ag"`
	AuthToken string        `envconfig:"VENUE_AUTH_TOKEN" default:""`
	Timeout   time.Duration `envconfig:"VENUE_TIMEOUT" default:"15s"`
	// SlippageBps is passed through to the quote endpoint.
	SlippageBps int `envconfig:"VENUE_SLIPPAGE_BPS" default:"50"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
