package ingest

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Symbol       string        `envconfig:"SYMBOL" default:"SOL"`
	Quote        string        `envconfig:"QUOTE" default:"USDC"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
