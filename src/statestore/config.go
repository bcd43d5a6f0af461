package statestore

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// WriteRetries is the number of additional attempts after a failed
	// write before the error is surfaced to the caller.
	WriteRetries   int           `envconfig:"STORE_WRITE_RETRIES" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"STORE_RETRY_BASE_DELAY" default:"100ms"`
	// EventRetention bounds how far back the events table is kept; older
	// rows are pruned opportunistically.
	EventRetention time.Duration `envconfig:"EVENT_RETENTION" default:"168h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
