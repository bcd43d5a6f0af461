package bus

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// QueueSize bounds each subscriber's pending-delivery queue. When a
	// queue is full, Publish blocks rather than dropping the event.
	QueueSize int `envconfig:"BUS_QUEUE_SIZE" default:"256"`
	// MaxRetries is the number of redeliveries after a handler error
	// before the event is marked failed for that subscriber.
	MaxRetries int           `envconfig:"BUS_MAX_RETRIES" default:"3"`
	RetryDelay time.Duration `envconfig:"BUS_RETRY_DELAY" default:"1s"`
	// BestEffortAudit, when set, lets Publish succeed even if the audit
	// append fails. Default is synchronous auditing.
	BestEffortAudit bool `envconfig:"BUS_BEST_EFFORT_AUDIT" default:"false"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
