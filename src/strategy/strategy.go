package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/src/model"
)

type DataType string

const (
	DataTypeCandle    DataType = "candle"
	DataTypeTrade     DataType = "trade"
	DataTypeOrderbook DataType = "orderbook"
)

// DataPoint is one normalized market data item routed to strategy instances.
// Exactly one of Candle/Tick is set, matching Type.
type DataPoint struct {
	Type      DataType
	Symbol    string
	Timestamp time.Time
	Candle    *model.Candle
	Tick      *model.Tick
}

// Strategy is the capability set every variant implements. ProcessData and
// GenerateSignal are called from a single goroutine per instance, so
// implementations need no internal locking. GenerateSignal returns nil when
// the latest data item produced no recommendation.
type Strategy interface {
	Initialize(ctx context.Context) error
	ProcessData(ctx context.Context, dp DataPoint) error
	GenerateSignal(ctx context.Context) (*model.Signal, error)
	DataRequirements() []DataType
}

// Params is a strategy parameter set: a template merged with per-symbol
// overrides. Values are loosely typed the way they arrive from config.
type Params map[string]any

func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case decimal.Decimal:
		f, _ := v.Float64()
		return f
	default:
		return def
	}
}

func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func (p Params) Decimal(key string, def decimal.Decimal) decimal.Decimal {
	switch v := p[key].(type) {
	case decimal.Decimal:
		return v
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}

// Merge layers overrides on top of p without mutating either.
func (p Params) Merge(overrides Params) Params {
	out := make(Params, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Constructor builds a strategy instance for one (symbol, params) pairing.
type Constructor func(id, symbol string, params Params) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register binds a constructor to a strategy type tag. Variants register at
// startup (init or explicit wiring); there is no runtime reflection.
func Register(typeTag string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[typeTag]; dup {
		panic(fmt.Sprintf("strategy type %q registered twice", typeTag))
	}
	registry[typeTag] = c
}

// New instantiates a registered strategy type.
func New(typeTag, id, symbol string, params Params) (Strategy, error) {
	registryMu.RLock()
	c, ok := registry[typeTag]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q", typeTag)
	}
	return c(id, symbol, params)
}

// Types lists the registered strategy type tags, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for tag := range registry {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
