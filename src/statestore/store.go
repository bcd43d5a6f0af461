package statestore

import (
	"context"
	"errors"
	"time"

	"tradingcore/src/model"
)

// ErrNotFound is returned by keyed-state reads when the key is absent or its
// TTL has lapsed.
var ErrNotFound = errors.New("state key not found")

// HistoryQuery bounds a time-range read over one of the history tables.
type HistoryQuery struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

// Store is the durable state dependency of the trading core. It has two
// halves: append-only history (candles, ticks, trades, positions, events),
// and key-addressed mutable state with optional TTL. Implementations retry
// transient write failures with bounded backoff before returning an error;
// callers treat a returned error as fatal for the affected entity and surface
// it as a system.error event rather than dropping the write silently.
type Store interface {
	AppendCandle(ctx context.Context, c model.Candle) error
	AppendTick(ctx context.Context, t model.Tick) error
	AppendTrade(ctx context.Context, t model.Trade) error
	AppendEvent(ctx context.Context, e model.Event) error
	ArchiveSignal(ctx context.Context, s model.Signal) error
	SaveOrder(ctx context.Context, o model.Order) error
	SavePosition(ctx context.Context, p model.Position) error

	Candles(ctx context.Context, interval string, q HistoryQuery) ([]model.Candle, error)
	Trades(ctx context.Context, q HistoryQuery) ([]model.Trade, error)
	Events(ctx context.Context, typePrefix string, q HistoryQuery) ([]model.Event, error)
	Positions(ctx context.Context, symbol string, statuses ...string) ([]model.Position, error)

	GetState(ctx context.Context, key string) ([]byte, error)
	SetState(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteState(ctx context.Context, key string) error

	PruneEvents(ctx context.Context, olderThan time.Time) (int64, error)
}
