package model

import "time"

// Event topics. The segment before the first dot is the namespace; bus
// subscriptions may match a whole namespace with a "ns.*" pattern.
const (
	EventMarketTrade  = "market.trade"
	EventMarketCandle = "market.candle"
	EventPriceUpdate  = "market.price_update"

	EventStrategySignal  = "strategy.signal"
	EventStrategyStarted = "strategy.started"
	EventStrategyStopped = "strategy.stopped"
	EventStrategyUpdated = "strategy.updated"

	EventPositionOpened  = "trading.position_opened"
	EventPositionClosed  = "trading.position_closed"
	EventPositionUpdated = "trading.position_updated"
	EventOrderPlaced     = "trading.order_placed"
	EventTradeExecuted   = "trading.trade_executed"
	EventTradeFailed     = "trading.trade_failed"

	EventSystemError   = "system.error"
	EventSystemWarning = "system.warning"
	EventSystemStatus  = "system.status"
)

// Event is the envelope carried on the bus and retained in the events table.
// Payload values must be JSON-serializable; in-process subscribers may also
// find the originating typed value under well-known keys ("candle", "tick",
// "signal", "position").
type Event struct {
	ID        string         `gorm:"primaryKey;size:60" json:"id"`
	Type      string         `gorm:"size:100;not null;index:idx_events_type_created,priority:1" json:"type"`
	Payload   map[string]any `gorm:"type:jsonb;serializer:json" json:"payload,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index:idx_events_type_created,priority:2;index" json:"created_at"`
}

func (Event) TableName() string {
	return "events"
}
