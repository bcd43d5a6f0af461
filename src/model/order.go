package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusCreated   = "created"
	OrderStatusSubmitted = "submitted"
	OrderStatusConfirmed = "confirmed"
	OrderStatusFailed    = "failed"

	OrderDirectionEntry = "entry"
	OrderDirectionExit  = "exit"
)

// Order is one request sent to the execution venue. Immutable once a terminal
// status (confirmed or failed) is reached; only the venue response path is
// allowed to move it there.
type Order struct {
	ID         string `gorm:"primaryKey;size:60" json:"id"`
	PositionID string `gorm:"size:60;index" json:"position_id,omitempty"`
	Symbol     string `gorm:"type:varchar(50);not null;index" json:"symbol"`
	Side       string `gorm:"size:10;not null" json:"side"`
	OrderDir   string `gorm:"size:10;not null" json:"order_dir"`
	Status     string `gorm:"size:20;not null;default:created" json:"status"`

	Size          decimal.Decimal  `gorm:"type:double precision;not null" json:"size"`
	ExpectedPrice decimal.Decimal  `gorm:"type:double precision" json:"expected_price"`
	FilledPrice   *decimal.Decimal `gorm:"type:double precision" json:"filled_price,omitempty"`
	FilledSize    *decimal.Decimal `gorm:"type:double precision" json:"filled_size,omitempty"`
	Fee           decimal.Decimal  `gorm:"type:double precision" json:"fee"`

	VenueResponse map[string]any `gorm:"type:jsonb;serializer:json" json:"venue_response,omitempty"`
	Error         string         `gorm:"size:512" json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	FilledAt    *time.Time `json:"filled_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Terminal reports whether the order can no longer change state.
func (o Order) Terminal() bool {
	return o.Status == OrderStatusConfirmed || o.Status == OrderStatusFailed
}
