package model

import "time"

// StateEntry is one row of the key-addressed mutable state: per-symbol
// strategy settings, per-position live state, latest market data. Rows past
// ExpiresAt are treated as absent and lazily purged.
type StateEntry struct {
	Key       string     `gorm:"primaryKey;size:255" json:"key"`
	Value     []byte     `gorm:"type:bytea" json:"value"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (StateEntry) TableName() string {
	return "state_entries"
}
