package models

import "time"

// KVEntry backs the agent's key/value store when it is persisted in SQLite.
type KVEntry struct {
	Key       string    `gorm:"primaryKey"`
	Value     []byte    `gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}
