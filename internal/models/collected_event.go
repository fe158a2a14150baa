package models

import (
	"time"
)

// CollectedEvent is a telemetry event accepted and enriched by the collector.
type CollectedEvent struct {
	ID              uint      `json:"-" gorm:"primaryKey"`
	EventID         string    `json:"event_id" gorm:"uniqueIndex"`
	BatchID         string    `json:"batch_id" gorm:"index"`
	EventType       string    `json:"event_type" gorm:"index"`
	SessionID       string    `json:"session_id" gorm:"index"`
	EventNumber     uint64    `json:"event_number"`
	SessionDuration int64     `json:"session_duration"`
	URL             string    `json:"url"`
	ClientTimestamp string    `json:"client_timestamp"`
	ReceivedAt      time.Time `json:"received_at" gorm:"index"`
	SourceIP        string    `json:"source_ip"`
	UserAgent       string    `json:"user_agent"`
	Referrer        string    `json:"referrer"`
	Country         string    `json:"country"`
	Severity        string    `json:"severity"`
	SecurityFlags   string    `json:"security_flags"` // comma-separated
	Metadata        string    `json:"metadata" gorm:"type:text"` // JSON object
	CreatedAt       time.Time `json:"created_at"`
}
