package services

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Wikid82/warden/internal/clock"
	"github.com/Wikid82/warden/internal/models"
)

// Session is the per-run context that numbers and timestamps telemetry
// events. One is created when the agent starts.
type Session struct {
	ID        string
	StartedAt time.Time

	clock   clock.Clock
	counter atomic.Uint64
}

func NewSession(clk clock.Clock) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: clk.Now(),
		clock:     clk,
	}
}

// NewEvent builds the next event of the session. metadata is copied.
func (s *Session) NewEvent(eventType models.EventType, url string, metadata map[string]any) models.TelemetryEvent {
	now := s.clock.Now()
	var md map[string]any
	if len(metadata) > 0 {
		md = make(map[string]any, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
	}
	return models.TelemetryEvent{
		EventType:         eventType,
		SessionID:         s.ID,
		EventNumber:       s.counter.Add(1),
		SessionDurationMs: now.Sub(s.StartedAt).Milliseconds(),
		URL:               url,
		Timestamp:         now.UTC().Format(time.RFC3339Nano),
		Metadata:          md,
	}
}

// EventCount is the number of events built so far.
func (s *Session) EventCount() uint64 {
	return s.counter.Load()
}
