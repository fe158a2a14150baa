package models

// EventType enumerates the telemetry events the collector accepts.
type EventType string

const (
	EventSessionStart            EventType = "session_start"
	EventSessionEnd              EventType = "session_end"
	EventOverlayOpened           EventType = "overlay_opened"
	EventOverlayClosed           EventType = "overlay_closed"
	EventDocumentClicked         EventType = "document_clicked"
	EventSecurityBlock           EventType = "security_block"
	EventSensitiveDocumentAccess EventType = "sensitive_document_access"
	EventRateLimitExceeded       EventType = "rate_limit_exceeded"
	EventLockoutTriggered        EventType = "lockout_triggered"
	EventIntegrityCheck          EventType = "integrity_check"
	EventError                   EventType = "error"
)

var validEventTypes = map[EventType]struct{}{
	EventSessionStart:            {},
	EventSessionEnd:              {},
	EventOverlayOpened:           {},
	EventOverlayClosed:           {},
	EventDocumentClicked:         {},
	EventSecurityBlock:           {},
	EventSensitiveDocumentAccess: {},
	EventRateLimitExceeded:       {},
	EventLockoutTriggered:        {},
	EventIntegrityCheck:          {},
	EventError:                   {},
}

// IsValid reports whether t is on the collector whitelist.
func (t EventType) IsValid() bool {
	_, ok := validEventTypes[t]
	return ok
}

// Severity grades a classified event.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// TelemetryEvent is one client-side occurrence shipped to the collector.
// Only SecurityFlags and Severity change after the event is built.
type TelemetryEvent struct {
	EventType         EventType      `json:"eventType"`
	SessionID         string         `json:"sessionId"`
	EventNumber       uint64         `json:"eventNumber"`
	SessionDurationMs int64          `json:"sessionDuration"`
	URL               string         `json:"url"`
	Timestamp         string         `json:"timestamp"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	SecurityFlags     []string       `json:"securityFlags,omitempty"`
	Severity          Severity       `json:"severity,omitempty"`
}

// Batch is a snapshot of the event queue sent in one request.
type Batch struct {
	Events  []TelemetryEvent `json:"events"`
	BatchID string           `json:"batchId"`
}
