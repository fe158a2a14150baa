package services

import (
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/models"
)

// TelemetryService builds, classifies and queues telemetry events for one
// session.
type TelemetryService struct {
	session    *Session
	classifier *Classifier
	delivery   *DeliveryService
	alerts     *AlertService
}

// NewTelemetryService wires the session to the delivery pipeline. alerts may
// be nil.
func NewTelemetryService(session *Session, classifier *Classifier, delivery *DeliveryService, alerts *AlertService) *TelemetryService {
	return &TelemetryService{
		session:    session,
		classifier: classifier,
		delivery:   delivery,
		alerts:     alerts,
	}
}

// Track classifies a new event exactly once, escalates suspicious results
// and queues the event for delivery.
func (t *TelemetryService) Track(eventType models.EventType, url string, metadata map[string]any) models.TelemetryEvent {
	e := t.session.NewEvent(eventType, url, metadata)
	c := t.classifier.Classify(e)
	c.Apply(&e)

	if c.IsSuspicious {
		metrics.IncSuspicious()
		logger.Component("telemetry").WithFields(map[string]interface{}{
			"event_type":   string(e.EventType),
			"event_number": e.EventNumber,
			"flags":        c.Flags,
			"severity":     string(c.Severity),
		}).Warn("suspicious activity detected")
		t.alerts.NotifySuspicious(e, c)
	}

	t.delivery.Enqueue(e)
	metrics.IncEventEnqueued(string(e.EventType))
	return e
}

// Start records the beginning of the session.
func (t *TelemetryService) Start() {
	t.Track(models.EventSessionStart, "", nil)
}

// Shutdown records the end of the session and unloads the queue through the
// best-effort transport.
func (t *TelemetryService) Shutdown() {
	t.Track(models.EventSessionEnd, "", map[string]any{
		"totalEvents": t.session.EventCount(),
	})
	t.delivery.Unload()
}

func (t *TelemetryService) Session() *Session {
	return t.session
}
