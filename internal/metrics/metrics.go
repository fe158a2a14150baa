package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	rateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_ratelimit_decisions_total",
		Help: "Rate limit checks by action and decision",
	}, []string{"action", "decision"})
	storageWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_storage_warnings_total",
		Help: "Storage failures recovered by treating state as empty",
	})
	violationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_violations_total",
		Help: "Rate limit violations recorded in the lockout ledger",
	})
	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_lockouts_total",
		Help: "Lockouts installed",
	})
	eventsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_events_enqueued_total",
		Help: "Telemetry events queued for delivery by event type",
	}, []string{"event_type"})
	suspiciousEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_events_suspicious_total",
		Help: "Telemetry events classified as suspicious",
	})
	batchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_batches_total",
		Help: "Delivery batches by outcome (sent, requeued, dropped, beacon)",
	}, []string{"outcome"})
	collectorEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_collector_events_total",
		Help: "Events handled by the collector by result",
	}, []string{"result"})
	collectorRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_collector_rejections_total",
		Help: "Collector requests rejected by HTTP status",
	}, []string{"status"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		rateLimitDecisions,
		storageWarnings,
		violationsTotal,
		lockoutsTotal,
		eventsEnqueued,
		suspiciousEvents,
		batchesTotal,
		collectorEvents,
		collectorRejections,
	)
}

// ObserveRateLimit counts one rate-limit decision for action.
func ObserveRateLimit(action string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	rateLimitDecisions.WithLabelValues(action, decision).Inc()
}

func IncStorageWarning() { storageWarnings.Inc() }

func IncViolation() { violationsTotal.Inc() }

func IncLockout() { lockoutsTotal.Inc() }

func IncEventEnqueued(eventType string) { eventsEnqueued.WithLabelValues(eventType).Inc() }

func IncSuspicious() { suspiciousEvents.Inc() }

// IncBatch counts a batch outcome: sent, requeued, dropped or beacon.
func IncBatch(outcome string) { batchesTotal.WithLabelValues(outcome).Inc() }

// AddCollectorEvents counts n events the collector accepted or failed to store.
func AddCollectorEvents(result string, n int) { collectorEvents.WithLabelValues(result).Add(float64(n)) }

// IncCollectorRejection counts a request rejected with status.
func IncCollectorRejection(status string) { collectorRejections.WithLabelValues(status).Inc() }
