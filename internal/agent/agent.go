package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/Wikid82/warden/internal/clock"
	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/services"
)

// Agent is the client-side stack: persisted state, guard chain and the
// telemetry pipeline for one session.
type Agent struct {
	Store     database.Store
	Clock     clock.Clock
	Attempts  *services.AttemptStore
	Limiters  *services.RateLimiterSet
	Lockouts  *services.LockoutService
	Integrity *services.IntegrityService
	Delivery  *services.DeliveryService
	Telemetry *services.TelemetryService
	Alerts    *services.AlertService
	Guard     *services.Guard
	Transport *services.HTTPTransport

	cfg config.AgentConfig
}

// OpenStore opens the key/value backend selected by cfg.
func OpenStore(cfg config.AgentConfig) (database.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return database.NewMemoryStore(), nil
	case "sqlite":
		if err := config.EnsureDir(cfg.StorePath); err != nil {
			return nil, err
		}
		return database.OpenSQLiteStore(cfg.StorePath)
	case "badger":
		return database.OpenBadgerStore(cfg.StorePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// New builds an Agent over store. A nil clk uses the wall clock.
func New(cfg config.AgentConfig, store database.Store, clk clock.Clock) (*Agent, error) {
	if clk == nil {
		clk = clock.NewReal()
	}
	a := &Agent{Store: store, Clock: clk, cfg: cfg}

	a.Attempts = services.NewAttemptStore(store, clk)
	limiters, err := services.NewRateLimiterSet(a.Attempts, cfg.Policies)
	if err != nil {
		return nil, fmt.Errorf("rate limiters: %w", err)
	}
	a.Limiters = limiters
	a.Lockouts = services.NewLockoutService(store, clk, services.LockoutConfig{
		Threshold:       cfg.LockoutThreshold,
		Duration:        cfg.LockoutDuration,
		ViolationWindow: cfg.ViolationWindow,
	})
	a.Integrity = services.NewIntegrityService(store, clk)

	a.Transport = services.NewHTTPTransport(cfg.CollectorURL, cfg.APIKey, cfg.Origin)
	a.Delivery = services.NewDeliveryService(services.DeliveryConfig{
		BatchSize:      cfg.BatchSize,
		FlushInterval:  cfg.FlushInterval,
		RequeueCeiling: cfg.RequeueCeiling,
	}, a.Transport, clk)

	classifier := services.NewClassifier(services.ClassifierConfig{
		OverlayOpenThreshold: cfg.OverlayOpenThreshold,
		RapidClickMs:         services.DefaultClassifierConfig().RapidClickMs,
	})
	a.Alerts = services.NewAlertService(cfg.AlertURLs)
	a.Telemetry = services.NewTelemetryService(services.NewSession(clk), classifier, a.Delivery, a.Alerts)
	a.Guard = services.NewGuard(a.Lockouts, a.Limiters, a.Telemetry, services.NewMessages(cfg.Locale))

	logger.Component("agent").WithFields(map[string]interface{}{
		"session_id": a.Telemetry.Session().ID,
		"collector":  cfg.CollectorURL,
		"policies":   a.Limiters.Actions(),
	}).Info("agent ready")
	return a, nil
}

// Do runs fn behind the guard chain.
func (a *Agent) Do(ctx context.Context, act services.Action, fn func(ctx context.Context, a services.Action) error) services.Outcome {
	return a.Guard.Do(ctx, act, fn)
}

// VerifyDocument checks content against expectedHex and tracks the result.
func (a *Agent) VerifyDocument(source, url string, content []byte, expectedHex string) services.HashRecord {
	rec, _ := a.Integrity.Verify(source, content, expectedHex)
	a.Telemetry.Track(models.EventIntegrityCheck, url, map[string]any{
		"source": source,
		"hash":   rec.Hash,
		"match":  rec.Match,
	})
	return rec
}

// Status is a read-only snapshot of the persisted guard state.
type Status struct {
	Lockout    services.LockoutStatus `json:"lockout"`
	Violations []models.Violation     `json:"violations"`
	Usage      map[string]uint        `json:"usage"`
}

func (a *Agent) Status() (Status, error) {
	st := Status{
		Lockout:    a.Lockouts.IsLockedOut(),
		Violations: a.Lockouts.Violations(),
		Usage:      make(map[string]uint),
	}
	for _, action := range a.Limiters.Actions() {
		l, _ := a.Limiters.Get(action)
		n, err := a.Attempts.Usage(action, l.Policy())
		if err != nil {
			return Status{}, fmt.Errorf("usage %s: %w", action, err)
		}
		st.Usage[action] = n
	}
	return st, nil
}

// Reset clears lockout, violations and every rate-limit log.
func (a *Agent) Reset() error {
	if err := a.Lockouts.Reset(); err != nil {
		return fmt.Errorf("reset lockout: %w", err)
	}
	if err := a.Limiters.ResetAll(); err != nil {
		return fmt.Errorf("reset rate limits: %w", err)
	}
	return nil
}

// Shutdown ends the session, hands the queue to the unload beacon and waits
// up to grace for outstanding sends and alerts. session_end can complete a
// batch and start a send of its own, so in-flight sends are awaited after the
// session ends and whatever they requeued is unloaded a second time.
func (a *Agent) Shutdown(grace time.Duration) {
	log := logger.Component("agent")
	deadline := time.Now().Add(grace)

	a.Telemetry.Shutdown()
	if !a.Delivery.WaitTimeout(grace) {
		log.Warn("batch send still in flight at exit")
	}
	a.Delivery.Unload()

	if !a.Transport.WaitBeacons(max(time.Until(deadline), 0)) {
		log.Warn("unload beacon still in flight at exit")
	}
	a.Alerts.Wait()
}

// Close releases the store.
func (a *Agent) Close() error {
	return a.Store.Close()
}
