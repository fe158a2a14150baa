package services

import (
	"sync"
	"time"

	"github.com/Wikid82/warden/internal/clock"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/models"
)

var (
	lockoutKey    = database.Key("lockout")
	violationsKey = database.Key("lockout", "violations")
)

// LockoutConfig tunes the violation ledger and the lockout it escalates to.
type LockoutConfig struct {
	Threshold       int
	Duration        time.Duration
	ViolationWindow time.Duration
}

func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Threshold:       5,
		Duration:        5 * time.Minute,
		ViolationWindow: 5 * time.Minute,
	}
}

// LockoutStatus is the answer to "is this profile locked out right now".
type LockoutStatus struct {
	Locked               bool
	TimeRemainingSeconds uint
	Reason               string
}

// LockoutService accumulates rate-limit violations and installs a timed
// lockout once Threshold of them fall within ViolationWindow. Expiry is
// detected lazily on the next read.
type LockoutService struct {
	store database.Store
	clock clock.Clock
	cfg   LockoutConfig
	mu    sync.Mutex
}

func NewLockoutService(store database.Store, clk clock.Clock, cfg LockoutConfig) *LockoutService {
	return &LockoutService{store: store, clock: clk, cfg: cfg}
}

// IsLockedOut reports the active lockout. An expired lockout is cleared
// together with its violation history.
func (s *LockoutService) IsLockedOut() LockoutStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UnixMilli()
	state, locked := s.activeLocked(now)
	if !locked {
		return LockoutStatus{}
	}
	return LockoutStatus{
		Locked:               true,
		TimeRemainingSeconds: ceilSeconds(state.Until - now),
		Reason:               state.Reason,
	}
}

// RecordViolation appends reason to the ledger and reports whether this
// violation installed a new lockout. Violations during an active lockout
// are kept for audit but never extend it.
func (s *LockoutService) RecordViolation(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UnixMilli()
	_, locked := s.activeLocked(now)

	stored, _, err := database.GetJSON[[]models.Violation](s.store, violationsKey)
	if err != nil {
		s.warn("read violations", err)
		stored = nil
	}
	recent := pruneViolations(stored, now-s.cfg.ViolationWindow.Milliseconds())
	recent = append(recent, models.Violation{Timestamp: now, Reason: reason})
	if err := database.PutJSON(s.store, violationsKey, recent); err != nil {
		s.warn("write violations", err)
	}
	metrics.IncViolation()

	log := logger.Component("lockout").WithFields(map[string]interface{}{
		"reason":     reason,
		"violations": len(recent),
		"threshold":  s.cfg.Threshold,
	})

	if locked {
		log.Info("violation recorded during active lockout")
		return false
	}
	if len(recent) < s.cfg.Threshold {
		log.Debug("violation recorded")
		return false
	}

	state := models.LockoutState{
		Until:    now + s.cfg.Duration.Milliseconds(),
		Reason:   reason,
		IssuedAt: now,
	}
	if err := database.PutJSON(s.store, lockoutKey, state); err != nil {
		s.warn("write lockout", err)
		return false
	}
	metrics.IncLockout()
	log.WithField("duration", s.cfg.Duration.String()).Warn("lockout installed")
	return true
}

// Violations returns the ledger entries inside the violation window.
func (s *LockoutService) Violations() []models.Violation {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, _, err := database.GetJSON[[]models.Violation](s.store, violationsKey)
	if err != nil {
		s.warn("read violations", err)
		return nil
	}
	return pruneViolations(stored, s.clock.Now().UnixMilli()-s.cfg.ViolationWindow.Milliseconds())
}

// Reset clears the lockout and the violation history.
func (s *LockoutService) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(lockoutKey); err != nil {
		return err
	}
	if err := s.store.Delete(violationsKey); err != nil {
		return err
	}
	logger.Component("lockout").Info("lockout state reset")
	return nil
}

// activeLocked loads the lockout record, clearing it (and the ledger) when it
// has expired or is malformed. Must be called with s.mu held.
func (s *LockoutService) activeLocked(now int64) (models.LockoutState, bool) {
	state, ok, err := database.GetJSON[models.LockoutState](s.store, lockoutKey)
	if err != nil {
		s.warn("read lockout", err)
		return models.LockoutState{}, false
	}
	if !ok {
		return models.LockoutState{}, false
	}
	if !state.Valid() || state.Expired(now) {
		if err := s.store.Delete(lockoutKey); err != nil {
			s.warn("clear lockout", err)
		}
		if err := s.store.Delete(violationsKey); err != nil {
			s.warn("clear violations", err)
		}
		logger.Component("lockout").WithField("reason", state.Reason).Info("lockout expired")
		return models.LockoutState{}, false
	}
	return state, true
}

func (s *LockoutService) warn(op string, err error) {
	metrics.IncStorageWarning()
	logger.Component("lockout").WithError(err).WithField("op", op).
		Warn("lockout state unavailable, treating as empty")
}

func pruneViolations(in []models.Violation, cutoff int64) []models.Violation {
	out := make([]models.Violation, 0, len(in)+1)
	for _, v := range in {
		if v.Timestamp > cutoff {
			out = append(out, v)
		}
	}
	return out
}
