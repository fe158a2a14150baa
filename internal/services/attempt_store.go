package services

import (
	"github.com/Wikid82/warden/internal/clock"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/models"
)

// AttemptResult is the outcome of recording one rate-limited attempt.
type AttemptResult struct {
	Allowed           bool
	Remaining         uint
	RetryAfterSeconds uint
	// Warning is set when persisted state could not be read or written and
	// the check fell back to empty state.
	Warning error
}

// AttemptStore keeps a persisted sliding-window log of attempt timestamps
// per action.
type AttemptStore struct {
	store database.Store
	clock clock.Clock
}

// NewAttemptStore returns an AttemptStore over store.
func NewAttemptStore(store database.Store, clk clock.Clock) *AttemptStore {
	return &AttemptStore{store: store, clock: clk}
}

func attemptKey(action string) string {
	return database.Key("ratelimit", action)
}

// RecordAndCheck prunes the log for action to policy.Window and either
// denies (log already holds MaxAttempts entries) or records the attempt.
// The pruned log is written back in both cases. Storage failures fail open.
func (s *AttemptStore) RecordAndCheck(action string, policy models.ActionPolicy) AttemptResult {
	now := s.clock.Now().UnixMilli()
	windowMs := policy.WindowMs()
	windowStart := now - windowMs

	var warning error
	stored, _, err := database.GetJSON[[]models.AttemptRecord](s.store, attemptKey(action))
	if err != nil {
		warning = s.warn(action, err)
		stored = nil
	}

	recent := make([]models.AttemptRecord, 0, len(stored)+1)
	var oldest int64
	for _, ts := range stored {
		if int64(ts) <= windowStart {
			continue
		}
		if len(recent) == 0 || int64(ts) < oldest {
			oldest = int64(ts)
		}
		recent = append(recent, ts)
	}

	if uint(len(recent)) >= policy.MaxAttempts {
		if err := database.PutJSON(s.store, attemptKey(action), recent); err != nil {
			warning = s.warn(action, err)
		}
		retryMs := windowMs
		if len(recent) > 0 {
			retryMs = oldest + windowMs - now
		}
		return AttemptResult{
			Allowed:           false,
			Remaining:         0,
			RetryAfterSeconds: ceilSeconds(retryMs),
			Warning:           warning,
		}
	}

	recent = append(recent, models.AttemptRecord(now))
	if err := database.PutJSON(s.store, attemptKey(action), recent); err != nil {
		warning = s.warn(action, err)
	}
	return AttemptResult{
		Allowed:   true,
		Remaining: policy.MaxAttempts - uint(len(recent)),
		Warning:   warning,
	}
}

// Attempts returns the stored log for action without pruning it.
func (s *AttemptStore) Attempts(action string) ([]models.AttemptRecord, error) {
	stored, _, err := database.GetJSON[[]models.AttemptRecord](s.store, attemptKey(action))
	return stored, err
}

// Clear drops every stored attempt for action.
func (s *AttemptStore) Clear(action string) error {
	return s.store.Delete(attemptKey(action))
}

func (s *AttemptStore) warn(action string, err error) error {
	metrics.IncStorageWarning()
	logger.Component("attempt_store").WithError(err).WithField("action", action).
		Warn("rate limit state unavailable, treating as empty")
	return err
}

// ceilSeconds rounds a positive millisecond span up to whole seconds, never
// returning less than one.
func ceilSeconds(ms int64) uint {
	if ms <= 0 {
		return 1
	}
	return uint((ms + 999) / 1000)
}

// Usage counts the attempts for action still inside policy's window without
// recording one.
func (s *AttemptStore) Usage(action string, policy models.ActionPolicy) (uint, error) {
	stored, err := s.Attempts(action)
	if err != nil {
		return 0, err
	}
	cutoff := s.clock.Now().UnixMilli() - policy.WindowMs()
	var n uint
	for _, ts := range stored {
		if int64(ts) > cutoff {
			n++
		}
	}
	return n, nil
}
