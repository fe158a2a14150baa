package services

import (
	"errors"
	"fmt"

	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/models"
)

// RateLimiter applies one ActionPolicy to its own attempt log.
type RateLimiter struct {
	policy   models.ActionPolicy
	attempts *AttemptStore
}

// NewRateLimiter validates policy and binds it to attempts.
func NewRateLimiter(policy models.ActionPolicy, attempts *AttemptStore) (*RateLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &RateLimiter{policy: policy, attempts: attempts}, nil
}

// IsAllowed records an attempt and reports whether it fits the window.
func (l *RateLimiter) IsAllowed() AttemptResult {
	res := l.attempts.RecordAndCheck(l.policy.Action, l.policy)
	metrics.ObserveRateLimit(l.policy.Action, res.Allowed)
	return res
}

// Reset clears every stored attempt for this action.
func (l *RateLimiter) Reset() error {
	return l.attempts.Clear(l.policy.Action)
}

func (l *RateLimiter) Policy() models.ActionPolicy {
	return l.policy
}

// RateLimiterSet holds independent limiters keyed by action name.
type RateLimiterSet struct {
	limiters map[string]*RateLimiter
	order    []string
}

// NewRateLimiterSet builds one limiter per policy. Duplicate actions are
// rejected.
func NewRateLimiterSet(attempts *AttemptStore, policies []models.ActionPolicy) (*RateLimiterSet, error) {
	set := &RateLimiterSet{limiters: make(map[string]*RateLimiter, len(policies))}
	for _, p := range policies {
		if _, dup := set.limiters[p.Action]; dup {
			return nil, fmt.Errorf("%w: duplicate action %s", models.ErrInvalidPolicy, p.Action)
		}
		l, err := NewRateLimiter(p, attempts)
		if err != nil {
			return nil, err
		}
		set.limiters[p.Action] = l
		set.order = append(set.order, p.Action)
	}
	return set, nil
}

func (s *RateLimiterSet) Get(action string) (*RateLimiter, bool) {
	l, ok := s.limiters[action]
	return l, ok
}

// Check runs the limiter for action. limited is false for actions without
// a policy, which are always allowed.
func (s *RateLimiterSet) Check(action string) (res AttemptResult, limited bool) {
	l, ok := s.limiters[action]
	if !ok {
		return AttemptResult{Allowed: true}, false
	}
	return l.IsAllowed(), true
}

// Actions lists the configured actions in policy order.
func (s *RateLimiterSet) Actions() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// ResetAll clears every limiter, returning the joined errors.
func (s *RateLimiterSet) ResetAll() error {
	var errs []error
	for _, action := range s.order {
		if err := s.limiters[action].Reset(); err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", action, err))
		}
	}
	return errors.Join(errs...)
}
