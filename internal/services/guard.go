package services

import (
	"context"
	"fmt"

	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/models"
)

// Action is one user action passing through the guard.
type Action struct {
	// Kind selects the rate limiter, e.g. "document_click".
	Kind string
	// EventType is the telemetry event describing the action. Empty skips
	// tracking.
	EventType models.EventType
	URL       string
	Metadata  map[string]any
}

// DenialKind says which stage refused an action.
type DenialKind string

const (
	DenialNone      DenialKind = ""
	DenialLockout   DenialKind = "lockout"
	DenialRateLimit DenialKind = "rate_limit"
)

// Outcome is the synchronous answer for one action. A denial is a decision,
// not an error: Message carries the localized text for the user.
type Outcome struct {
	Allowed           bool
	Denial            DenialKind
	RetryAfterSeconds uint
	Reason            string
	Message           string
	// Err is whatever the final handler returned.
	Err error
	// Warning is a recovered storage failure from the rate limiter.
	Warning error
}

// Handler processes an action.
type Handler func(ctx context.Context, a Action) Outcome

// Stage wraps a Handler with one guard step.
type Stage func(next Handler) Handler

// Chain builds final wrapped by stages; stages[0] runs first.
func Chain(final Handler, stages ...Stage) Handler {
	h := final
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return h
}

// ActionFunc adapts a plain function into the final Handler of a chain.
func ActionFunc(fn func(ctx context.Context, a Action) error) Handler {
	return func(ctx context.Context, a Action) Outcome {
		return Outcome{Allowed: true, Err: fn(ctx, a)}
	}
}

// LockoutStage refuses every action while a lockout is active.
func LockoutStage(lockouts *LockoutService, tel *TelemetryService, msgs Messages) Stage {
	return func(next Handler) Handler {
		return func(ctx context.Context, a Action) Outcome {
			status := lockouts.IsLockedOut()
			if !status.Locked {
				return next(ctx, a)
			}
			tel.Track(models.EventSecurityBlock, a.URL, map[string]any{
				"reason":        "lockout",
				"action":        a.Kind,
				"lockoutReason": status.Reason,
				"timeRemaining": status.TimeRemainingSeconds,
			})
			return Outcome{
				Denial:            DenialLockout,
				RetryAfterSeconds: status.TimeRemainingSeconds,
				Reason:            status.Reason,
				Message:           msgs.LockedOut(status.TimeRemainingSeconds),
			}
		}
	}
}

// RateLimitStage checks the action's limiter. A denial is recorded as a
// violation, which may escalate to a lockout.
func RateLimitStage(limiters *RateLimiterSet, lockouts *LockoutService, tel *TelemetryService, msgs Messages) Stage {
	return func(next Handler) Handler {
		return func(ctx context.Context, a Action) Outcome {
			res, limited := limiters.Check(a.Kind)
			if !limited || res.Allowed {
				out := next(ctx, a)
				if out.Warning == nil {
					out.Warning = res.Warning
				}
				return out
			}

			reason := fmt.Sprintf("rate limit exceeded: %s", a.Kind)
			triggered := lockouts.RecordViolation(reason)
			tel.Track(models.EventRateLimitExceeded, a.URL, map[string]any{
				"action":     a.Kind,
				"retryAfter": res.RetryAfterSeconds,
			})

			if triggered {
				status := lockouts.IsLockedOut()
				tel.Track(models.EventLockoutTriggered, a.URL, map[string]any{
					"action":   a.Kind,
					"reason":   status.Reason,
					"duration": status.TimeRemainingSeconds,
				})
				logger.Component("guard").WithField("action", a.Kind).Warn("rate limit violations escalated to lockout")
				return Outcome{
					Denial:            DenialLockout,
					RetryAfterSeconds: status.TimeRemainingSeconds,
					Reason:            status.Reason,
					Message:           msgs.LockedOut(status.TimeRemainingSeconds),
					Warning:           res.Warning,
				}
			}

			return Outcome{
				Denial:            DenialRateLimit,
				RetryAfterSeconds: res.RetryAfterSeconds,
				Reason:            reason,
				Message:           msgs.RateLimited(res.RetryAfterSeconds),
				Warning:           res.Warning,
			}
		}
	}
}

// TelemetryStage tracks the action's own event before running it.
func TelemetryStage(tel *TelemetryService) Stage {
	return func(next Handler) Handler {
		return func(ctx context.Context, a Action) Outcome {
			if a.EventType != "" {
				tel.Track(a.EventType, a.URL, a.Metadata)
			}
			return next(ctx, a)
		}
	}
}

// Guard composes the standard chain: lockout, rate limit, telemetry, action.
type Guard struct {
	lockouts *LockoutService
	limiters *RateLimiterSet
	tel      *TelemetryService
	msgs     Messages
}

func NewGuard(lockouts *LockoutService, limiters *RateLimiterSet, tel *TelemetryService, msgs Messages) *Guard {
	return &Guard{lockouts: lockouts, limiters: limiters, tel: tel, msgs: msgs}
}

// Wrap returns final guarded by the standard stages.
func (g *Guard) Wrap(final Handler) Handler {
	return Chain(final,
		LockoutStage(g.lockouts, g.tel, g.msgs),
		RateLimitStage(g.limiters, g.lockouts, g.tel, g.msgs),
		TelemetryStage(g.tel),
	)
}

// Do runs fn for a behind the standard stages.
func (g *Guard) Do(ctx context.Context, a Action, fn func(ctx context.Context, a Action) error) Outcome {
	return g.Wrap(ActionFunc(fn))(ctx, a)
}
