package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPolicy = errors.New("invalid action policy")

// ActionPolicy is the immutable rate-limit configuration for one action kind.
type ActionPolicy struct {
	Action      string        `json:"action" yaml:"action"`
	MaxAttempts uint          `json:"max_attempts" yaml:"max_attempts"`
	Window      time.Duration `json:"window" yaml:"window"`
}

// WindowMs returns the sliding window length in milliseconds.
func (p ActionPolicy) WindowMs() int64 {
	return p.Window.Milliseconds()
}

// Validate rejects policies that could never admit an attempt.
func (p ActionPolicy) Validate() error {
	if p.Action == "" {
		return fmt.Errorf("%w: empty action", ErrInvalidPolicy)
	}
	if p.MaxAttempts == 0 {
		return fmt.Errorf("%w: %s: max_attempts must be positive", ErrInvalidPolicy, p.Action)
	}
	if p.Window < time.Millisecond {
		return fmt.Errorf("%w: %s: window must be at least 1ms", ErrInvalidPolicy, p.Action)
	}
	return nil
}

// AttemptRecord is one occurrence of a rate-limited action, in milliseconds
// since the Unix epoch.
type AttemptRecord int64
