package models

// Violation is one rate-limit denial recorded in the lockout ledger.
type Violation struct {
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason"`
}

// LockoutState is the single active lockout for a profile. Timestamps are
// milliseconds since the Unix epoch and Until is always after IssuedAt.
type LockoutState struct {
	Until    int64  `json:"until"`
	Reason   string `json:"reason"`
	IssuedAt int64  `json:"issued_at"`
}

// Expired reports whether the lockout no longer applies at nowMs.
func (l LockoutState) Expired(nowMs int64) bool {
	return nowMs >= l.Until
}

// Valid reports whether the stored record respects Until > IssuedAt.
func (l LockoutState) Valid() bool {
	return l.Until > l.IssuedAt
}
