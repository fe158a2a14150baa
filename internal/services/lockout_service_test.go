package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/warden/internal/clock"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/models"
)

func newLockoutService(store database.Store) (*LockoutService, *clock.Virtual) {
	clk := clock.NewVirtual(testEpoch)
	return NewLockoutService(store, clk, DefaultLockoutConfig()), clk
}

func TestLockout_ThresholdInstallsLockout(t *testing.T) {
	s, clk := newLockoutService(database.NewMemoryStore())

	for i := 0; i < 4; i++ {
		assert.False(t, s.RecordViolation("rate limit exceeded: document_click"))
		assert.False(t, s.IsLockedOut().Locked)
		clk.Advance(time.Second)
	}

	assert.True(t, s.RecordViolation("rate limit exceeded: document_click"))
	status := s.IsLockedOut()
	assert.True(t, status.Locked)
	assert.Equal(t, uint(300), status.TimeRemainingSeconds)
	assert.Equal(t, "rate limit exceeded: document_click", status.Reason)
	assert.Len(t, s.Violations(), 5)
}

func TestLockout_ExpiryClearsStateIdempotently(t *testing.T) {
	store := database.NewMemoryStore()
	s, clk := newLockoutService(store)
	for i := 0; i < 5; i++ {
		s.RecordViolation("v")
	}
	require.True(t, s.IsLockedOut().Locked)

	clk.Advance(299 * time.Second)
	assert.Equal(t, uint(1), s.IsLockedOut().TimeRemainingSeconds)

	clk.Advance(time.Second)
	assert.False(t, s.IsLockedOut().Locked)
	assert.Empty(t, s.Violations())
	assert.Empty(t, store.Keys())

	assert.Equal(t, LockoutStatus{}, s.IsLockedOut())

	// a fresh ledger needs the full threshold again
	assert.False(t, s.RecordViolation("v"))
}

func TestLockout_ViolationsDuringLockoutDoNotExtend(t *testing.T) {
	s, clk := newLockoutService(database.NewMemoryStore())
	for i := 0; i < 5; i++ {
		s.RecordViolation("first")
	}
	clk.Advance(time.Minute)

	for i := 0; i < 5; i++ {
		assert.False(t, s.RecordViolation("second"))
	}
	status := s.IsLockedOut()
	assert.Equal(t, uint(240), status.TimeRemainingSeconds)
	assert.Equal(t, "first", status.Reason)
	assert.Len(t, s.Violations(), 10)
}

func TestLockout_OldViolationsFallOutOfWindow(t *testing.T) {
	s, clk := newLockoutService(database.NewMemoryStore())
	for i := 0; i < 4; i++ {
		s.RecordViolation("old")
	}
	clk.Advance(5*time.Minute + time.Millisecond)

	assert.False(t, s.RecordViolation("new"))
	assert.False(t, s.IsLockedOut().Locked)
	v := s.Violations()
	require.Len(t, v, 1)
	assert.Equal(t, "new", v[0].Reason)
	assert.Equal(t, clk.Now().UnixMilli(), v[0].Timestamp)
}

func TestLockout_Reset(t *testing.T) {
	store := database.NewMemoryStore()
	s, _ := newLockoutService(store)
	for i := 0; i < 5; i++ {
		s.RecordViolation("v")
	}
	require.True(t, s.IsLockedOut().Locked)

	require.NoError(t, s.Reset())
	assert.False(t, s.IsLockedOut().Locked)
	assert.Empty(t, s.Violations())
	assert.Empty(t, store.Keys())
}

func TestLockout_InvalidRecordIsCleared(t *testing.T) {
	store := database.NewMemoryStore()
	s, clk := newLockoutService(store)
	now := clk.Now().UnixMilli()
	require.NoError(t, database.PutJSON(store, lockoutKey, models.LockoutState{Until: now + 1000, IssuedAt: now + 1000}))

	assert.False(t, s.IsLockedOut().Locked)
	_, ok, err := database.GetJSON[models.LockoutState](store, lockoutKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockout_FailedInstallReportsNoLockout(t *testing.T) {
	store := newFaultyStore()
	store.failPut = func(key string) bool { return key == lockoutKey }
	s, _ := newLockoutService(store)

	for i := 0; i < 5; i++ {
		assert.False(t, s.RecordViolation("v"))
	}
	assert.False(t, s.IsLockedOut().Locked)
}

func TestLockout_UnreadableStateFailsOpen(t *testing.T) {
	store := newFaultyStore()
	store.failGet = always
	s, _ := newLockoutService(store)

	assert.False(t, s.IsLockedOut().Locked)
	assert.Nil(t, s.Violations())
}
