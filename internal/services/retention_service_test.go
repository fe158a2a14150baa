package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/warden/internal/models"
)

func TestRetention_Run(t *testing.T) {
	store := openTestDB(t)
	require.NoError(t, store.Save([]models.CollectedEvent{
		{EventID: "expired", ReceivedAt: testEpoch.Add(-31 * 24 * time.Hour)},
		{EventID: "kept", ReceivedAt: testEpoch.Add(-29 * 24 * time.Hour)},
	}))

	r, err := NewRetentionService(store, 30, "@daily")
	require.NoError(t, err)
	r.now = func() time.Time { return testEpoch }

	n, err := r.Run()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRetention_DisabledKeepsEverything(t *testing.T) {
	store := openTestDB(t)
	require.NoError(t, store.Save([]models.CollectedEvent{{EventID: "ancient", ReceivedAt: time.Unix(0, 0)}}))

	r, err := NewRetentionService(store, 0, "@daily")
	require.NoError(t, err)
	n, err := r.Run()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetention_InvalidSchedule(t *testing.T) {
	_, err := NewRetentionService(openTestDB(t), 30, "every tuesday")
	assert.Error(t, err)
}

func TestRetention_StartStop(t *testing.T) {
	r, err := NewRetentionService(openTestDB(t), 30, "@every 1h")
	require.NoError(t, err)
	r.Start()
	ctx := r.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
