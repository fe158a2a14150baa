package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Wikid82/warden/internal/clock"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/models"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var errStorage = errors.New("storage unavailable")

// faultyStore wraps a MemoryStore and fails operations on keys the
// predicates select.
type faultyStore struct {
	*database.MemoryStore
	failGet func(key string) bool
	failPut func(key string) bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: database.NewMemoryStore()}
}

func (s *faultyStore) Get(key string) ([]byte, error) {
	if s.failGet != nil && s.failGet(key) {
		return nil, errStorage
	}
	return s.MemoryStore.Get(key)
}

func (s *faultyStore) Put(key string, value []byte) error {
	if s.failPut != nil && s.failPut(key) {
		return errStorage
	}
	return s.MemoryStore.Put(key, value)
}

func always(string) bool { return true }

// fakeTransport records batches. When gate is set, Send blocks until it is
// closed and signals entered first.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []models.Batch
	beacons []models.Batch
	err     error

	gate    chan struct{}
	entered chan struct{}
}

func (t *fakeTransport) Send(_ context.Context, batch models.Batch) error {
	if t.gate != nil {
		t.entered <- struct{}{}
		<-t.gate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, batch)
	return t.err
}

func (t *fakeTransport) Beacon(batch models.Batch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.beacons = append(t.beacons, batch)
}

func (t *fakeTransport) Sent() []models.Batch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Batch(nil), t.sent...)
}

func (t *fakeTransport) Beacons() []models.Batch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Batch(nil), t.beacons...)
}

func (t *fakeTransport) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func testEvent(n int) models.TelemetryEvent {
	return models.TelemetryEvent{
		EventType:   models.EventDocumentClicked,
		SessionID:   "session",
		EventNumber: uint64(n),
		Timestamp:   testEpoch.Add(time.Duration(n) * time.Millisecond).Format(time.RFC3339Nano),
	}
}

func eventNumbers(events []models.TelemetryEvent) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		out[i] = e.EventNumber
	}
	return out
}

func eventTypes(batches []models.Batch) []models.EventType {
	var out []models.EventType
	for _, b := range batches {
		for _, e := range b.Events {
			out = append(out, e.EventType)
		}
	}
	return out
}

// agentHarness is the full client-side stack over a memory store and a
// virtual clock.
type agentHarness struct {
	clock     *clock.Virtual
	store     *database.MemoryStore
	transport *fakeTransport
	delivery  *DeliveryService
	telemetry *TelemetryService
	lockouts  *LockoutService
	limiters  *RateLimiterSet
	guard     *Guard
}

func newAgentHarness(t *testing.T, policies ...models.ActionPolicy) *agentHarness {
	t.Helper()
	h := &agentHarness{
		clock:     clock.NewVirtual(testEpoch),
		store:     database.NewMemoryStore(),
		transport: &fakeTransport{},
	}
	h.delivery = NewDeliveryService(DeliveryConfig{BatchSize: 1000, FlushInterval: 24 * time.Hour, RequeueCeiling: 100}, h.transport, h.clock)
	h.telemetry = NewTelemetryService(NewSession(h.clock), NewClassifier(DefaultClassifierConfig()), h.delivery, nil)
	h.lockouts = NewLockoutService(h.store, h.clock, DefaultLockoutConfig())

	var err error
	h.limiters, err = NewRateLimiterSet(NewAttemptStore(h.store, h.clock), policies)
	require.NoError(t, err)
	h.guard = NewGuard(h.lockouts, h.limiters, h.telemetry, NewMessages("en"))
	return h
}

func (h *agentHarness) queuedTypes() []models.EventType {
	return eventTypes([]models.Batch{{Events: h.delivery.Pending()}})
}

func openTestDB(t *testing.T) *EventStoreService {
	t.Helper()
	db, err := database.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store, err := NewEventStoreService(db)
	require.NoError(t, err)
	return store
}
