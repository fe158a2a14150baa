package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/warden/internal/clock"
	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/server"
	"github.com/Wikid82/warden/internal/services"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testAgentConfig(collectorURL string) config.AgentConfig {
	return config.AgentConfig{
		StoreBackend:         "memory",
		CollectorURL:         collectorURL,
		APIKey:               "agent-key",
		Origin:               "https://docs.example.com",
		Locale:               "en",
		BatchSize:            10,
		FlushInterval:        30 * time.Second,
		RequeueCeiling:       100,
		LockoutThreshold:     5,
		LockoutDuration:      5 * time.Minute,
		ViolationWindow:      5 * time.Minute,
		OverlayOpenThreshold: 10,
		Policies: []models.ActionPolicy{
			{Action: config.ActionOverlayOpen, MaxAttempts: 10, Window: time.Minute},
			{Action: config.ActionDocumentClick, MaxAttempts: 2, Window: time.Minute},
		},
	}
}

// newCollector runs the real collector in-process.
func newCollector(t *testing.T) (*httptest.Server, *server.Server) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open("file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	srv, err := server.New(db, config.Config{
		Environment: "test",
		Collector: config.CollectorConfig{
			APIKey:         "agent-key",
			AllowedOrigins: []string{"https://docs.example.com"},
		},
	}, prometheus.NewRegistry())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Engine)
	t.Cleanup(ts.Close)
	return ts, srv
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{"memory", "sqlite", "badger"} {
		t.Run(backend, func(t *testing.T) {
			s, err := OpenStore(config.AgentConfig{StoreBackend: backend, StorePath: filepath.Join(dir, backend, "state")})
			require.NoError(t, err)
			require.NoError(t, s.Put(database.Key("probe"), []byte("1")))
			require.NoError(t, s.Close())
		})
	}

	_, err := OpenStore(config.AgentConfig{StoreBackend: "redis"})
	assert.Error(t, err)
}

func TestNew_RejectsBadPolicies(t *testing.T) {
	cfg := testAgentConfig("http://localhost")
	cfg.Policies = append(cfg.Policies, cfg.Policies[0])
	_, err := New(cfg, database.NewMemoryStore(), clock.NewVirtual(start))
	assert.Error(t, err)
}

func TestAgent_DeliversToCollector(t *testing.T) {
	ts, srv := newCollector(t)
	clk := clock.NewVirtual(start)
	a, err := New(testAgentConfig(ts.URL+"/api/v1/events"), database.NewMemoryStore(), clk)
	require.NoError(t, err)

	a.Telemetry.Start()
	out := a.Do(context.Background(), services.Action{
		Kind:      config.ActionOverlayOpen,
		EventType: models.EventOverlayOpened,
		URL:       "https://docs.example.com/a",
		Metadata:  map[string]any{"openCount": 11},
	}, func(context.Context, services.Action) error { return nil })
	require.True(t, out.Allowed)

	// the flush timer delivers both events
	clk.Advance(30 * time.Second)
	assert.Zero(t, a.Delivery.Len())

	stored, err := srv.Events.Recent(10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	var overlay models.CollectedEvent
	for _, e := range stored {
		if e.EventType == string(models.EventOverlayOpened) {
			overlay = e
		}
	}
	assert.Equal(t, "excessive_overlay_opens", overlay.SecurityFlags)
	assert.Equal(t, "medium", overlay.Severity)
	assert.Equal(t, a.Telemetry.Session().ID, overlay.SessionID)

	a.Shutdown(5 * time.Second)
	n, err := srv.Events.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "session_end arrives through the unload beacon")
}

// slowCollector delays every request to the collector; the first failN
// requests answer 503 after the delay instead of reaching it.
func slowCollector(t *testing.T, srv *server.Server, delay time.Duration, failN int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var handled atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		defer handled.Add(1)
		if handled.Load() < failN {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		srv.Engine.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts, &handled
}

func TestAgent_ShutdownWaitsForSessionEndBatch(t *testing.T) {
	cases := map[string]struct {
		failN    int32
		requests int32
	}{
		"send succeeds":           {failN: 0, requests: 1},
		"send fails then beacons": {failN: 1, requests: 2},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, srv := newCollector(t)
			ts, handled := slowCollector(t, srv, 300*time.Millisecond, tc.failN)
			a, err := New(testAgentConfig(ts.URL+"/api/v1/events"), database.NewMemoryStore(), clock.NewVirtual(start))
			require.NoError(t, err)

			a.Telemetry.Start()
			for i := 0; i < 8; i++ {
				a.Telemetry.Track(models.EventDocumentClicked, "https://docs.example.com/a", nil)
			}
			require.Equal(t, 9, a.Delivery.Len())

			// session_end is the tenth event and starts a size-triggered send
			a.Shutdown(5 * time.Second)

			assert.Equal(t, tc.requests, handled.Load())
			assert.Zero(t, a.Delivery.Len())
			n, err := srv.Events.Count()
			require.NoError(t, err)
			assert.Equal(t, int64(10), n)
		})
	}
}

func TestAgent_RejectedDeliveryIsRequeued(t *testing.T) {
	ts, srv := newCollector(t)
	cfg := testAgentConfig(ts.URL + "/api/v1/events")
	cfg.APIKey = "wrong"
	clk := clock.NewVirtual(start)
	a, err := New(cfg, database.NewMemoryStore(), clk)
	require.NoError(t, err)

	a.Telemetry.Start()
	assert.Error(t, a.Delivery.Flush(context.Background()))
	assert.Equal(t, 1, a.Delivery.Len())

	n, err := srv.Events.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAgent_StatusAndReset(t *testing.T) {
	clk := clock.NewVirtual(start)
	a, err := New(testAgentConfig("http://127.0.0.1:1/none"), database.NewMemoryStore(), clk)
	require.NoError(t, err)

	noop := func(context.Context, services.Action) error { return nil }
	for i := 0; i < 7; i++ {
		a.Do(context.Background(), services.Action{Kind: config.ActionDocumentClick}, noop)
		clk.Advance(50 * time.Millisecond)
	}

	st, err := a.Status()
	require.NoError(t, err)
	assert.True(t, st.Lockout.Locked)
	assert.Len(t, st.Violations, 5)
	assert.Equal(t, uint(2), st.Usage[config.ActionDocumentClick])
	assert.Equal(t, uint(0), st.Usage[config.ActionOverlayOpen])

	require.NoError(t, a.Reset())
	st, err = a.Status()
	require.NoError(t, err)
	assert.False(t, st.Lockout.Locked)
	assert.Empty(t, st.Violations)
	assert.Equal(t, uint(0), st.Usage[config.ActionDocumentClick])
}

func TestAgent_VerifyDocument(t *testing.T) {
	clk := clock.NewVirtual(start)
	a, err := New(testAgentConfig("http://127.0.0.1:1/none"), database.NewMemoryStore(), clk)
	require.NoError(t, err)

	rec := a.VerifyDocument("handbook.pdf", "https://docs.example.com/handbook.pdf", []byte("abc"), strings.Repeat("0", 64))
	assert.False(t, rec.Match)

	pending := a.Delivery.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.EventIntegrityCheck, pending[0].EventType)
	assert.Equal(t, models.SeverityHigh, pending[0].Severity)
	assert.Len(t, a.Integrity.History(), 1)
}

func TestAgent_Serve(t *testing.T) {
	clk := clock.NewVirtual(start)
	a, err := New(testAgentConfig("http://127.0.0.1:1/none"), database.NewMemoryStore(), clk)
	require.NoError(t, err)

	in := strings.Join([]string{
		`{"kind":"document_click","eventType":"document_clicked","url":"https://docs.example.com/a"}`,
		`{"kind":"document_click","eventType":"document_clicked"}`,
		``,
		`{"kind":"document_click","eventType":"document_clicked"}`,
		`not json`,
		`{"kind":"overlay_open","eventType":"keylogger"}`,
	}, "\n")
	var out bytes.Buffer
	require.NoError(t, a.Serve(context.Background(), strings.NewReader(in), &out))

	var responses []Response
	dec := json.NewDecoder(&out)
	for dec.More() {
		var r Response
		require.NoError(t, dec.Decode(&r))
		responses = append(responses, r)
	}
	require.Len(t, responses, 5)
	assert.True(t, responses[0].Allowed)
	assert.True(t, responses[1].Allowed)
	assert.False(t, responses[2].Allowed)
	assert.Equal(t, "rate_limit", responses[2].Denial)
	assert.Equal(t, uint(60), responses[2].RetryAfterSeconds)
	assert.NotEmpty(t, responses[2].Message)
	assert.Equal(t, "malformed request", responses[3].Error)
	assert.Contains(t, responses[4].Error, "unknown eventType")
}
