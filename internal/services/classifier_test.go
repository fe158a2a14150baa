package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Wikid82/warden/internal/models"
)

func TestClassifier_Checks(t *testing.T) {
	tests := []struct {
		name       string
		eventType  models.EventType
		metadata   map[string]any
		flags      []string
		suspicious bool
		severity   models.Severity
	}{
		{"overlay over threshold", models.EventOverlayOpened, map[string]any{"openCount": 11},
			[]string{FlagExcessiveOverlayOpens}, true, models.SeverityMedium},
		{"overlay at threshold", models.EventOverlayOpened, map[string]any{"openCount": 10},
			nil, false, models.SeverityNone},
		{"overlay json number", models.EventOverlayOpened, map[string]any{"openCount": json.Number("42")},
			[]string{FlagExcessiveOverlayOpens}, true, models.SeverityMedium},
		{"blocked domain", models.EventSecurityBlock, map[string]any{"reason": "Blocked Domain: evil.example"},
			[]string{FlagBlockedDomainAccess}, true, models.SeverityHigh},
		{"other security block", models.EventSecurityBlock, map[string]any{"reason": "lockout"},
			nil, false, models.SeverityNone},
		{"rapid click", models.EventDocumentClicked, map[string]any{"timeSinceLastClick": 50.0},
			[]string{FlagRapidClicking}, true, models.SeverityMedium},
		{"normal click", models.EventDocumentClicked, map[string]any{"timeSinceLastClick": 100},
			nil, false, models.SeverityNone},
		{"click without timing", models.EventDocumentClicked, nil,
			nil, false, models.SeverityNone},
		{"sensitive access", models.EventSensitiveDocumentAccess, nil,
			[]string{FlagSensitiveDocumentReview}, true, models.SeverityHigh},
		{"rate limit", models.EventRateLimitExceeded, nil,
			[]string{FlagRateLimitViolation}, true, models.SeverityMedium},
		{"lockout", models.EventLockoutTriggered, nil,
			[]string{FlagAccountLockout}, true, models.SeverityCritical},
		{"integrity mismatch", models.EventIntegrityCheck, map[string]any{"match": false},
			[]string{FlagIntegrityMismatch}, true, models.SeverityHigh},
		{"integrity match", models.EventIntegrityCheck, map[string]any{"match": true},
			nil, false, models.SeverityNone},
		{"network error", models.EventError, map[string]any{"message": "Failed to fetch"},
			[]string{FlagNetworkError}, false, models.SeverityLow},
		{"other error", models.EventError, map[string]any{"message": "null pointer"},
			nil, false, models.SeverityNone},
		{"benign", models.EventSessionStart, nil,
			nil, false, models.SeverityNone},
	}

	c := NewClassifier(DefaultClassifierConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(models.TelemetryEvent{EventType: tt.eventType, Metadata: tt.metadata})
			assert.Equal(t, tt.flags, got.Flags)
			assert.Equal(t, tt.suspicious, got.IsSuspicious)
			assert.Equal(t, tt.severity, got.Severity)
		})
	}
}

func TestClassifier_Deterministic(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	e := models.TelemetryEvent{EventType: models.EventOverlayOpened, Metadata: map[string]any{"openCount": 99}}

	first := c.Classify(e)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, c.Classify(e))
	}
	assert.Nil(t, e.SecurityFlags, "Classify must not mutate the event")
}

func TestClassifier_CustomThresholds(t *testing.T) {
	c := NewClassifier(ClassifierConfig{OverlayOpenThreshold: 3, RapidClickMs: 250})

	got := c.Classify(models.TelemetryEvent{EventType: models.EventOverlayOpened, Metadata: map[string]any{"openCount": 4}})
	assert.True(t, got.IsSuspicious)

	got = c.Classify(models.TelemetryEvent{EventType: models.EventDocumentClicked, Metadata: map[string]any{"timeSinceLastClick": int64(200)}})
	assert.Equal(t, []string{FlagRapidClicking}, got.Flags)
}

func TestClassification_Apply(t *testing.T) {
	e := models.TelemetryEvent{EventType: models.EventLockoutTriggered}
	c := NewClassifier(DefaultClassifierConfig()).Classify(e)
	c.Apply(&e)

	assert.Equal(t, []string{FlagAccountLockout}, e.SecurityFlags)
	assert.Equal(t, models.SeverityCritical, e.Severity)

	// the event keeps its own copy
	c.Flags[0] = "changed"
	assert.Equal(t, FlagAccountLockout, e.SecurityFlags[0])

	benign := models.TelemetryEvent{EventType: models.EventSessionEnd}
	NewClassifier(DefaultClassifierConfig()).Classify(benign).Apply(&benign)
	assert.Nil(t, benign.SecurityFlags)
	assert.Equal(t, models.SeverityNone, benign.Severity)
}

func TestNumberValue(t *testing.T) {
	for _, v := range []any{int(3), int32(3), int64(3), uint(3), uint64(3), float32(3), 3.0, json.Number("3")} {
		n, ok := numberValue(v)
		assert.True(t, ok, "%T", v)
		assert.Equal(t, 3.0, n)
	}
	_, ok := numberValue("3")
	assert.False(t, ok)
	_, ok = numberValue(json.Number("x"))
	assert.False(t, ok)
}
