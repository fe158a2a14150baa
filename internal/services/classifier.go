package services

import (
	"encoding/json"
	"strings"

	"github.com/Wikid82/warden/internal/models"
)

// Flags attached by the classifier.
const (
	FlagExcessiveOverlayOpens   = "excessive_overlay_opens"
	FlagBlockedDomainAccess     = "blocked_domain_access"
	FlagRapidClicking           = "rapid_clicking"
	FlagSensitiveDocumentReview = "sensitive_document_review"
	FlagRateLimitViolation      = "rate_limit_violation"
	FlagAccountLockout          = "account_lockout"
	FlagIntegrityMismatch       = "integrity_mismatch"
	FlagNetworkError            = "network_error"
)

// ClassifierConfig holds the thresholds used by the pattern checks.
type ClassifierConfig struct {
	// OverlayOpenThreshold is the openCount above which overlay_opened is flagged.
	OverlayOpenThreshold int
	// RapidClickMs is the inter-click latency below which clicks are flagged.
	RapidClickMs float64
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{OverlayOpenThreshold: 10, RapidClickMs: 100}
}

// Classification is the result of running every check against one event.
type Classification struct {
	IsSuspicious bool
	Flags        []string
	Severity     models.Severity
}

// Apply copies the flags and severity onto e.
func (c Classification) Apply(e *models.TelemetryEvent) {
	if len(c.Flags) > 0 {
		e.SecurityFlags = append([]string(nil), c.Flags...)
	}
	e.Severity = c.Severity
}

type patternCheck struct {
	flag       string
	suspicious bool
	match      func(cfg ClassifierConfig, e models.TelemetryEvent) bool
}

var transportErrorKeywords = []string{"network", "timeout", "cors", "fetch"}

// checks run in this order so identical input always yields the same flags.
var checks = []patternCheck{
	{
		flag:       FlagExcessiveOverlayOpens,
		suspicious: true,
		match: func(cfg ClassifierConfig, e models.TelemetryEvent) bool {
			n, ok := numberValue(e.Metadata["openCount"])
			return e.EventType == models.EventOverlayOpened && ok && n > float64(cfg.OverlayOpenThreshold)
		},
	},
	{
		flag:       FlagBlockedDomainAccess,
		suspicious: true,
		match: func(_ ClassifierConfig, e models.TelemetryEvent) bool {
			return e.EventType == models.EventSecurityBlock &&
				strings.Contains(strings.ToLower(stringValue(e.Metadata["reason"])), "blocked domain")
		},
	},
	{
		flag:       FlagRapidClicking,
		suspicious: true,
		match: func(cfg ClassifierConfig, e models.TelemetryEvent) bool {
			n, ok := numberValue(e.Metadata["timeSinceLastClick"])
			return e.EventType == models.EventDocumentClicked && ok && n < cfg.RapidClickMs
		},
	},
	{
		flag:       FlagSensitiveDocumentReview,
		suspicious: true,
		match: func(_ ClassifierConfig, e models.TelemetryEvent) bool {
			return e.EventType == models.EventSensitiveDocumentAccess
		},
	},
	{
		flag:       FlagRateLimitViolation,
		suspicious: true,
		match: func(_ ClassifierConfig, e models.TelemetryEvent) bool {
			return e.EventType == models.EventRateLimitExceeded
		},
	},
	{
		flag:       FlagAccountLockout,
		suspicious: true,
		match: func(_ ClassifierConfig, e models.TelemetryEvent) bool {
			return e.EventType == models.EventLockoutTriggered
		},
	},
	{
		flag:       FlagIntegrityMismatch,
		suspicious: true,
		match: func(_ ClassifierConfig, e models.TelemetryEvent) bool {
			match, ok := e.Metadata["match"].(bool)
			return e.EventType == models.EventIntegrityCheck && ok && !match
		},
	},
	{
		flag:       FlagNetworkError,
		suspicious: false,
		match: func(_ ClassifierConfig, e models.TelemetryEvent) bool {
			if e.EventType != models.EventError {
				return false
			}
			msg := strings.ToLower(stringValue(e.Metadata["message"]))
			for _, kw := range transportErrorKeywords {
				if strings.Contains(msg, kw) {
					return true
				}
			}
			return false
		},
	},
}

// Classifier flags suspicious telemetry events. Classify has no side
// effects; escalation is up to the caller.
type Classifier struct {
	cfg ClassifierConfig
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify evaluates every check against e in a fixed order.
func (c *Classifier) Classify(e models.TelemetryEvent) Classification {
	var out Classification
	for _, chk := range checks {
		if !chk.match(c.cfg, e) {
			continue
		}
		out.Flags = append(out.Flags, chk.flag)
		if chk.suspicious {
			out.IsSuspicious = true
		}
	}
	out.Severity = severityFor(out)
	return out
}

func severityFor(c Classification) models.Severity {
	if len(c.Flags) == 0 {
		return models.SeverityNone
	}
	if !c.IsSuspicious {
		return models.SeverityLow
	}
	severity := models.SeverityMedium
	for _, f := range c.Flags {
		switch f {
		case FlagAccountLockout:
			return models.SeverityCritical
		case FlagSensitiveDocumentReview, FlagBlockedDomainAccess, FlagIntegrityMismatch:
			severity = models.SeverityHigh
		}
	}
	return severity
}

// numberValue accepts the numeric shapes metadata takes when built in Go or
// decoded from JSON.
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
