package services

import (
	"fmt"
	"strings"
	"sync"

	"github.com/containrrr/shoutrrr"

	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/models"
)

// AlertService pushes suspicious-activity alerts to shoutrrr destinations
// (discord://, slack://, gotify://, ...). Sends are asynchronous and
// best-effort.
type AlertService struct {
	urls []string
	send func(url, message string) error
	wg   sync.WaitGroup
}

func NewAlertService(urls []string) *AlertService {
	return &AlertService{urls: urls, send: shoutrrr.Send}
}

// Enabled reports whether any destination is configured.
func (a *AlertService) Enabled() bool {
	return a != nil && len(a.urls) > 0
}

// NotifySuspicious alerts on an event the classifier marked suspicious.
func (a *AlertService) NotifySuspicious(e models.TelemetryEvent, c Classification) {
	if !a.Enabled() || !c.IsSuspicious {
		return
	}
	title := fmt.Sprintf("[%s] suspicious %s", strings.ToUpper(string(c.Severity)), e.EventType)
	body := fmt.Sprintf("session %s event #%d\nflags: %s", e.SessionID, e.EventNumber, strings.Join(c.Flags, ", "))
	if e.URL != "" {
		body += "\nurl: " + e.URL
	}
	a.dispatch(title, body)
}

func (a *AlertService) dispatch(title, body string) {
	msg := fmt.Sprintf("%s\n\n%s", title, body)
	for _, url := range a.urls {
		a.wg.Add(1)
		go func(u string) {
			defer a.wg.Done()
			if err := a.send(u, msg); err != nil {
				logger.Component("alerts").WithError(err).Warn("failed to send alert")
			}
		}(url)
	}
}

// Wait blocks until dispatched alerts have been attempted.
func (a *AlertService) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
