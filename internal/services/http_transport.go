package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/version"
)

const (
	APIKeyHeader = "X-API-Key"

	beaconTimeout = 5 * time.Second
)

var ErrUnexpectedStatus = errors.New("collector returned unexpected status")

// HTTPTransport posts batches to the collector as JSON.
type HTTPTransport struct {
	url    string
	apiKey string
	origin string
	client *http.Client

	beacons sync.WaitGroup
}

// NewHTTPTransport creates a transport for the collector endpoint url.
func NewHTTPTransport(url, apiKey, origin string) *HTTPTransport {
	return &HTTPTransport{
		url:    url,
		apiKey: apiKey,
		origin: origin,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send posts batch and treats any non-2xx status as a failure.
func (t *HTTPTransport) Send(ctx context.Context, batch models.Batch) error {
	req, err := t.newRequest(ctx, batch)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// Beacon fires a single POST in the background without waiting for it.
func (t *HTTPTransport) Beacon(batch models.Batch) {
	t.beacons.Add(1)
	go func() {
		defer t.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()

		req, err := t.newRequest(ctx, batch)
		if err != nil {
			logger.Component("transport").WithError(err).Debug("beacon not sent")
			return
		}
		resp, err := t.client.Do(req)
		if err != nil {
			logger.Component("transport").WithError(err).Debug("beacon not delivered")
			return
		}
		resp.Body.Close()
	}()
}

// WaitBeacons gives in-flight beacons up to timeout to finish. It reports
// whether they all did. Used by the agent right before the process exits.
func (t *HTTPTransport) WaitBeacons(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.beacons.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (t *HTTPTransport) newRequest(ctx context.Context, batch models.Batch) (*http.Request, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if t.apiKey != "" {
		req.Header.Set(APIKeyHeader, t.apiKey)
	}
	if t.origin != "" {
		req.Header.Set("Origin", t.origin)
	}
	return req, nil
}
