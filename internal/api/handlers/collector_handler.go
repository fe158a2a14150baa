package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Wikid82/warden/internal/api/middleware"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/services"
	"github.com/Wikid82/warden/internal/util"
)

// MaxIngestBytes bounds a single ingest request body.
const MaxIngestBytes = 1 << 20

const defaultRecentLimit = 50

var (
	errEmptyBatch     = errors.New("no events in batch")
	errMissingType    = errors.New("missing required field: eventType")
	errMissingTime    = errors.New("missing required field: timestamp")
	errUnknownType    = errors.New("unknown eventType")
	errMalformedEvent = errors.New("malformed event")
)

// CollectorHandler accepts telemetry from agents.
type CollectorHandler struct {
	store *services.EventStoreService
	now   func() time.Time
}

func NewCollectorHandler(store *services.EventStoreService) *CollectorHandler {
	return &CollectorHandler{store: store, now: time.Now}
}

type ingestRequest struct {
	Events  []models.TelemetryEvent
	BatchID string
	Single  bool
}

// Ingest handles POST /api/v1/events with either a single event object or
// a {"events": [...], "batchId": "..."} batch.
func (h *CollectorHandler) Ingest(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxIngestBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.reject(c, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := decodeIngest(body)
	if err != nil {
		h.reject(c, http.StatusBadRequest, err.Error())
		return
	}
	for i, e := range req.Events {
		if err := validateEvent(e); err != nil {
			msg := err.Error()
			if !req.Single {
				msg = fmt.Sprintf("event %d: %s", i, msg)
			}
			h.reject(c, http.StatusBadRequest, msg)
			return
		}
	}

	received := h.now().UTC()
	records := make([]models.CollectedEvent, 0, len(req.Events))
	ids := make([]string, 0, len(req.Events))
	for _, e := range req.Events {
		rec := enrich(c, e, req.BatchID, received)
		records = append(records, rec)
		ids = append(ids, rec.EventID)
	}

	if err := h.store.Save(records); err != nil {
		middleware.GetRequestLogger(c).WithError(err).Error("failed to store events")
		metrics.AddCollectorEvents("error", len(records))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store events"})
		return
	}
	metrics.AddCollectorEvents("accepted", len(records))

	if req.Single {
		c.JSON(http.StatusOK, gin.H{"success": true, "eventId": ids[0]})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"batchId":  req.BatchID,
		"accepted": len(ids),
		"eventIds": ids,
	})
}

// Recent handles GET /api/v1/events/recent?limit=N.
func (h *CollectorHandler) Recent(c *gin.Context) {
	limit := defaultRecentLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, 500)
	}
	events, err := h.store.Recent(limit)
	if err != nil {
		middleware.GetRequestLogger(c).WithError(err).Error("failed to list events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *CollectorHandler) reject(c *gin.Context, status int, msg string) {
	metrics.IncCollectorRejection(strconv.Itoa(status))
	middleware.GetRequestLogger(c).WithField("reason", util.SanitizeForLog(msg)).Warn("rejected telemetry")
	c.JSON(status, gin.H{"error": msg})
}

func decodeIngest(body []byte) (ingestRequest, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return ingestRequest{}, errors.New("request body must be a JSON object")
	}

	if _, ok := probe["events"]; ok {
		var batch models.Batch
		if err := strictUnmarshal(body, &batch); err != nil {
			return ingestRequest{}, errMalformedEvent
		}
		if len(batch.Events) == 0 {
			return ingestRequest{}, errEmptyBatch
		}
		if batch.BatchID == "" {
			batch.BatchID = uuid.NewString()
		}
		return ingestRequest{Events: batch.Events, BatchID: batch.BatchID}, nil
	}

	var e models.TelemetryEvent
	if err := strictUnmarshal(body, &e); err != nil {
		return ingestRequest{}, errMalformedEvent
	}
	return ingestRequest{Events: []models.TelemetryEvent{e}, Single: true}, nil
}

// strictUnmarshal keeps metadata numbers as json.Number so integers survive
// the round trip into storage.
func strictUnmarshal(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

func validateEvent(e models.TelemetryEvent) error {
	if e.EventType == "" {
		return errMissingType
	}
	if e.Timestamp == "" {
		return errMissingTime
	}
	if !e.EventType.IsValid() {
		return fmt.Errorf("%w: %s", errUnknownType, e.EventType)
	}
	return nil
}

func enrich(c *gin.Context, e models.TelemetryEvent, batchID string, received time.Time) models.CollectedEvent {
	md := "{}"
	if len(e.Metadata) > 0 {
		if b, err := json.Marshal(e.Metadata); err == nil {
			md = string(b)
		}
	}
	return models.CollectedEvent{
		EventID:         uuid.NewString(),
		BatchID:         batchID,
		EventType:       string(e.EventType),
		SessionID:       e.SessionID,
		EventNumber:     e.EventNumber,
		SessionDuration: e.SessionDurationMs,
		URL:             e.URL,
		ClientTimestamp: e.Timestamp,
		ReceivedAt:      received,
		SourceIP:        c.ClientIP(),
		UserAgent:       c.Request.UserAgent(),
		Referrer:        c.Request.Referer(),
		Country:         c.GetHeader("CF-IPCountry"),
		Severity:        string(e.Severity),
		SecurityFlags:   strings.Join(e.SecurityFlags, ","),
		Metadata:        md,
	}
}
