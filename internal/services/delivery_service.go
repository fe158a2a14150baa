package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Wikid82/warden/internal/clock"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/models"
)

// Transport ships batches to the collector.
type Transport interface {
	// Send is the retryable path: one delivery attempt whose failure the
	// caller may requeue.
	Send(ctx context.Context, batch models.Batch) error
	// Beacon is the best-effort path used on unload. It must not block,
	// nobody waits for its response and it is never retried.
	Beacon(batch models.Batch)
}

// DeliveryConfig controls batching and requeue behaviour.
type DeliveryConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	RequeueCeiling int
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		BatchSize:      10,
		FlushInterval:  30 * time.Second,
		RequeueCeiling: 100,
	}
}

// DeliveryService buffers telemetry events and flushes them in batches on a
// size trigger, a single outstanding timer, or unload. Failed batches below
// RequeueCeiling are put back at the front of the queue.
type DeliveryService struct {
	cfg       DeliveryConfig
	transport Transport
	clock     clock.Clock

	mu       sync.Mutex
	queue    []models.TelemetryEvent
	timer    clock.Timer
	timerGen uint64

	inflight   sync.WaitGroup
	newBatchID func() string
}

func NewDeliveryService(cfg DeliveryConfig, transport Transport, clk clock.Clock) *DeliveryService {
	return &DeliveryService{
		cfg:        cfg,
		transport:  transport,
		clock:      clk,
		newBatchID: uuid.NewString,
	}
}

// Enqueue appends e. Reaching BatchSize cancels the timer and hands the
// whole queue to an asynchronous send before Enqueue returns; otherwise the
// flush timer is armed if it is not already.
func (d *DeliveryService) Enqueue(e models.TelemetryEvent) {
	d.mu.Lock()
	d.queue = append(d.queue, e)
	if len(d.queue) >= d.cfg.BatchSize {
		d.stopTimerLocked()
		events := d.takeLocked()
		d.mu.Unlock()

		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			_ = d.deliver(context.Background(), events, "size")
		}()
		return
	}
	d.scheduleLocked()
	d.mu.Unlock()
}

// Flush sends whatever is queued right now and returns the delivery error.
// The error is informational; failed events have already been requeued or
// dropped.
func (d *DeliveryService) Flush(ctx context.Context) error {
	d.mu.Lock()
	d.stopTimerLocked()
	events := d.takeLocked()
	d.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	return d.deliver(ctx, events, "manual")
}

// Unload hands every queued event to the best-effort beacon transport.
func (d *DeliveryService) Unload() {
	d.mu.Lock()
	d.stopTimerLocked()
	events := d.takeLocked()
	d.mu.Unlock()

	if len(events) == 0 {
		return
	}
	batch := models.Batch{Events: events, BatchID: d.newBatchID()}
	d.transport.Beacon(batch)
	metrics.IncBatch("beacon")
	logger.Component("delivery").WithFields(map[string]interface{}{
		"batch_id": batch.BatchID,
		"events":   len(events),
	}).Info("unload beacon sent")
}

// Len is the number of queued events.
func (d *DeliveryService) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Pending returns a copy of the queue in delivery order.
func (d *DeliveryService) Pending() []models.TelemetryEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.TelemetryEvent, len(d.queue))
	copy(out, d.queue)
	return out
}

// TimerPending reports whether a flush timer is outstanding.
func (d *DeliveryService) TimerPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Wait blocks until size- and timer-triggered sends already started have
// finished.
func (d *DeliveryService) Wait() {
	d.inflight.Wait()
}

// WaitTimeout is Wait bounded by timeout. It reports whether every send
// finished in time.
func (d *DeliveryService) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// takeLocked snapshots and clears the queue. Must be called with d.mu held.
func (d *DeliveryService) takeLocked() []models.TelemetryEvent {
	events := d.queue
	d.queue = nil
	return events
}

func (d *DeliveryService) scheduleLocked() {
	if d.timer != nil || len(d.queue) == 0 {
		return
	}
	d.timerGen++
	gen := d.timerGen
	d.timer = d.clock.AfterFunc(d.cfg.FlushInterval, func() { d.onTimer(gen) })
}

func (d *DeliveryService) stopTimerLocked() {
	if d.timer == nil {
		return
	}
	d.timer.Stop()
	d.timer = nil
	d.timerGen++
}

func (d *DeliveryService) onTimer(gen uint64) {
	d.mu.Lock()
	if gen != d.timerGen || d.timer == nil {
		// preempted by a size-triggered flush or an unload
		d.mu.Unlock()
		return
	}
	d.timer = nil
	events := d.takeLocked()
	if len(events) == 0 {
		d.mu.Unlock()
		return
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	defer d.inflight.Done()
	_ = d.deliver(context.Background(), events, "timer")
}

// deliver makes one send attempt. On failure the events go back to the front
// of the queue, ahead of anything enqueued meanwhile, unless the batch has
// reached RequeueCeiling, in which case it is dropped. Concurrent failed
// batches are requeued in the order their sends complete, so the batch that
// fails last ends up first.
func (d *DeliveryService) deliver(ctx context.Context, events []models.TelemetryEvent, trigger string) error {
	batch := models.Batch{Events: events, BatchID: d.newBatchID()}
	log := logger.Component("delivery").WithFields(map[string]interface{}{
		"batch_id": batch.BatchID,
		"events":   len(events),
		"trigger":  trigger,
	})

	err := d.transport.Send(ctx, batch)
	if err == nil {
		metrics.IncBatch("sent")
		log.Debug("batch delivered")
		return nil
	}

	if len(events) >= d.cfg.RequeueCeiling {
		metrics.IncBatch("dropped")
		log.WithError(err).Warn("batch delivery failed, batch at requeue ceiling dropped")
		return err
	}

	d.mu.Lock()
	requeued := make([]models.TelemetryEvent, 0, len(events)+len(d.queue))
	requeued = append(requeued, events...)
	requeued = append(requeued, d.queue...)
	d.queue = requeued
	d.scheduleLocked()
	d.mu.Unlock()

	metrics.IncBatch("requeued")
	log.WithError(err).Warn("batch delivery failed, events requeued")
	return err
}
