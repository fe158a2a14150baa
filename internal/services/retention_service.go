package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Wikid82/warden/internal/logger"
)

// RetentionService periodically purges stored collector events older than
// the retention period.
type RetentionService struct {
	store *EventStoreService
	days  int
	now   func() time.Time
	cron  *cron.Cron
}

// NewRetentionService schedules the sweep on schedule (standard cron syntax
// or descriptors such as "@daily"). days <= 0 disables purging.
func NewRetentionService(store *EventStoreService, days int, schedule string) (*RetentionService, error) {
	r := &RetentionService{
		store: store,
		days:  days,
		now:   time.Now,
		cron:  cron.New(),
	}
	if _, err := r.cron.AddFunc(schedule, func() { _, _ = r.Run() }); err != nil {
		return nil, fmt.Errorf("schedule retention sweep %q: %w", schedule, err)
	}
	return r, nil
}

// Run performs one sweep and returns the number of deleted events.
func (r *RetentionService) Run() (int64, error) {
	if r.days <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-time.Duration(r.days) * 24 * time.Hour)
	n, err := r.store.PurgeOlderThan(cutoff)
	log := logger.Component("retention").WithField("cutoff", cutoff.Format(time.RFC3339))
	if err != nil {
		log.WithError(err).Error("retention sweep failed")
		return 0, err
	}
	log.WithField("deleted", n).Info("retention sweep finished")
	return n, nil
}

func (r *RetentionService) Start() {
	r.cron.Start()
}

// Stop halts the scheduler; the returned context is done once a running
// sweep finishes.
func (r *RetentionService) Stop() context.Context {
	return r.cron.Stop()
}
