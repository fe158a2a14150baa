package services

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/models"
)

// EventStoreService persists events accepted by the collector.
type EventStoreService struct {
	db *gorm.DB
}

// NewEventStoreService migrates the collected_events table on db.
func NewEventStoreService(db *gorm.DB) (*EventStoreService, error) {
	if err := db.AutoMigrate(&models.CollectedEvent{}); err != nil {
		return nil, fmt.Errorf("auto migrate collected events: %w", err)
	}
	return &EventStoreService{db: db}, nil
}

// Save stores events in one transaction.
func (s *EventStoreService) Save(events []models.CollectedEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&events).Error
	})
}

// Recent returns the newest events first.
func (s *EventStoreService) Recent(limit int) ([]models.CollectedEvent, error) {
	var res []models.CollectedEvent
	q := s.db.Order("received_at desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

func (s *EventStoreService) Count() (int64, error) {
	var n int64
	err := s.db.Model(&models.CollectedEvent{}).Count(&n).Error
	return n, err
}

// PurgeOlderThan deletes events received before cutoff.
func (s *EventStoreService) PurgeOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("received_at < ?", cutoff).Delete(&models.CollectedEvent{})
	return res.RowsAffected, res.Error
}
