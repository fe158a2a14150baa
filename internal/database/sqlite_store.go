package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Wikid82/warden/internal/models"
)

// SQLiteStore persists key/value pairs in a kv_entries table through gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore migrates the kv_entries table on db and wraps it.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&models.KVEntry{}); err != nil {
		return nil, fmt.Errorf("auto migrate kv entries: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens the SQLite file at path and returns a store on it.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var entry models.KVEntry
	if err := s.db.Where("key = ?", key).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entry.Value, nil
}

func (s *SQLiteStore) Put(key string, value []byte) error {
	entry := models.KVEntry{Key: key, Value: value}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

func (s *SQLiteStore) Delete(key string) error {
	return s.db.Where("key = ?", key).Delete(&models.KVEntry{}).Error
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
