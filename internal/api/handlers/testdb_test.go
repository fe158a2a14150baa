package handlers

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/services"
)

// openTestStore creates an in-memory SQLite event store unique per test.
func openTestStore(t *testing.T) (*services.EventStoreService, *gorm.DB) {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name))
	require.NoError(t, err)
	store, err := services.NewEventStoreService(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store, db
}
