package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// busyTimeoutMillis bounds how long a writer waits on a lock held by another
// connection (the collector's retention sweep vs. ingest).
const busyTimeoutMillis = 5000

// Open opens the SQLite database at dbPath. File databases run in WAL mode;
// in-memory ones keep the default journal. Connection parameters already in
// dbPath win over these defaults.
func Open(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn(dbPath)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return db, nil
}

// dsn appends driver parameters so that every pooled connection gets them.
func dsn(dbPath string) string {
	params := []string{fmt.Sprintf("_busy_timeout=%d", busyTimeoutMillis)}
	if !inMemory(dbPath) {
		params = append(params, "_journal_mode=WAL")
	}

	out := dbPath
	for _, p := range params {
		name := p[:strings.IndexByte(p, '=')+1]
		if strings.Contains(dbPath, name) {
			continue
		}
		sep := "&"
		if !strings.Contains(out, "?") {
			sep = "?"
		}
		out += sep + p
	}
	return out
}

func inMemory(dbPath string) bool {
	return strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory")
}
