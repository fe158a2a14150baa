package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/Wikid82/warden/internal/clock"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/logger"
)

// HashHistoryLimit caps the persisted digest history.
const HashHistoryLimit = 50

var hashHistoryKey = database.Key("hash", "history")

// HashRecord is one integrity check kept in the history.
type HashRecord struct {
	Source    string `json:"source"`
	Hash      string `json:"hash"`
	Match     bool   `json:"match"`
	Timestamp int64  `json:"timestamp"`
}

// IntegrityService compares document digests against expected values and
// keeps the most recent results.
type IntegrityService struct {
	store database.Store
	clock clock.Clock
	mu    sync.Mutex
}

func NewIntegrityService(store database.Store, clk clock.Clock) *IntegrityService {
	return &IntegrityService{store: store, clock: clk}
}

// Digest returns the hex SHA-256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Verify hashes content, compares it with expectedHex and appends the result
// to the history. An empty expectedHex records the digest without judging it.
func (s *IntegrityService) Verify(source string, content []byte, expectedHex string) (HashRecord, bool) {
	hash := Digest(content)
	match := expectedHex == "" ||
		subtle.ConstantTimeCompare([]byte(hash), []byte(strings.ToLower(expectedHex))) == 1

	rec := HashRecord{
		Source:    source,
		Hash:      hash,
		Match:     match,
		Timestamp: s.clock.Now().UnixMilli(),
	}
	s.append(rec)
	return rec, match
}

// History returns the stored records, oldest first.
func (s *IntegrityService) History() []HashRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, _, err := database.GetJSON[[]HashRecord](s.store, hashHistoryKey)
	if err != nil {
		logger.Component("integrity").WithError(err).Warn("hash history unavailable")
		return nil
	}
	return history
}

func (s *IntegrityService) append(rec HashRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, _, err := database.GetJSON[[]HashRecord](s.store, hashHistoryKey)
	if err != nil {
		logger.Component("integrity").WithError(err).Warn("hash history unreadable, starting over")
		history = nil
	}
	history = append(history, rec)
	if len(history) > HashHistoryLimit {
		history = history[len(history)-HashHistoryLimit:]
	}
	if err := database.PutJSON(s.store, hashHistoryKey, history); err != nil {
		logger.Component("integrity").WithError(err).Warn("failed to persist hash history")
	}
}
