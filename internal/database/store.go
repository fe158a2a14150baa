package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Prefix namespaces every key Warden persists so it can share a store with
// unrelated data.
const Prefix = "warden_"

var ErrNotFound = errors.New("key not found")

// Store is the key/value persistence surface the agent depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	// Delete is a no-op for absent keys.
	Delete(key string) error
	Close() error
}

// Key joins parts under the Warden prefix: Key("ratelimit", "overlay_open")
// yields "warden_ratelimit_overlay_open".
func Key(parts ...string) string {
	return Prefix + strings.Join(parts, "_")
}

// GetJSON decodes the value stored at key into a T. The boolean is false
// when the key is absent.
func GetJSON[T any](s Store, key string) (T, bool, error) {
	var out T
	raw, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return out, false, nil
	}
	if err != nil {
		return out, false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, true, nil
}

// PutJSON encodes v and stores it at key.
func PutJSON(s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Put(key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
