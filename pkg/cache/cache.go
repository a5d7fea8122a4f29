// Package cache provides a unified key/value store with TTL semantics and
// three interchangeable backends: in-process LRU memory, local file, and
// Redis. All backends honor the same contract: a read past expiry behaves as
// a miss and removes the entry lazily.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Backend identifies a cache backend implementation.
type Backend string

// Supported backends.
const (
	BackendMemory      Backend = "memory"
	BackendFile        Backend = "file"
	BackendDistributed Backend = "distributed"
)

// Stats is a point-in-time snapshot of backend effectiveness.
type Stats struct {
	Backend Backend `json:"backend"`
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Store is the backend-agnostic cache contract. Keys are opaque strings;
// values are opaque byte slices (callers typically round-trip JSON through
// GetJSON/SetJSON).
type Store interface {
	// Get returns the value for key, or found=false when absent or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key for ttl. A non-positive ttl stores the
	// entry without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key if present.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries owned by this store.
	Clear(ctx context.Context) error

	// Stats returns hit/miss counters and current size.
	Stats(ctx context.Context) Stats
}

// GetJSON reads key and unmarshals it into out. Returns found=false on a
// cache miss; unmarshal failures are treated as a miss so that a corrupt
// entry never breaks a caller.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		_ = s.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON marshals v and stores it under key with ttl.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache value for %q: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}
