package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryCapacity bounds the in-process LRU when no capacity is configured.
const DefaultMemoryCapacity = 1000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is a bounded LRU cache with per-entry TTL checked on read.
type MemoryStore struct {
	lru    *lru.Cache[string, memoryEntry]
	hits   atomic.Uint64
	misses atomic.Uint64
	now    func() time.Time
}

// NewMemoryStore creates a memory backend with the given capacity.
// Capacity <= 0 uses DefaultMemoryCapacity.
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	l, err := lru.New[string, memoryEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{lru: l, now: time.Now}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := s.lru.Get(key)
	if !ok {
		s.misses.Add(1)
		return nil, false, nil
	}
	if entry.expired(s.now()) {
		s.lru.Remove(key)
		s.misses.Add(1)
		return nil, false, nil
	}
	s.hits.Add(1)
	return entry.value, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.lru.Add(key, entry)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.lru.Purge()
	return nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) Stats {
	hits, misses := s.hits.Load(), s.misses.Load()
	return Stats{
		Backend: BackendMemory,
		Size:    s.lru.Len(),
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}
