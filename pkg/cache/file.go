package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// defaultSweepInterval bounds how often Set triggers an expired-entry sweep.
const defaultSweepInterval = 5 * time.Minute

// fileEnvelope is the on-disk representation of one cache entry.
type fileEnvelope struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (e fileEnvelope) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// FileStore keeps one file per key under a directory. Writes are atomic
// (temp file + rename); expired entries are removed lazily on read and by an
// opportunistic sweep on write.
type FileStore struct {
	dir    string
	logger *slog.Logger
	hits   atomic.Uint64
	misses atomic.Uint64
	now    func() time.Time

	mu        sync.Mutex
	lastSweep time.Time
}

// NewFileStore creates (and if needed mkdirs) a file backend rooted at dir.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file cache directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With("component", "file-cache"),
		now:    time.Now,
	}, nil
}

func (s *FileStore) path(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		}
		s.misses.Add(1)
		return nil, false, nil
	}

	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Corrupt entry: drop it rather than fail the caller.
		_ = os.Remove(s.path(key))
		s.misses.Add(1)
		return nil, false, nil
	}
	if env.expired(s.now()) {
		_ = os.Remove(s.path(key))
		s.misses.Add(1)
		return nil, false, nil
	}
	s.hits.Add(1)
	return env.Value, true, nil
}

// Set implements Store.
func (s *FileStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	env := fileEnvelope{Key: key, Value: value}
	if ttl > 0 {
		env.ExpiresAt = s.now().Add(ttl)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := s.writeAtomic(s.path(key), raw); err != nil {
		return err
	}
	s.maybeSweep()
	return nil
}

// writeAtomic writes data to path via a temp file in the same directory plus
// rename, so readers never observe a partial entry.
func (s *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// maybeSweep removes expired entries at most once per sweep interval.
func (s *FileStore) maybeSweep() {
	s.mu.Lock()
	if s.now().Sub(s.lastSweep) < defaultSweepInterval {
		s.mu.Unlock()
		return
	}
	s.lastSweep = s.now()
	s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	now := s.now()
	removed := 0
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, de.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var env fileEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.expired(now) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.logger.Debug("swept expired cache entries", "removed", removed)
	}
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *FileStore) Clear(_ context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("list cache directory: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, de.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear cache entry %s: %w", de.Name(), err)
		}
	}
	return nil
}

// Stats implements Store.
func (s *FileStore) Stats(_ context.Context) Stats {
	size := 0
	if entries, err := os.ReadDir(s.dir); err == nil {
		for _, de := range entries {
			if !de.IsDir() && strings.HasSuffix(de.Name(), ".json") {
				size++
			}
		}
	}
	hits, misses := s.hits.Load(), s.misses.Load()
	return Stats{
		Backend: BackendFile,
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}
