// Package store implements the persistent fingerprint store: a single JSON
// document mapping fingerprints to their history and tracker issue key.
// Writes go through temp-file + rename; concurrent processes coordinate
// through a sidecar advisory lock file.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/triago-ai/triago/pkg/models"
)

// staleLockAge is the age past which a leftover lock file from a crashed
// process is stolen.
const staleLockAge = 30 * time.Second

// FingerprintStore owns <cache_dir>/fingerprints/fingerprints.json.
type FingerprintStore struct {
	path     string
	lockPath string
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	records map[string]models.FingerprintRecord
}

// Open loads the store, creating the directory on first run. A corrupt or
// unreadable document is logged and treated as empty; the next write
// recreates it atomically.
func Open(dir string, logger *slog.Logger) (*FingerprintStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fingerprint store directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &FingerprintStore{
		path:     filepath.Join(dir, "fingerprints.json"),
		lockPath: filepath.Join(dir, "fingerprints.lock"),
		logger:   logger.With("component", "fingerprint-store"),
		now:      time.Now,
		records:  make(map[string]models.FingerprintRecord),
	}
	s.load()
	return s, nil
}

func (s *FingerprintStore) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("could not read fingerprint store, starting empty", "path", s.path, "error", err)
		}
		return
	}
	var records map[string]models.FingerprintRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		s.logger.Warn("fingerprint store is corrupt, starting empty", "path", s.path, "error", err)
		return
	}
	s.records = records
}

// Lookup returns the record for a fingerprint.
func (s *FingerprintStore) Lookup(fingerprint string) (models.FingerprintRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[fingerprint]
	return rec, ok
}

// Len returns the number of stored fingerprints.
func (s *FingerprintStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Record inserts or updates a fingerprint and persists the document. The
// issue key, once set, is never cleared by a later update without one.
func (s *FingerprintStore) Record(ctx context.Context, fingerprint, issueKey string) error {
	release, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	now := s.now().UTC()
	rec, ok := s.records[fingerprint]
	if !ok {
		rec = models.FingerprintRecord{FirstSeen: now}
	}
	rec.LastSeen = now
	rec.Occurrences++
	if issueKey != "" {
		rec.IssueKey = issueKey
	}
	s.records[fingerprint] = rec
	raw, err := json.MarshalIndent(s.records, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal fingerprint store: %w", err)
	}

	return s.writeAtomic(raw)
}

func (s *FingerprintStore) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".fingerprints-*")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename store file: %w", err)
	}
	return nil
}

// acquireLock takes the cross-process advisory lock: an O_EXCL sidecar file,
// retried with backoff until the context ends. Locks older than staleLockAge
// are stolen.
func (s *FingerprintStore) acquireLock(ctx context.Context) (func(), error) {
	attempt := func() error {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return backoff.Permanent(fmt.Errorf("create lock file: %w", err))
		}
		if info, statErr := os.Stat(s.lockPath); statErr == nil && s.now().Sub(info.ModTime()) > staleLockAge {
			s.logger.Warn("stealing stale fingerprint store lock", "path", s.lockPath)
			os.Remove(s.lockPath)
		}
		return fmt.Errorf("lock held")
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("acquire fingerprint store lock: %w", err)
	}
	return func() { os.Remove(s.lockPath) }, nil
}
