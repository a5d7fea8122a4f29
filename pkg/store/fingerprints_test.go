package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Record(ctx, "abc123def456", "TRI-1"))

	rec, found := s.Lookup("abc123def456")
	require.True(t, found)
	assert.Equal(t, "TRI-1", rec.IssueKey)
	assert.Equal(t, 1, rec.Occurrences)
	assert.False(t, rec.FirstSeen.IsZero())

	// Reopen: the document survives the process.
	s2, err := Open(dir, nil)
	require.NoError(t, err)
	rec2, found := s2.Lookup("abc123def456")
	require.True(t, found)
	assert.Equal(t, "TRI-1", rec2.IssueKey)
}

func TestStoreUpdateKeepsHistory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Record(ctx, "fp1", ""))
	now = now.Add(time.Hour)
	require.NoError(t, s.Record(ctx, "fp1", "TRI-9"))
	now = now.Add(time.Hour)
	require.NoError(t, s.Record(ctx, "fp1", ""))

	rec, found := s.Lookup("fp1")
	require.True(t, found)
	assert.Equal(t, 3, rec.Occurrences)
	assert.Equal(t, "TRI-9", rec.IssueKey, "issue key is never cleared by a later update")
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), rec.FirstSeen)
	assert.Equal(t, now, rec.LastSeen)
}

func TestStoreCorruptionStartsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fingerprints.json"), []byte("{broken"), 0o644))

	s, err := Open(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())

	// Writes recreate the document.
	require.NoError(t, s.Record(ctx, "fp1", ""))
	s2, err := Open(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s2.Len())
}

func TestStoreLockBlocksSecondWriter(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)

	release, err := s.acquireLock(context.Background())
	require.NoError(t, err)

	// A second acquire with a short deadline fails while the lock is held.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = s.acquireLock(ctx)
	require.Error(t, err)

	release()
	release2, err := s.acquireLock(context.Background())
	require.NoError(t, err)
	release2()
}

func TestStoreStealsStaleLock(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.lockPath, []byte("999"), 0o644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(s.lockPath, old, old))

	require.NoError(t, s.Record(ctx, "fp1", ""), "a stale lock must not wedge the store")
}
