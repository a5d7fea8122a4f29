package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(10)
	require.NoError(t, err)

	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	val, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), val)

	// Past expiry the entry reads as absent and is removed.
	now = now.Add(2 * time.Minute)
	_, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, store.Stats(ctx).Size)
}

func TestMemoryStoreNoTTL(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(10)
	require.NoError(t, err)

	now := time.Now()
	store.now = func() time.Time { return now }
	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))

	now = now.Add(24 * time.Hour)
	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found, "entries without TTL never expire")
}

func TestMemoryStoreLRUEviction(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0))
	}
	// Touch k0 so k1 becomes least recently used.
	_, _, _ = store.Get(ctx, "k0")
	require.NoError(t, store.Set(ctx, "k3", []byte("v"), 0))

	_, found, _ := store.Get(ctx, "k1")
	assert.False(t, found, "least recently used entry should be evicted")
	_, found, _ = store.Get(ctx, "k0")
	assert.True(t, found)
}

func TestMemoryStoreStats(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(10)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	_, _, _ = store.Get(ctx, "k")
	_, _, _ = store.Get(ctx, "absent")

	stats := store.Stats(ctx)
	assert.Equal(t, BackendMemory, stats.Backend)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "some/key", []byte(`{"a":1}`), time.Hour))

	val, found, err := store.Get(ctx, "some/key")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"a":1}`, string(val))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, de := range entries {
		assert.True(t, filepath.Ext(de.Name()) == ".json", "unexpected file %s", de.Name())
	}
}

func TestFileStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	now := time.Now()
	store.now = func() time.Time { return now }
	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	now = now.Add(2 * time.Minute)
	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, store.Stats(ctx).Size, "expired entry is removed on read")
}

func TestFileStoreCorruptEntry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, os.WriteFile(store.path("k"), []byte("not json"), 0o644))

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "corrupt entry reads as a miss")
	assert.Equal(t, 0, store.Stats(ctx).Size, "corrupt entry is dropped")
}

func TestFileStoreClear(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0))
	}
	require.NoError(t, store.Clear(ctx))
	assert.Equal(t, 0, store.Stats(ctx).Size)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)

	store, err := NewRedisStore(ctx, srv.Addr(), "", 0, "triago", nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	val, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), val)

	// Native TTL: advance miniredis past the expiry.
	srv.FastForward(2 * time.Minute)
	_, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreTransientErrorIsMiss(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)

	store, err := NewRedisStore(ctx, srv.Addr(), "", 0, "triago", nil)
	require.NoError(t, err)
	defer store.Close()

	srv.Close()
	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err, "transient redis errors must not surface")
	assert.False(t, found)
}

func TestRedisStoreClearHonorsPrefix(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)

	store, err := NewRedisStore(ctx, srv.Addr(), "", 0, "triago", nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, srv.Set("other:key", "keep"))

	require.NoError(t, store.Clear(ctx))
	assert.False(t, srv.Exists("triago:k"))
	assert.True(t, srv.Exists("other:key"), "clear must not touch foreign keys")
}

func TestManagerDowngrade(t *testing.T) {
	ctx := context.Background()

	t.Run("distributed falls back to file", func(t *testing.T) {
		store, backend, err := New(ctx, Options{
			Backend:   BackendDistributed,
			RedisAddr: "127.0.0.1:1", // nothing listens here
			FileDir:   t.TempDir(),
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, BackendFile, backend)
		assert.IsType(t, &FileStore{}, store)
	})

	t.Run("file falls back to memory", func(t *testing.T) {
		store, backend, err := New(ctx, Options{Backend: BackendFile}, nil)
		require.NoError(t, err)
		assert.Equal(t, BackendMemory, backend)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("memory is the default", func(t *testing.T) {
		_, backend, err := New(ctx, Options{}, nil)
		require.NoError(t, err)
		assert.Equal(t, BackendMemory, backend)
	})
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(10)
	require.NoError(t, err)

	type payload struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}

	require.NoError(t, SetJSON(ctx, store, "k", payload{Name: "x", Score: 0.9}, time.Minute))

	var out payload
	found, err := GetJSON(ctx, store, "k", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload{Name: "x", Score: 0.9}, out)

	// A corrupt entry is treated as a miss and evicted.
	require.NoError(t, store.Set(ctx, "bad", []byte("{"), time.Minute))
	found, err = GetJSON(ctx, store, "bad", &out)
	require.NoError(t, err)
	assert.False(t, found)
}
