package cache

import (
	"context"
	"log/slog"
)

// Options selects and parameterizes the cache backend.
type Options struct {
	Backend        Backend
	MemoryCapacity int
	FileDir        string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
}

// New resolves the configured backend, downgrading along the order
// distributed → file → memory when initialization fails. The chosen backend
// is fixed for the life of the process; there is no mid-run recovery.
func New(ctx context.Context, opts Options, logger *slog.Logger) (Store, Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend := opts.Backend
	if backend == "" {
		backend = BackendMemory
	}

	if backend == BackendDistributed {
		store, err := NewRedisStore(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisKeyPrefix, logger)
		if err == nil {
			return store, BackendDistributed, nil
		}
		logger.Warn("distributed cache unavailable, downgrading to file backend", "error", err)
		backend = BackendFile
	}

	if backend == BackendFile {
		store, err := NewFileStore(opts.FileDir, logger)
		if err == nil {
			return store, BackendFile, nil
		}
		logger.Warn("file cache unavailable, downgrading to memory backend", "error", err)
		backend = BackendMemory
	}

	store, err := NewMemoryStore(opts.MemoryCapacity)
	if err != nil {
		return nil, "", err
	}
	return store, BackendMemory, nil
}
