// Package audit appends one JSON line per processed log to the run audit
// file. Every per-log task ends in exactly one audit record; writes never
// fail the pipeline.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/triago-ai/triago/pkg/models"
)

// FileName is the audit log file under the cache directory.
const FileName = "audit_logs.jsonl"

// Sink receives terminal outcomes. Implementations must be safe for
// concurrent use by workers.
type Sink interface {
	Write(rec models.AuditRecord)
}

// FileSink appends UTF-8 JSON lines to <dir>/audit_logs.jsonl. Line order
// reflects arrival order, not wall-clock order across workers.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// NewFileSink opens (creating if needed) the audit file for appending.
func NewFileSink(dir string, logger *slog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{file: f, logger: logger.With("component", "audit")}, nil
}

// Write implements Sink. Failures are logged, never propagated.
func (s *FileSink) Write(rec models.AuditRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("could not marshal audit record", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		s.logger.Error("could not append audit record", "error", err)
	}
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// MemorySink collects records in memory; used in tests and as a default when
// no audit directory is configured.
type MemorySink struct {
	mu      sync.Mutex
	records []models.AuditRecord
}

// NewMemorySink creates an empty collector.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Write implements Sink.
func (s *MemorySink) Write(rec models.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// Records returns a snapshot of everything written so far.
func (s *MemorySink) Records() []models.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditRecord(nil), s.records...)
}

// ByAction filters the snapshot by action.
func (s *MemorySink) ByAction(action models.AuditAction) []models.AuditRecord {
	var out []models.AuditRecord
	for _, rec := range s.Records() {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}
