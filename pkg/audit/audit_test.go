package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triago-ai/triago/pkg/models"
)

func TestFileSinkAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, nil)
	require.NoError(t, err)

	sink.Write(models.AuditRecord{
		Timestamp:   time.Now().UTC(),
		Service:     "user-service",
		Env:         "prod",
		Fingerprint: "abc123def456",
		Action:      models.ActionCreate,
		IssueKey:    "TRI-1",
		Severity:    models.SeverityHigh,
		ErrorType:   "db-timeout",
		DurationMS:  42,
	})
	sink.Write(models.AuditRecord{Action: models.ActionSkip, Reason: "duplicate"})
	require.NoError(t, sink.Close())

	f, err := os.Open(filepath.Join(dir, FileName))
	require.NoError(t, err)
	defer f.Close()

	var records []models.AuditRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec models.AuditRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), "every line must be valid JSON")
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, models.ActionCreate, records[0].Action)
	assert.Equal(t, "TRI-1", records[0].IssueKey)
	assert.Equal(t, models.ActionSkip, records[1].Action)
}

func TestFileSinkSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewFileSink(dir, nil)
	require.NoError(t, err)
	sink.Write(models.AuditRecord{Action: models.ActionCreate})
	require.NoError(t, sink.Close())

	sink2, err := NewFileSink(dir, nil)
	require.NoError(t, err)
	sink2.Write(models.AuditRecord{Action: models.ActionCap})
	require.NoError(t, sink2.Close())

	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"create"`)
	assert.Contains(t, string(raw), `"cap"`, "append-only across process restarts")
}

func TestFileSinkConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Write(models.AuditRecord{Action: models.ActionSkip})
		}()
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	f, err := os.Open(filepath.Join(dir, FileName))
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec models.AuditRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines++
	}
	assert.Equal(t, 20, lines, "lines must never interleave")
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	sink.Write(models.AuditRecord{Action: models.ActionCreate})
	sink.Write(models.AuditRecord{Action: models.ActionSkip})
	sink.Write(models.AuditRecord{Action: models.ActionSkip})

	assert.Len(t, sink.Records(), 3)
	assert.Len(t, sink.ByAction(models.ActionSkip), 2)
	assert.Len(t, sink.ByAction(models.ActionCap), 0)
}
