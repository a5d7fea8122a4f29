// Package logsource fetches error logs from the log-aggregation backend.
package logsource

import (
	"context"
	"time"

	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/normalize"
)

// Query bounds one fetch.
type Query struct {
	Service string
	Env     string
	Window  time.Duration
	Limit   int
	// ExtraFilters are backend-native filter fragments appended verbatim.
	ExtraFilters []string
}

// Source is the log backend surface the pipeline depends on. Returned
// batches are bounded by Query.Limit.
type Source interface {
	FetchLogs(ctx context.Context, q Query) ([]models.LogRecord, error)
}

// CountOccurrences fills each record's Occurrences with the number of logs
// in the batch sharing its loghash, so the analysis prompt can cite how
// often the error fired.
func CountOccurrences(logs []models.LogRecord) []models.LogRecord {
	counts := make(map[string]int, len(logs))
	for _, l := range logs {
		counts[normalize.Loghash(l.Message)]++
	}
	out := make([]models.LogRecord, len(logs))
	for i, l := range logs {
		l.Occurrences = counts[normalize.Loghash(l.Message)]
		out[i] = l
	}
	return out
}
