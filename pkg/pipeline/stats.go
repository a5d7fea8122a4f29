package pipeline

import (
	"sync/atomic"

	"github.com/triago-ai/triago/pkg/dedup"
	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/ticket"
)

// Statistics aggregates per-run counters. Fields are atomic so workers
// update them without taking the run-state mutex.
type Statistics struct {
	LogsFetched          atomic.Int64
	InRunDuplicates      atomic.Int64
	PersistentDuplicates atomic.Int64
	LoghashMatches       atomic.Int64
	ErrorTypeMatches     atomic.Int64
	SimilarityMatches    atomic.Int64
	TicketsCreated       atomic.Int64
	TicketsSimulated     atomic.Int64
	CommentsAdded        atomic.Int64
	CapsHit              atomic.Int64
	Errors               atomic.Int64
}

// Snapshot is a point-in-time copy of the counters, JSON-ready for the
// stats endpoint and the run summary.
type Snapshot struct {
	LogsFetched          int64 `json:"logs_fetched"`
	InRunDuplicates      int64 `json:"in_run_duplicates"`
	PersistentDuplicates int64 `json:"persistent_duplicates"`
	LoghashMatches       int64 `json:"loghash_matches"`
	ErrorTypeMatches     int64 `json:"errortype_matches"`
	SimilarityMatches    int64 `json:"similarity_matches"`
	TicketsCreated       int64 `json:"tickets_created"`
	TicketsSimulated     int64 `json:"tickets_simulated"`
	CommentsAdded        int64 `json:"comments_added"`
	CapsHit              int64 `json:"caps_hit"`
	Errors               int64 `json:"errors"`
}

// Snapshot copies the current counter values.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		LogsFetched:          s.LogsFetched.Load(),
		InRunDuplicates:      s.InRunDuplicates.Load(),
		PersistentDuplicates: s.PersistentDuplicates.Load(),
		LoghashMatches:       s.LoghashMatches.Load(),
		ErrorTypeMatches:     s.ErrorTypeMatches.Load(),
		SimilarityMatches:    s.SimilarityMatches.Load(),
		TicketsCreated:       s.TicketsCreated.Load(),
		TicketsSimulated:     s.TicketsSimulated.Load(),
		CommentsAdded:        s.CommentsAdded.Load(),
		CapsHit:              s.CapsHit.Load(),
		Errors:               s.Errors.Load(),
	}
}

// Apply folds one per-log outcome into the counters.
func (s *Statistics) Apply(out ticket.Outcome) {
	if out.Commented {
		s.CommentsAdded.Add(1)
	}
	if out.Dedup.IsDuplicate() {
		s.applyDedup(out.Dedup)
	}
	switch out.Action {
	case models.ActionCreate:
		s.TicketsCreated.Add(1)
	case models.ActionSimulate:
		s.TicketsSimulated.Add(1)
	case models.ActionCap:
		s.CapsHit.Add(1)
	case models.ActionError:
		s.Errors.Add(1)
	}
}

func (s *Statistics) applyDedup(res models.DedupResult) {
	switch res.Strategy {
	case dedup.StrategyInMemorySeenLogs:
		s.InRunDuplicates.Add(1)
	case dedup.StrategyFingerprintCache:
		s.PersistentDuplicates.Add(1)
	case dedup.StrategyLoghashLabelSearch:
		s.LoghashMatches.Add(1)
	case dedup.StrategyErrorTypeLabelSearch:
		s.ErrorTypeMatches.Add(1)
	case dedup.StrategySimilaritySearch:
		s.SimilarityMatches.Add(1)
	}
}
