// Package dedup implements the chain of equivalence checks that decides
// whether a classified log already has a ticket. Strategies are ordered by
// cost; the orchestrator stops at the first duplicate verdict.
package dedup

import (
	"context"
	"log/slog"
	"strings"

	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/normalize"
	"github.com/triago-ai/triago/pkg/similarity"
	"github.com/triago-ai/triago/pkg/store"
	"github.com/triago-ai/triago/pkg/tracker"
)

// Stable strategy names, reported in dedup results and audit records.
const (
	StrategyInMemorySeenLogs     = "in_memory_seen_logs"
	StrategyFingerprintCache     = "fingerprint_cache"
	StrategyLoghashLabelSearch   = "loghash_label_search"
	StrategyErrorTypeLabelSearch = "error_type_label_search"
	StrategySimilaritySearch     = "similarity_search"
)

// Candidate carries everything a strategy may need. Pre-analysis checks use
// only Loghash; the classification-derived fields are filled afterwards.
type Candidate struct {
	Log           models.LogRecord
	Loghash       string
	Fingerprint   string
	ErrorType     string
	Title         string
	Description   string
	NormalizedLog string
}

// RunState is the slice of per-run state strategy 1 reads. The pipeline's
// run state satisfies it.
type RunState interface {
	SeenLoghash(loghash string) bool
}

// Strategy is one equivalence check in the cascade. A transient error must
// not mask later strategies; the orchestrator logs it and moves on.
type Strategy interface {
	Name() string
	Check(ctx context.Context, c Candidate) (models.DedupResult, error)
}

// Options bounds the tracker queries issued by the search strategies.
type Options struct {
	SearchWindowDays int
	SearchMaxResults int
}

// InMemorySeenLogs reports logs whose loghash was already handled in this
// run. It is the only strategy that runs before analysis.
type InMemorySeenLogs struct {
	state RunState
}

// NewInMemorySeenLogs builds the pre-analysis strategy.
func NewInMemorySeenLogs(state RunState) *InMemorySeenLogs {
	return &InMemorySeenLogs{state: state}
}

func (s *InMemorySeenLogs) Name() string { return StrategyInMemorySeenLogs }

func (s *InMemorySeenLogs) Check(_ context.Context, c Candidate) (models.DedupResult, error) {
	if s.state.SeenLoghash(c.Loghash) {
		return models.DedupResult{
			Kind:     models.DedupInRun,
			Strategy: s.Name(),
			Source:   models.FingerprintSourceLocal,
		}, nil
	}
	return models.Unique(s.Name()), nil
}

// FingerprintCache checks the persistent fingerprint store.
type FingerprintCache struct {
	store *store.FingerprintStore
}

// NewFingerprintCache builds the persistent-store strategy.
func NewFingerprintCache(fps *store.FingerprintStore) *FingerprintCache {
	return &FingerprintCache{store: fps}
}

func (s *FingerprintCache) Name() string { return StrategyFingerprintCache }

func (s *FingerprintCache) Check(_ context.Context, c Candidate) (models.DedupResult, error) {
	rec, ok := s.store.Lookup(c.Fingerprint)
	if !ok {
		return models.Unique(s.Name()), nil
	}
	return models.DedupResult{
		Kind:     models.DedupByFingerprint,
		Strategy: s.Name(),
		IssueKey: rec.IssueKey,
		Source:   models.FingerprintSourcePersistent,
	}, nil
}

// LoghashLabelSearch queries the tracker for an exact loghash label match.
type LoghashLabelSearch struct {
	tracker tracker.Tracker
	opts    Options
}

// NewLoghashLabelSearch builds the loghash-label strategy.
func NewLoghashLabelSearch(t tracker.Tracker, opts Options) *LoghashLabelSearch {
	return &LoghashLabelSearch{tracker: t, opts: opts}
}

func (s *LoghashLabelSearch) Name() string { return StrategyLoghashLabelSearch }

func (s *LoghashLabelSearch) Check(ctx context.Context, c Candidate) (models.DedupResult, error) {
	issues, err := s.tracker.Search(ctx, tracker.Query{
		Labels:     []string{models.LoghashLabel(c.Loghash)},
		WindowDays: s.opts.SearchWindowDays,
		MaxResults: 1,
	})
	if err != nil {
		return models.Unique(s.Name()), err
	}
	if len(issues) == 0 {
		return models.Unique(s.Name()), nil
	}
	return models.DedupResult{
		Kind:     models.DedupByLoghashLabel,
		Strategy: s.Name(),
		IssueKey: issues[0].Key,
	}, nil
}

// ErrorTypeLabelSearch narrows candidates by error-type label and lets the
// similarity engine decide.
type ErrorTypeLabelSearch struct {
	tracker tracker.Tracker
	engine  *similarity.Engine
	opts    Options
}

// NewErrorTypeLabelSearch builds the error-type-label strategy.
func NewErrorTypeLabelSearch(t tracker.Tracker, eng *similarity.Engine, opts Options) *ErrorTypeLabelSearch {
	return &ErrorTypeLabelSearch{tracker: t, engine: eng, opts: opts}
}

func (s *ErrorTypeLabelSearch) Name() string { return StrategyErrorTypeLabelSearch }

func (s *ErrorTypeLabelSearch) Check(ctx context.Context, c Candidate) (models.DedupResult, error) {
	if c.ErrorType == "" {
		return models.Unique(s.Name()), nil
	}
	issues, err := s.tracker.Search(ctx, tracker.Query{
		Labels:     []string{models.ErrorTypeLabel(c.ErrorType)},
		WindowDays: s.opts.SearchWindowDays,
		MaxResults: s.opts.SearchMaxResults,
	})
	if err != nil {
		return models.Unique(s.Name()), err
	}
	match, ok := s.engine.BestMatch(ctx, similarityQuery(c), issues)
	if !ok {
		return models.Unique(s.Name()), nil
	}
	return models.DedupResult{
		Kind:     models.DedupByErrorTypeLabel,
		Strategy: s.Name(),
		IssueKey: match.IssueKey,
		Score:    match.Score,
	}, nil
}

// SimilaritySearch is the broadest and most expensive check: a free-text
// tracker query on the title's tokens scored by the similarity engine.
type SimilaritySearch struct {
	tracker tracker.Tracker
	engine  *similarity.Engine
	opts    Options
}

// NewSimilaritySearch builds the free-text similarity strategy.
func NewSimilaritySearch(t tracker.Tracker, eng *similarity.Engine, opts Options) *SimilaritySearch {
	return &SimilaritySearch{tracker: t, engine: eng, opts: opts}
}

func (s *SimilaritySearch) Name() string { return StrategySimilaritySearch }

func (s *SimilaritySearch) Check(ctx context.Context, c Candidate) (models.DedupResult, error) {
	text := strings.Join(normalize.Tokens(normalize.Normalize(c.Title)), " ")
	if text == "" {
		return models.Unique(s.Name()), nil
	}
	issues, err := s.tracker.Search(ctx, tracker.Query{
		Text:       text,
		WindowDays: s.opts.SearchWindowDays,
		MaxResults: s.opts.SearchMaxResults,
	})
	if err != nil {
		return models.Unique(s.Name()), err
	}
	match, ok := s.engine.BestMatch(ctx, similarityQuery(c), issues)
	if !ok {
		return models.Unique(s.Name()), nil
	}
	return models.DedupResult{
		Kind:     models.DedupBySimilarity,
		Strategy: s.Name(),
		IssueKey: match.IssueKey,
		Score:    match.Score,
	}, nil
}

func similarityQuery(c Candidate) similarity.Query {
	return similarity.Query{
		Title:         c.Title,
		Description:   c.Description,
		ErrorType:     c.ErrorType,
		Logger:        c.Log.Logger,
		NormalizedLog: c.NormalizedLog,
	}
}

// Orchestrator runs strategies in fixed order; the first duplicate verdict
// wins.
type Orchestrator struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewOrchestrator assembles a cascade from explicit strategies.
func NewOrchestrator(strategies []Strategy, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		strategies: strategies,
		logger:     logger.With("component", "dedup"),
	}
}

// NewCascade assembles the post-analysis cascade (fingerprint store, loghash
// label, error-type label, similarity search) in cost order.
func NewCascade(fps *store.FingerprintStore, t tracker.Tracker, eng *similarity.Engine, opts Options, logger *slog.Logger) *Orchestrator {
	return NewOrchestrator([]Strategy{
		NewFingerprintCache(fps),
		NewLoghashLabelSearch(t, opts),
		NewErrorTypeLabelSearch(t, eng, opts),
		NewSimilaritySearch(t, eng, opts),
	}, logger)
}

// Check iterates the cascade. A strategy error is logged as a warning and
// treated as Unique so it cannot mask cheaper later checks; cancellation of
// ctx aborts the cascade and is returned to the caller.
func (o *Orchestrator) Check(ctx context.Context, c Candidate) (models.DedupResult, error) {
	for _, s := range o.strategies {
		if err := ctx.Err(); err != nil {
			return models.Unique(""), err
		}
		res, err := s.Check(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return models.Unique(""), ctx.Err()
			}
			o.logger.Warn("dedup strategy failed, continuing",
				"strategy", s.Name(), "fingerprint", c.Fingerprint, "error", err)
			continue
		}
		if res.IsDuplicate() {
			o.logger.Info("duplicate detected",
				"strategy", s.Name(), "issue", res.IssueKey, "fingerprint", c.Fingerprint)
			return res, nil
		}
	}
	return models.Unique(""), nil
}
