package similarity

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/triago-ai/triago/pkg/cache"
	"github.com/triago-ai/triago/pkg/models"
)

// Score weights and bonuses. Bonuses apply at most once each; the final
// score is capped at 1.0.
const (
	titleWeight = 0.60
	descWeight  = 0.30

	errorTypeBonus    = 0.10
	loggerBonus       = 0.05
	tokenOverlapBonus = 0.05
	partialLogBonus   = 0.05

	tokenOverlapGate = 0.5
)

// Default decision thresholds (overridable via Config).
const (
	DefaultSimilarityThreshold = 0.82
	DefaultDirectLogThreshold  = 0.90
	DefaultPartialLogThreshold = 0.70
	DefaultCacheTTL            = 5 * time.Minute
)

// Config holds the similarity decision gates.
type Config struct {
	SimilarityThreshold float64
	DirectLogThreshold  float64
	PartialLogThreshold float64
	CacheTTL            time.Duration
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.DirectLogThreshold <= 0 {
		c.DirectLogThreshold = DefaultDirectLogThreshold
	}
	if c.PartialLogThreshold <= 0 {
		c.PartialLogThreshold = DefaultPartialLogThreshold
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// Query is the candidate ticket being compared against existing issues.
type Query struct {
	Title         string
	Description   string
	ErrorType     string
	Logger        string
	NormalizedLog string
}

// Match is the best scoring existing issue for a query.
type Match struct {
	IssueKey string  `json:"issue_key"`
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
	// Direct is set when the normalized log embedded in the issue matched
	// the current log above the direct-log threshold (certain duplicate).
	Direct bool `json:"direct"`
}

// cachedResult is the cache envelope; Found=false caches a confirmed no-match.
type cachedResult struct {
	Found bool  `json:"found"`
	Match Match `json:"match"`
}

// Engine scores queries against candidate issues, caching results keyed by
// (title, error_type, logger).
type Engine struct {
	cfg    Config
	cache  cache.Store
	logger *slog.Logger
}

// NewEngine creates a similarity engine. store may be nil to disable caching.
func NewEngine(cfg Config, store cache.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg.withDefaults(),
		cache:  store,
		logger: logger.With("component", "similarity"),
	}
}

// Thresholds returns the effective decision gates.
func (e *Engine) Thresholds() Config { return e.cfg }

// BestMatch returns the best candidate at or above the similarity threshold
// (or a direct-log certain duplicate), with found=false when nothing
// qualifies. Ties on score break to the lexicographically smallest issue key.
func (e *Engine) BestMatch(ctx context.Context, q Query, issues []models.Issue) (Match, bool) {
	key := e.cacheKey(q)
	if e.cache != nil {
		var cached cachedResult
		if hit, _ := cache.GetJSON(ctx, e.cache, key, &cached); hit {
			return cached.Match, cached.Found
		}
	}

	match, found := e.compute(q, issues)

	if e.cache != nil {
		if err := cache.SetJSON(ctx, e.cache, key, cachedResult{Found: found, Match: match}, e.cfg.CacheTTL); err != nil {
			e.logger.Warn("failed to cache similarity result", "error", err)
		}
	}
	return match, found
}

func (e *Engine) compute(q Query, issues []models.Issue) (Match, bool) {
	var best Match
	found := false

	for _, issue := range issues {
		score, direct := e.scoreIssue(q, &issue)
		if !direct && score < e.cfg.SimilarityThreshold {
			continue
		}
		candidate := Match{IssueKey: issue.Key, Title: issue.Title, Score: score, Direct: direct}
		if !found || betterMatch(candidate, best) {
			best = candidate
			found = true
		}
	}
	return best, found
}

// betterMatch orders matches: direct hits first, then score, then the
// lexicographically smallest issue key for determinism.
func betterMatch(a, b Match) bool {
	if a.Direct != b.Direct {
		return a.Direct
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.IssueKey < b.IssueKey
}

// scoreIssue computes the composite score for one candidate issue.
func (e *Engine) scoreIssue(q Query, issue *models.Issue) (score float64, direct bool) {
	// Direct-log check first: the original normalized log embedded in the
	// issue description, compared against the current one.
	if q.NormalizedLog != "" {
		if embedded := ExtractNormalizedLog(issue.Description); embedded != "" {
			if r := TokenSetRatio(q.NormalizedLog, embedded); r >= e.cfg.DirectLogThreshold {
				return r, true
			}
		}
	}

	score = titleWeight*TokenSetRatio(q.Title, issue.Title) +
		descWeight*TokenSetRatio(q.Description, issue.Description)

	if q.ErrorType != "" && models.ErrorTypeFromLabels(issue.Labels) == q.ErrorType {
		score += errorTypeBonus
	}
	if q.Logger != "" && containsFold(issue.Description, q.Logger) {
		score += loggerBonus
	}
	if Jaccard(q.Title, issue.Title) >= tokenOverlapGate {
		score += tokenOverlapBonus
	}
	if q.NormalizedLog != "" && Containment(q.NormalizedLog, issue.Description) >= e.cfg.PartialLogThreshold {
		score += partialLogBonus
	}

	if score > 1 {
		score = 1
	}
	return score, false
}

func (e *Engine) cacheKey(q Query) string {
	sum := sha1.Sum([]byte(q.Title + "|" + q.ErrorType + "|" + q.Logger))
	return "sim:" + hex.EncodeToString(sum[:])
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Normalized-log marker block written into ticket descriptions and parsed
// back out for the direct-log check. Both sides must stay in sync.
const (
	logBlockHeader = "### Normalized Log"
)

var logBlockRe = regexp.MustCompile("(?s)" + regexp.QuoteMeta(logBlockHeader) + "\\s*```\\s*(.*?)\\s*```")

// FormatNormalizedLogBlock renders the marker block embedded in ticket
// descriptions.
func FormatNormalizedLogBlock(normalizedLog string) string {
	return fmt.Sprintf("%s\n```\n%s\n```", logBlockHeader, normalizedLog)
}

// ExtractNormalizedLog pulls the embedded normalized log back out of an issue
// description, or "" when the block is absent.
func ExtractNormalizedLog(description string) string {
	m := logBlockRe.FindStringSubmatch(description)
	if m == nil {
		return ""
	}
	return m[1]
}
