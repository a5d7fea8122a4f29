package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/normalize"
	"github.com/triago-ai/triago/pkg/similarity"
	"github.com/triago-ai/triago/pkg/store"
	"github.com/triago-ai/triago/pkg/tracker/trackertest"
)

type fakeState struct {
	seen map[string]bool
}

func (f *fakeState) SeenLoghash(loghash string) bool { return f.seen[loghash] }

func testCandidate() Candidate {
	msg := "Connection refused to database host db-01"
	normalized := normalize.Normalize(msg)
	return Candidate{
		Log:           models.LogRecord{Message: msg, Logger: "com.acme.Db", Service: "orders"},
		Loghash:       normalize.Loghash(msg),
		Fingerprint:   normalize.Fingerprint("database-connection", normalized),
		ErrorType:     "database-connection",
		Title:         "Database connection refused in orders",
		Description:   "connection refused to database host",
		NormalizedLog: normalized,
	}
}

func TestInMemorySeenLogs(t *testing.T) {
	c := testCandidate()
	state := &fakeState{seen: map[string]bool{c.Loghash: true}}

	res, err := NewInMemorySeenLogs(state).Check(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, models.DedupInRun, res.Kind)
	assert.Equal(t, StrategyInMemorySeenLogs, res.Strategy)

	state.seen = nil
	res, err = NewInMemorySeenLogs(state).Check(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate())
}

func TestFingerprintCache(t *testing.T) {
	fps, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	c := testCandidate()

	res, err := NewFingerprintCache(fps).Check(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate())

	require.NoError(t, fps.Record(context.Background(), c.Fingerprint, "TRI-7"))

	res, err = NewFingerprintCache(fps).Check(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, models.DedupByFingerprint, res.Kind)
	assert.Equal(t, "TRI-7", res.IssueKey)
	assert.Equal(t, models.FingerprintSourcePersistent, res.Source)
}

func TestLoghashLabelSearch(t *testing.T) {
	c := testCandidate()
	fake := trackertest.New()
	fake.Seed(models.Issue{
		Key:    "TRI-12",
		Title:  "Database connection refused in orders",
		Labels: []string{models.LoghashLabel(c.Loghash)},
	})

	res, err := NewLoghashLabelSearch(fake, Options{SearchWindowDays: 30}).Check(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, models.DedupByLoghashLabel, res.Kind)
	assert.Equal(t, "TRI-12", res.IssueKey)
}

func TestLoghashLabelSearchMiss(t *testing.T) {
	fake := trackertest.New()
	res, err := NewLoghashLabelSearch(fake, Options{}).Check(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate())
}

func TestErrorTypeLabelSearch(t *testing.T) {
	c := testCandidate()
	eng := similarity.NewEngine(similarity.Config{}, nil, nil)
	fake := trackertest.New()
	fake.Seed(models.Issue{
		Key:         "TRI-20",
		Title:       c.Title,
		Description: c.Description,
		Labels:      []string{models.ErrorTypeLabel(c.ErrorType)},
	})

	res, err := NewErrorTypeLabelSearch(fake, eng, Options{SearchMaxResults: 50}).Check(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, models.DedupByErrorTypeLabel, res.Kind)
	assert.Equal(t, "TRI-20", res.IssueKey)
	assert.GreaterOrEqual(t, res.Score, similarity.DefaultSimilarityThreshold)
}

func TestErrorTypeLabelSearchBelowThreshold(t *testing.T) {
	c := testCandidate()
	eng := similarity.NewEngine(similarity.Config{}, nil, nil)
	fake := trackertest.New()
	fake.Seed(models.Issue{
		Key:         "TRI-21",
		Title:       "Kafka consumer lag rising on billing topic",
		Description: "consumer group falling behind",
		Labels:      []string{models.ErrorTypeLabel(c.ErrorType)},
	})

	res, err := NewErrorTypeLabelSearch(fake, eng, Options{}).Check(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate())
}

func TestSimilaritySearch(t *testing.T) {
	c := testCandidate()
	eng := similarity.NewEngine(similarity.Config{}, nil, nil)
	fake := trackertest.New()
	fake.Seed(models.Issue{
		Key:         "TRI-30",
		Title:       "Database connection refused in orders",
		Description: "connection refused to database host",
	})

	res, err := NewSimilaritySearch(fake, eng, Options{}).Check(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, models.DedupBySimilarity, res.Kind)
	assert.Equal(t, "TRI-30", res.IssueKey)
}

// stub lets orchestrator tests script arbitrary verdicts per strategy.
type stub struct {
	name string
	res  models.DedupResult
	err  error
}

func (s stub) Name() string { return s.name }
func (s stub) Check(context.Context, Candidate) (models.DedupResult, error) {
	return s.res, s.err
}

func TestOrchestratorFirstDuplicateWins(t *testing.T) {
	o := NewOrchestrator([]Strategy{
		stub{name: "a", res: models.Unique("a")},
		stub{name: "b", res: models.DedupResult{Kind: models.DedupByFingerprint, Strategy: "b", IssueKey: "TRI-1"}},
		stub{name: "c", res: models.DedupResult{Kind: models.DedupBySimilarity, Strategy: "c", IssueKey: "TRI-2"}},
	}, nil)

	res, err := o.Check(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, "b", res.Strategy)
	assert.Equal(t, "TRI-1", res.IssueKey)
}

func TestOrchestratorStrategyErrorDoesNotMaskLater(t *testing.T) {
	o := NewOrchestrator([]Strategy{
		stub{name: "flaky", res: models.Unique("flaky"), err: errors.New("tracker 503")},
		stub{name: "hit", res: models.DedupResult{Kind: models.DedupByLoghashLabel, Strategy: "hit", IssueKey: "TRI-9"}},
	}, nil)

	res, err := o.Check(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, models.DedupByLoghashLabel, res.Kind)
	assert.Equal(t, "TRI-9", res.IssueKey)
}

func TestOrchestratorAllUnique(t *testing.T) {
	o := NewOrchestrator([]Strategy{
		stub{name: "a", res: models.Unique("a")},
		stub{name: "b", res: models.Unique("b")},
	}, nil)

	res, err := o.Check(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate())
}

func TestOrchestratorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator([]Strategy{
		stub{name: "hit", res: models.DedupResult{Kind: models.DedupByFingerprint, Strategy: "hit"}},
	}, nil)

	_, err := o.Check(ctx, testCandidate())
	require.ErrorIs(t, err, context.Canceled)
}

func TestCascadeOrder(t *testing.T) {
	fps, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	c := testCandidate()
	require.NoError(t, fps.Record(context.Background(), c.Fingerprint, "TRI-40"))

	fake := trackertest.New()
	fake.Seed(models.Issue{
		Key:    "TRI-41",
		Title:  c.Title,
		Labels: []string{models.LoghashLabel(c.Loghash)},
	})

	eng := similarity.NewEngine(similarity.Config{}, nil, nil)
	o := NewCascade(fps, fake, eng, Options{SearchWindowDays: 30, SearchMaxResults: 50}, nil)

	// The store hit wins before any tracker query is issued.
	res, err := o.Check(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, models.DedupByFingerprint, res.Kind)
	assert.Equal(t, "TRI-40", res.IssueKey)
	assert.Equal(t, 0, fake.SearchCalls)
}
