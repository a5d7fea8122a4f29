package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triago-ai/triago/pkg/audit"
	"github.com/triago-ai/triago/pkg/dedup"
	"github.com/triago-ai/triago/pkg/logsource"
	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/normalize"
	"github.com/triago-ai/triago/pkg/similarity"
	"github.com/triago-ai/triago/pkg/store"
	"github.com/triago-ai/triago/pkg/ticket"
	"github.com/triago-ai/triago/pkg/tracker/trackertest"
)

type fakeSource struct {
	logs []models.LogRecord
	err  error
}

func (f *fakeSource) FetchLogs(ctx context.Context, _ logsource.Query) ([]models.LogRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.logs, nil
}

type fakeAnalyzer struct {
	fn func(ctx context.Context, log models.LogRecord) (models.Classification, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, log models.LogRecord) (models.Classification, error) {
	return f.fn(ctx, log)
}

// actionableAnalyzer classifies every log as a ticket-worthy error, with
// the title taken from the message.
func actionableAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{fn: func(_ context.Context, log models.LogRecord) (models.Classification, error) {
		return models.Classification{
			ErrorType:         "application-error",
			CreateTicket:      true,
			TicketTitle:       strings.ToUpper(log.Message[:1]) + log.Message[1:],
			TicketDescription: "## Problem\n" + log.Message,
			Severity:          models.SeverityHigh,
			Confidence:        0.9,
			Source:            models.SourceLLM,
		}, nil
	}}
}

type harness struct {
	pipe *Pipeline
	fake *trackertest.Fake
	sink *audit.MemorySink
}

func newHarness(t *testing.T, src logsource.Source, an Analyzer, opts Options) *harness {
	t.Helper()
	fake := trackertest.New()
	fps, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	eng := similarity.NewEngine(similarity.Config{}, nil, nil)
	cascade := dedup.NewCascade(fps, fake, eng, dedup.Options{SearchWindowDays: 30, SearchMaxResults: 50}, nil)
	sink := audit.NewMemorySink()
	node := ticket.NewNode(fake, cascade, fps, sink, ticket.Options{AutoCreate: true}, nil)
	if opts.RatePerSecond == 0 {
		opts.RatePerSecond = 1000 // keep tests fast
	}
	return &harness{
		pipe: New(src, an, node, sink, nil, opts, nil),
		fake: fake,
		sink: sink,
	}
}

func TestRunCreatesTicketForUniqueLog(t *testing.T) {
	src := &fakeSource{logs: []models.LogRecord{
		{Message: "payment gateway rejected settlement batch", Service: "billing", Env: "production"},
	}}
	h := newHarness(t, src, actionableAnalyzer(), Options{Service: "billing", Env: "production", MaxTicketsPerRun: 5})

	summary, err := h.pipe.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Stats.LogsFetched)
	assert.Equal(t, int64(1), summary.Stats.TicketsCreated)
	assert.Equal(t, 1, h.fake.Created())
	require.Len(t, h.sink.ByAction(models.ActionCreate), 1)
}

func TestRunExactInRunDuplicate(t *testing.T) {
	log := models.LogRecord{Message: "query timed out after 30s", Service: "orders", Env: "production"}
	src := &fakeSource{logs: []models.LogRecord{log, log}}
	// One worker makes the second log hit the pre-analysis in-memory check.
	h := newHarness(t, src, actionableAnalyzer(), Options{Service: "orders", Workers: 1, MaxTicketsPerRun: 5})

	summary, err := h.pipe.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Stats.TicketsCreated)
	assert.Equal(t, int64(1), summary.Stats.InRunDuplicates)
	assert.Equal(t, 1, h.fake.Created())
}

func TestRunCapUnderConcurrency(t *testing.T) {
	messages := []string{
		"payment gateway rejected settlement batch",
		"disk usage exceeded ninety percent on node",
		"kafka consumer lag rising for billing topic",
		"tls certificate expiring for ingress endpoint",
		"out of memory killed worker process",
		"dns resolution failed for upstream registry",
		"migration script aborted with checksum mismatch",
		"rate limit exceeded calling partner api",
		"serialization failure decoding event envelope",
		"null reference dereference in cart handler",
	}
	logs := make([]models.LogRecord, 0, len(messages))
	for _, m := range messages {
		logs = append(logs, models.LogRecord{Message: m, Service: "orders", Env: "production"})
	}

	// Give every log a distinct error type so no dedup strategy can group
	// them; only the cap limits creation.
	kinds := make(map[string]string, len(messages))
	for i, m := range messages {
		kinds[m] = fmt.Sprintf("error-kind-%d", i)
	}
	an := &fakeAnalyzer{fn: func(_ context.Context, log models.LogRecord) (models.Classification, error) {
		return models.Classification{
			ErrorType:         kinds[log.Message],
			CreateTicket:      true,
			TicketTitle:       log.Message,
			TicketDescription: log.Message,
			Severity:          models.SeverityHigh,
			Source:            models.SourceLLM,
		}, nil
	}}

	h := newHarness(t, &fakeSource{logs: logs}, an, Options{
		Service:          "orders",
		Workers:          5,
		MaxTicketsPerRun: 3,
	})

	summary, err := h.pipe.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Stats.TicketsCreated)
	assert.Equal(t, int64(7), summary.Stats.CapsHit)
	assert.Equal(t, 3, h.fake.Created())
	assert.Len(t, h.sink.ByAction(models.ActionCreate), 3)
	assert.Len(t, h.sink.ByAction(models.ActionCap), 7)
}

func TestRunNotActionableCreatesNothing(t *testing.T) {
	an := &fakeAnalyzer{fn: func(_ context.Context, log models.LogRecord) (models.Classification, error) {
		return models.Classification{
			ErrorType: "noise",
			Severity:  models.SeverityLow,
			Source:    models.SourceLLM,
		}, nil
	}}
	src := &fakeSource{logs: []models.LogRecord{
		{Message: "harmless retry succeeded", Service: "orders"},
	}}
	h := newHarness(t, src, an, Options{Service: "orders", MaxTicketsPerRun: 5})

	summary, err := h.pipe.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), summary.Stats.TicketsCreated)
	assert.Equal(t, 0, h.fake.Created())
	skips := h.sink.ByAction(models.ActionSkip)
	require.Len(t, skips, 1)
	assert.Equal(t, ticket.ReasonNotActionable, skips[0].Reason)
}

func TestRunTaskTimeout(t *testing.T) {
	an := &fakeAnalyzer{fn: func(ctx context.Context, _ models.LogRecord) (models.Classification, error) {
		<-ctx.Done()
		return models.Classification{}, ctx.Err()
	}}
	src := &fakeSource{logs: []models.LogRecord{
		{Message: "slow analysis target", Service: "orders"},
	}}
	h := newHarness(t, src, an, Options{Service: "orders", TaskTimeout: 20 * time.Millisecond, MaxTicketsPerRun: 5})

	summary, err := h.pipe.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), summary.Stats.TicketsCreated)
	skips := h.sink.ByAction(models.ActionSkip)
	require.Len(t, skips, 1)
	assert.Equal(t, "timeout", skips[0].Reason)
	assert.Equal(t, normalize.Loghash("slow analysis target"), skips[0].Loghash)
}

func TestRunPanicIsolation(t *testing.T) {
	an := &fakeAnalyzer{fn: func(_ context.Context, log models.LogRecord) (models.Classification, error) {
		if strings.Contains(log.Message, "poison") {
			panic("boom")
		}
		return models.Classification{
			ErrorType:         "application-error",
			CreateTicket:      true,
			TicketTitle:       log.Message,
			TicketDescription: log.Message,
			Severity:          models.SeverityHigh,
			Source:            models.SourceLLM,
		}, nil
	}}
	src := &fakeSource{logs: []models.LogRecord{
		{Message: "poison pill record", Service: "orders"},
		{Message: "disk usage exceeded ninety percent", Service: "orders"},
	}}
	h := newHarness(t, src, an, Options{Service: "orders", Workers: 1, MaxTicketsPerRun: 5})

	summary, err := h.pipe.Run(context.Background())
	require.NoError(t, err)

	// The panicking task is contained; its peer still creates a ticket.
	assert.Equal(t, int64(1), summary.Stats.TicketsCreated)
	assert.Equal(t, int64(1), summary.Stats.Errors)
	errs := h.sink.ByAction(models.ActionError)
	require.Len(t, errs, 1)
	assert.Equal(t, "panic", errs[0].Reason)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{logs: []models.LogRecord{{Message: "whatever", Service: "orders"}}}
	h := newHarness(t, src, actionableAnalyzer(), Options{Service: "orders", MaxTicketsPerRun: 5})

	_, err := h.pipe.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, h.fake.Created())
}

func TestRunFetchError(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("backend unavailable")}
	h := newHarness(t, src, actionableAnalyzer(), Options{Service: "orders"})

	_, err := h.pipe.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")
}

func TestStatisticsApply(t *testing.T) {
	var s Statistics
	s.Apply(ticket.Outcome{Action: models.ActionCreate})
	s.Apply(ticket.Outcome{Action: models.ActionComment, Commented: true,
		Dedup: models.DedupResult{Kind: models.DedupByLoghashLabel, Strategy: dedup.StrategyLoghashLabelSearch}})
	s.Apply(ticket.Outcome{Action: models.ActionSkip,
		Dedup: models.DedupResult{Kind: models.DedupByFingerprint, Strategy: dedup.StrategyFingerprintCache}})
	s.Apply(ticket.Outcome{Action: models.ActionCap})
	s.Apply(ticket.Outcome{Action: models.ActionError})

	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap.TicketsCreated)
	assert.Equal(t, int64(1), snap.CommentsAdded)
	assert.Equal(t, int64(1), snap.LoghashMatches)
	assert.Equal(t, int64(1), snap.PersistentDuplicates)
	assert.Equal(t, int64(1), snap.CapsHit)
	assert.Equal(t, int64(1), snap.Errors)
}

func TestRunStateReservation(t *testing.T) {
	s := NewRunState(1)

	require.Equal(t, ticket.Reserved, s.Reserve("lh-1", "fp-1"))
	assert.Equal(t, ticket.ReserveDuplicate, s.Reserve("lh-1", "fp-1"))
	assert.Equal(t, ticket.ReserveCapExhausted, s.Reserve("lh-2", "fp-2"))
	assert.True(t, s.SeenLoghash("lh-1"))

	s.Release("lh-1", "fp-1")
	assert.False(t, s.SeenLoghash("lh-1"))
	assert.Equal(t, ticket.Reserved, s.Reserve("lh-2", "fp-2"))
}

func TestRunStateCommentCooldown(t *testing.T) {
	s := NewRunState(5)
	now := time.Now()
	s.now = func() time.Time { return now }

	// Checking alone never starts the window; only a landed comment does.
	assert.True(t, s.CommentAllowed("fp", time.Hour))
	assert.True(t, s.CommentAllowed("fp", time.Hour))

	s.MarkCommented("fp")
	assert.False(t, s.CommentAllowed("fp", time.Hour))
	assert.True(t, s.CommentAllowed("other", time.Hour))

	now = now.Add(2 * time.Hour)
	assert.True(t, s.CommentAllowed("fp", time.Hour))
}

func TestRunStateZeroCapBlocksCreation(t *testing.T) {
	s := NewRunState(0)

	assert.Equal(t, ticket.ReserveCapExhausted, s.Reserve("lh-1", "fp-1"))
	assert.Equal(t, 0, s.TicketsCreated())
	assert.False(t, s.SeenLoghash("lh-1"))
}

func TestRunZeroCapCreatesNothing(t *testing.T) {
	src := &fakeSource{logs: []models.LogRecord{
		{Message: "payment gateway rejected settlement batch", Service: "billing", Env: "production"},
	}}
	h := newHarness(t, src, actionableAnalyzer(), Options{Service: "billing", MaxTicketsPerRun: 0})

	summary, err := h.pipe.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), summary.Stats.TicketsCreated)
	assert.Equal(t, int64(1), summary.Stats.CapsHit)
	assert.Equal(t, 0, h.fake.Created())
	require.Len(t, h.sink.ByAction(models.ActionCap), 1)
}

func TestRunFractionalRateStillProcesses(t *testing.T) {
	src := &fakeSource{logs: []models.LogRecord{
		{Message: "payment gateway rejected settlement batch", Service: "billing", Env: "production"},
	}}
	h := newHarness(t, src, actionableAnalyzer(), Options{
		Service:          "billing",
		RatePerSecond:    0.5,
		MaxTicketsPerRun: 5,
	})

	summary, err := h.pipe.Run(context.Background())
	require.NoError(t, err)

	// A sub-1/s rate throttles; it must not reject the first wait outright.
	assert.Equal(t, int64(1), summary.Stats.TicketsCreated)
	assert.Empty(t, h.sink.ByAction(models.ActionSkip))
}
