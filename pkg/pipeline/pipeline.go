// Package pipeline runs the per-batch triage loop: fetch error logs,
// classify each one, and route it through dedup and ticketing under a
// bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/triago-ai/triago/pkg/audit"
	"github.com/triago-ai/triago/pkg/dedup"
	"github.com/triago-ai/triago/pkg/logsource"
	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/normalize"
	"github.com/triago-ai/triago/pkg/ticket"
)

// Defaults for the worker pool.
const (
	DefaultWorkers       = 3
	MaxWorkers           = 20
	DefaultRatePerSecond = 10
	DefaultTaskTimeout   = 60 * time.Second
)

// Analyzer classifies one log. Satisfied by analyze.Analyzer; faked in
// tests.
type Analyzer interface {
	Analyze(ctx context.Context, log models.LogRecord) (models.Classification, error)
}

// Options configures one pipeline instance.
type Options struct {
	Service          string
	Env              string
	Window           time.Duration
	FetchLimit       int
	Workers          int
	RatePerSecond    float64
	TaskTimeout      time.Duration
	MaxTicketsPerRun int
	ExtraFilters     []string

	// OnTicketCreated, when set, is invoked after every successful ticket
	// creation. Used to hook up notifications without coupling the
	// pipeline to a delivery mechanism.
	OnTicketCreated func(ctx context.Context, issueKey, title string, severity models.Severity, fingerprint string)
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Workers > MaxWorkers {
		o.Workers = MaxWorkers
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = DefaultRatePerSecond
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = DefaultTaskTimeout
	}
	return o
}

// RunSummary reports one completed run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Service    string    `json:"service"`
	Env        string    `json:"env"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Stats      Snapshot  `json:"stats"`
}

// Pipeline wires the stages together. One Pipeline serves many runs; all
// per-run state lives in RunState.
type Pipeline struct {
	source   logsource.Source
	analyzer Analyzer
	node     *ticket.Node
	sink     audit.Sink
	stats    *Statistics
	metrics  *Metrics
	limiter  *rate.Limiter
	opts     Options
	logger   *slog.Logger
}

// New builds a pipeline. metrics may be nil.
func New(source logsource.Source, analyzer Analyzer, node *ticket.Node, sink audit.Sink, metrics *Metrics, opts Options, logger *slog.Logger) *Pipeline {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	// Fractional rates are legal config; the burst must stay >= 1 or the
	// limiter rejects every wait outright.
	burst := int(math.Ceil(opts.RatePerSecond))
	if burst < 1 {
		burst = 1
	}
	return &Pipeline{
		source:   source,
		analyzer: analyzer,
		node:     node,
		sink:     sink,
		stats:    &Statistics{},
		metrics:  metrics,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst),
		opts:     opts,
		logger:   logger.With("component", "pipeline"),
	}
}

// Stats exposes the cumulative counters for the ops API.
func (p *Pipeline) Stats() Snapshot { return p.stats.Snapshot() }

// Run fetches one batch and processes it to completion. Cancelling ctx
// stops scheduling new tasks; in-flight tasks finish their current external
// call and drain.
func (p *Pipeline) Run(ctx context.Context) (RunSummary, error) {
	started := time.Now()
	state := NewRunState(p.opts.MaxTicketsPerRun)
	logger := p.logger.With("run_id", state.RunID(), "service", p.opts.Service, "env", p.opts.Env)
	logger.Info("run started")

	logs, err := p.source.FetchLogs(ctx, logsource.Query{
		Service:      p.opts.Service,
		Env:          p.opts.Env,
		Window:       p.opts.Window,
		Limit:        p.opts.FetchLimit,
		ExtraFilters: p.opts.ExtraFilters,
	})
	if err != nil {
		return RunSummary{RunID: state.RunID()}, err
	}
	p.stats.LogsFetched.Add(int64(len(logs)))
	p.metrics.observeFetch(len(logs))

	inMemory := dedup.NewInMemorySeenLogs(state)
	sem := semaphore.NewWeighted(int64(p.opts.Workers))
	for _, log := range logs {
		if err := sem.Acquire(ctx, 1); err != nil {
			logger.Warn("run cancelled, draining workers", "error", err)
			break
		}
		go func(l models.LogRecord) {
			defer sem.Release(1)
			p.processLog(ctx, l, state, inMemory)
		}(log)
	}
	// Wait for in-flight tasks even when ctx was cancelled mid-loop.
	_ = sem.Acquire(context.Background(), int64(p.opts.Workers))
	sem.Release(int64(p.opts.Workers))

	p.metrics.observeRun()
	summary := RunSummary{
		RunID:      state.RunID(),
		Service:    p.opts.Service,
		Env:        p.opts.Env,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Stats:      p.stats.Snapshot(),
	}
	logger.Info("run finished",
		"logs", len(logs),
		"tickets_created", summary.Stats.TicketsCreated,
		"comments", summary.Stats.CommentsAdded,
		"errors", summary.Stats.Errors)
	return summary, nil
}

// processLog is one worker task. Panics and errors are contained here so a
// bad log never cancels its peers.
func (p *Pipeline) processLog(ctx context.Context, log models.LogRecord, state *RunState, inMemory *dedup.InMemorySeenLogs) {
	start := time.Now()
	loghash := normalize.Loghash(log.Message)
	defer func() {
		p.metrics.observeTask(time.Since(start))
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "service", log.Service, "panic", r)
			p.stats.Errors.Add(1)
			p.metrics.observeOutcome(false, false, false, true)
			p.writeAudit(state, log, loghash, models.ActionError, "panic", "", start)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.opts.TaskTimeout)
	defer cancel()

	res, _ := inMemory.Check(ctx, dedup.Candidate{Log: log, Loghash: loghash})
	if res.IsDuplicate() {
		p.stats.InRunDuplicates.Add(1)
		p.metrics.observeDedup(res.Strategy)
		p.writeAudit(state, log, loghash, models.ActionSkip, ticket.ReasonDuplicate, res.Strategy, start)
		return
	}

	// LLM and tracker calls share the external-call budget; purely local
	// work is never throttled.
	if err := p.limiter.Wait(ctx); err != nil {
		p.skipTimeout(state, log, loghash, start)
		return
	}
	cls, err := p.analyzer.Analyze(ctx, log)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			p.skipTimeout(state, log, loghash, start)
			return
		}
		p.logger.Error("analysis failed", "service", log.Service, "error", err)
		p.stats.Errors.Add(1)
		p.metrics.observeOutcome(false, false, false, true)
		p.writeAudit(state, log, loghash, models.ActionError, "analysis", "", start)
		return
	}

	out := p.node.Process(ctx, log, cls, state)
	if out.Action == models.ActionCreate && p.opts.OnTicketCreated != nil {
		fingerprint := normalize.Fingerprint(cls.ErrorType, normalize.Normalize(log.Message))
		p.opts.OnTicketCreated(ctx, out.IssueKey, cls.TicketTitle, cls.Severity, fingerprint)
	}
	if out.Dedup.IsDuplicate() {
		// Later identical logs in this run short-circuit pre-analysis.
		state.MarkSeen(loghash)
		p.metrics.observeDedup(out.Dedup.Strategy)
	}
	p.stats.Apply(out)
	p.metrics.observeOutcome(
		out.Action == models.ActionCreate,
		out.Commented,
		out.Action == models.ActionCap,
		out.Action == models.ActionError,
	)
}

func (p *Pipeline) skipTimeout(state *RunState, log models.LogRecord, loghash string, start time.Time) {
	p.logger.Warn("task deadline elapsed", "service", log.Service)
	p.writeAudit(state, log, loghash, models.ActionSkip, "timeout", "", start)
}

// writeAudit covers the outcomes decided inside the pipeline; the ticket
// node audits its own. These records predate classification, so they carry
// the loghash but no fingerprint.
func (p *Pipeline) writeAudit(state *RunState, log models.LogRecord, loghash string, action models.AuditAction, reason, strategy string, start time.Time) {
	p.sink.Write(models.AuditRecord{
		Timestamp:  time.Now().UTC(),
		RunID:      state.RunID(),
		Service:    log.Service,
		Env:        log.Env,
		Loghash:    loghash,
		Action:     action,
		Reason:     reason,
		Strategy:   strategy,
		DurationMS: time.Since(start).Milliseconds(),
	})
}
