// Package ticket implements the per-log ticketing workflow: validate the
// classification, run the post-analysis dedup cascade, enforce the per-run
// cap, and commit a creation or a comment to the tracker.
package ticket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/triago-ai/triago/pkg/audit"
	"github.com/triago-ai/triago/pkg/dedup"
	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/normalize"
	"github.com/triago-ai/triago/pkg/store"
	"github.com/triago-ai/triago/pkg/tracker"
)

// Skip reasons reported in audit records.
const (
	ReasonNotActionable = "not_actionable"
	ReasonDuplicate     = "duplicate"
	ReasonValidation    = "validation"
	ReasonCapReached    = "cap_reached"
)

// Options controls ticketing behavior for one run.
type Options struct {
	// AutoCreate false puts the node in dry-run: commits are simulated.
	AutoCreate bool
	// PersistOnDryRun keeps writing fingerprints to the persistent store
	// during dry-runs so repeated dry-runs stay idempotent.
	PersistOnDryRun    bool
	CommentOnDuplicate bool
	CommentCooldown    time.Duration
	TitleMaxLen        int
}

// ReserveOutcome is the verdict of the run state's atomic reservation.
type ReserveOutcome int

// Reservation verdicts.
const (
	Reserved ReserveOutcome = iota
	ReserveDuplicate
	ReserveCapExhausted
)

// RunState is the mutable shared state the node reads and updates. All
// methods are safe for concurrent use; the pipeline's run state implements
// them under one mutex.
type RunState interface {
	RunID() string
	// Reserve atomically claims one unit of the per-run ticket cap and
	// marks the loghash and fingerprint as handled. When another worker
	// already reserved the same fingerprint it reports ReserveDuplicate,
	// so at most one ticket is ever created per fingerprint per run.
	Reserve(loghash, fingerprint string) ReserveOutcome
	// Release undoes a reservation after a failed commit.
	Release(loghash, fingerprint string)
	// CommentAllowed reports whether the per-fingerprint comment cooldown
	// has elapsed. It never advances the clock.
	CommentAllowed(fingerprint string, cooldown time.Duration) bool
	// MarkCommented starts the fingerprint's cooldown window. Called only
	// after the tracker confirms the comment, so a failed attempt can be
	// retried on the next occurrence.
	MarkCommented(fingerprint string)
}

// Outcome summarizes what happened to one log, for statistics.
type Outcome struct {
	Action    models.AuditAction
	Reason    string
	Dedup     models.DedupResult
	IssueKey  string
	Commented bool
}

// Node orchestrates steps 2-7 of the per-log workflow. It is stateless
// across calls; all run-scoped state lives in RunState.
type Node struct {
	tracker  tracker.Tracker
	cascade  *dedup.Orchestrator
	fps      *store.FingerprintStore
	sink     audit.Sink
	opts     Options
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewNode builds a ticket node.
func NewNode(t tracker.Tracker, cascade *dedup.Orchestrator, fps *store.FingerprintStore, sink audit.Sink, opts Options, logger *slog.Logger) *Node {
	if opts.TitleMaxLen <= 0 {
		opts.TitleMaxLen = normalize.DefaultTitleMaxLen
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		tracker:  t,
		cascade:  cascade,
		fps:      fps,
		sink:     sink,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "ticket"),
		now:      time.Now,
	}
}

// Process runs one classified log through dedup, cap, and commit. Errors
// from the tracker or store never propagate; they end the log's lifecycle
// with an audit error record.
func (n *Node) Process(ctx context.Context, log models.LogRecord, cls models.Classification, state RunState) Outcome {
	start := n.now()
	normalized := normalize.Normalize(log.Message)
	loghash := normalize.Loghash(log.Message)
	fingerprint := normalize.Fingerprint(cls.ErrorType, normalized)

	emit := func(o Outcome) Outcome {
		n.sink.Write(models.AuditRecord{
			Timestamp:   n.now().UTC(),
			RunID:       state.RunID(),
			Service:     log.Service,
			Env:         log.Env,
			Loghash:     loghash,
			Fingerprint: fingerprint,
			Action:      o.Action,
			Reason:      o.Reason,
			Strategy:    o.Dedup.Strategy,
			IssueKey:    o.IssueKey,
			Severity:    cls.Severity,
			ErrorType:   cls.ErrorType,
			DurationMS:  n.now().Sub(start).Milliseconds(),
		})
		return o
	}

	if err := n.validateClassification(cls); err != nil {
		n.logger.Warn("classification rejected", "fingerprint", fingerprint, "error", err)
		return emit(Outcome{Action: models.ActionError, Reason: ReasonValidation})
	}

	if !cls.CreateTicket {
		return emit(Outcome{Action: models.ActionSkip, Reason: ReasonNotActionable})
	}

	candidate := dedup.Candidate{
		Log:           log,
		Loghash:       loghash,
		Fingerprint:   fingerprint,
		ErrorType:     cls.ErrorType,
		Title:         cls.TicketTitle,
		Description:   cls.TicketDescription,
		NormalizedLog: normalized,
	}
	res, err := n.cascade.Check(ctx, candidate)
	if err != nil {
		// Cancellation mid-cascade: the run is being torn down.
		return emit(Outcome{Action: models.ActionError, Reason: "cancelled"})
	}
	if res.IsDuplicate() {
		return n.handleDuplicate(ctx, emit, log, candidate, res, state)
	}

	switch state.Reserve(loghash, fingerprint) {
	case ReserveDuplicate:
		return emit(Outcome{
			Action: models.ActionSkip,
			Reason: ReasonDuplicate,
			Dedup: models.DedupResult{
				Kind:     models.DedupInRun,
				Strategy: dedup.StrategyInMemorySeenLogs,
				Source:   models.FingerprintSourceLocal,
			},
		})
	case ReserveCapExhausted:
		n.logger.Info("ticket cap reached", "fingerprint", fingerprint)
		return emit(Outcome{Action: models.ActionCap, Reason: ReasonCapReached})
	}

	payload := BuildPayload(log, cls, loghash, fingerprint, n.opts.TitleMaxLen)

	if !n.opts.AutoCreate {
		if n.opts.PersistOnDryRun {
			if err := n.fps.Record(ctx, fingerprint, ""); err != nil {
				n.logger.Warn("dry-run fingerprint persist failed", "fingerprint", fingerprint, "error", err)
			}
		}
		n.logger.Info("dry-run: would create ticket", "title", payload.Title, "fingerprint", fingerprint)
		return emit(Outcome{Action: models.ActionSimulate})
	}

	issueKey, err := n.tracker.Create(ctx, payload)
	if err != nil {
		state.Release(loghash, fingerprint)
		n.logger.Error("ticket creation failed", "fingerprint", fingerprint, "error", err)
		return emit(Outcome{Action: models.ActionError, Reason: fmt.Sprintf("create: %v", err)})
	}

	// Persistent insert strictly after the tracker confirms creation: a
	// crash in between at worst yields one duplicate next run, caught by
	// the loghash label carried on the payload.
	if err := n.fps.Record(ctx, fingerprint, issueKey); err != nil {
		n.logger.Warn("fingerprint persist failed", "fingerprint", fingerprint, "issue", issueKey, "error", err)
	}
	if err := n.tracker.AddLabels(ctx, issueKey, []string{models.LoghashLabel(loghash)}); err != nil {
		n.logger.Warn("loghash label add failed", "issue", issueKey, "error", err)
	}

	n.logger.Info("ticket created", "issue", issueKey, "severity", cls.Severity, "fingerprint", fingerprint)
	return emit(Outcome{Action: models.ActionCreate, IssueKey: issueKey})
}

// handleDuplicate comments on the existing issue (subject to config and the
// per-fingerprint cooldown) and seeds the loghash label so the cheap label
// strategy catches the next occurrence.
func (n *Node) handleDuplicate(ctx context.Context, emit func(Outcome) Outcome, log models.LogRecord, c dedup.Candidate, res models.DedupResult, state RunState) Outcome {
	out := Outcome{Action: models.ActionSkip, Reason: ReasonDuplicate, Dedup: res, IssueKey: res.IssueKey}

	if res.IssueKey == "" {
		return emit(out)
	}

	if n.opts.CommentOnDuplicate && state.CommentAllowed(c.Fingerprint, n.opts.CommentCooldown) {
		if err := n.tracker.AddComment(ctx, res.IssueKey, duplicateComment(log, n.now())); err != nil {
			n.logger.Warn("duplicate comment failed", "issue", res.IssueKey, "error", err)
		} else {
			state.MarkCommented(c.Fingerprint)
			out.Action = models.ActionComment
			out.Commented = true
		}
	}

	if err := n.tracker.AddLabels(ctx, res.IssueKey, []string{models.LoghashLabel(c.Loghash)}); err != nil {
		n.logger.Warn("loghash label seed failed", "issue", res.IssueKey, "error", err)
	}

	return emit(out)
}

func (n *Node) validateClassification(cls models.Classification) error {
	if err := n.validate.Struct(cls); err != nil {
		return err
	}
	if !cls.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", cls.Severity)
	}
	if cls.ErrorType == "" {
		return fmt.Errorf("missing error_type")
	}
	return nil
}
