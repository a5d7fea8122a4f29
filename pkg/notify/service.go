package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/pipeline"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token      string
	Channel    string
	TrackerURL string
}

// TicketCreatedInput contains data for a ticket creation notification.
type TicketCreatedInput struct {
	IssueKey    string
	Title       string
	Severity    models.Severity
	Fingerprint string
}

// Service delivers notifications. Nil-safe: all methods are no-ops on a
// nil receiver, so callers never branch on whether Slack is configured.
type Service struct {
	client     *Client
	trackerURL string
	logger     *slog.Logger
}

// NewService creates a notification service. Returns nil if Token or
// Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:     NewClient(cfg.Token, cfg.Channel),
		trackerURL: cfg.TrackerURL,
		logger:     slog.Default().With("component", "notify"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client, for
// tests.
func NewServiceWithClient(client *Client, trackerURL string) *Service {
	return &Service{
		client:     client,
		trackerURL: trackerURL,
		logger:     slog.Default().With("component", "notify"),
	}
}

// NotifyRunCompleted posts the run summary. Fail-open: errors are logged,
// never returned.
func (s *Service) NotifyRunCompleted(ctx context.Context, summary pipeline.RunSummary) {
	if s == nil {
		return
	}
	blocks := BuildRunSummaryMessage(summary)
	if err := s.client.PostMessage(ctx, blocks, "", 10*time.Second); err != nil {
		s.logger.Error("run summary notification failed",
			"run_id", summary.RunID, "error", err)
	}
}

// NotifyTicketCreated posts a notice for a newly created high-severity
// ticket, threading under an earlier notice for the same fingerprint when
// one exists. Fail-open.
func (s *Service) NotifyTicketCreated(ctx context.Context, input TicketCreatedInput) {
	if s == nil {
		return
	}

	threadTS, err := s.client.FindMessageByFingerprint(ctx, input.Fingerprint)
	if err != nil {
		s.logger.Warn("fingerprint thread lookup failed",
			"fingerprint", input.Fingerprint, "error", err)
	}

	blocks := BuildTicketMessage(input.IssueKey, input.Title, input.Severity, input.Fingerprint, s.trackerURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 5*time.Second); err != nil {
		s.logger.Error("ticket notification failed",
			"issue", input.IssueKey, "error", err)
	}
}
