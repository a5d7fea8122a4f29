// Package tracker defines the issue tracker contract consumed by the dedup
// cascade and the ticket node, plus a Jira-compatible REST implementation.
package tracker

import (
	"context"

	"github.com/triago-ai/triago/pkg/models"
)

// DefaultMaxResults caps search pages when a query does not set its own.
const DefaultMaxResults = 200

// Query describes a tracker search. Labels are exact AND filters; Text is
// free token matching; WindowDays bounds issue age (0 = unbounded).
type Query struct {
	Labels     []string
	Text       string
	WindowDays int
	MaxResults int
}

// Tracker is the external issue tracker surface the core depends on.
// Create is atomic; AddLabels is idempotent.
type Tracker interface {
	Search(ctx context.Context, q Query) ([]models.Issue, error)
	Create(ctx context.Context, payload models.TicketPayload) (issueKey string, err error)
	AddComment(ctx context.Context, issueKey, body string) error
	AddLabels(ctx context.Context, issueKey string, labels []string) error
}
