// Package models holds the shared value types passed between pipeline stages.
package models

import "time"

// Severity is the triage severity of a classified log.
type Severity string

// Severity levels, ordered low < medium < high.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank returns the ordinal position of the severity for comparisons.
// Unknown values rank as medium.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityHigh:
		return 2
	default:
		return 1
	}
}

// Escalate bumps the severity one level, capped at high.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// Valid reports whether s is one of the three recognized levels.
func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// LogRecord is one error log fetched from the log backend. Records are
// immutable once fetched; workers receive them by value.
type LogRecord struct {
	Logger      string    `json:"logger"`
	Thread      string    `json:"thread,omitempty"`
	Message     string    `json:"message"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Env         string    `json:"env"`
	Occurrences int       `json:"occurrences"`
	// Link is a deep link back to the log in the aggregation backend, when
	// the backend provides one.
	Link string `json:"link,omitempty"`
}

// ClassificationSource records which analyzer produced a classification.
type ClassificationSource string

// Classification sources.
const (
	SourceLLM      ClassificationSource = "llm"
	SourceFallback ClassificationSource = "fallback"
)

// Classification is the structured output of the analysis node.
type Classification struct {
	ErrorType         string               `json:"error_type" validate:"required"`
	CreateTicket      bool                 `json:"create_ticket"`
	TicketTitle       string               `json:"ticket_title" validate:"required_if=CreateTicket true"`
	TicketDescription string               `json:"ticket_description" validate:"required_if=CreateTicket true"`
	Severity          Severity             `json:"severity" validate:"required"`
	Confidence        float64              `json:"confidence,omitempty"`
	Source            ClassificationSource `json:"-"`
}

// Issue is the tracker-side view of an existing ticket, as returned by search.
type Issue struct {
	Key         string   `json:"key"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Status      string   `json:"status"`
}

// HasLabel reports whether the issue carries the given label.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// TicketPayload is the fully built creation request for the tracker.
type TicketPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Priority    string   `json:"priority"`
}

// FingerprintRecord is one entry of the persistent fingerprint store.
type FingerprintRecord struct {
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Occurrences int       `json:"occurrences"`
	IssueKey    string    `json:"issue_key,omitempty"`
}
