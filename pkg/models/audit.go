package models

import "time"

// AuditAction is the terminal outcome of processing one log.
type AuditAction string

// Audit actions. Every per-log task ends in exactly one of these.
const (
	ActionCreate   AuditAction = "create"
	ActionComment  AuditAction = "comment"
	ActionSkip     AuditAction = "skip"
	ActionSimulate AuditAction = "simulate"
	ActionCap      AuditAction = "cap"
	ActionError    AuditAction = "error"
)

// AuditRecord is one line of the append-only audit log.
type AuditRecord struct {
	Timestamp   time.Time   `json:"timestamp"`
	RunID       string      `json:"run_id,omitempty"`
	Service     string      `json:"service"`
	Env         string      `json:"env"`
	// Loghash identifies the raw message; it is known for every record.
	// Fingerprint additionally folds in the classified error type, so it
	// is empty for records written before analysis completed.
	Loghash     string      `json:"loghash,omitempty"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Action      AuditAction `json:"action"`
	Reason      string      `json:"reason,omitempty"`
	Strategy    string      `json:"strategy,omitempty"`
	IssueKey    string      `json:"issue_key,omitempty"`
	Severity    Severity    `json:"severity,omitempty"`
	ErrorType   string      `json:"error_type,omitempty"`
	DurationMS  int64       `json:"duration_ms"`
}
