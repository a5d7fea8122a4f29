// Package fallback is the deterministic rule-based classifier used when the
// LLM is unavailable or its output is unusable. It performs no I/O; the same
// log always yields the same classification.
package fallback

import (
	"fmt"
	"strings"

	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/normalize"
)

// minCatchAllConfidence floors confidence when only the catch-all rule fires.
const minCatchAllConfidence = 0.1

// escalationMarkers bump severity one level when present in the message;
// failures touching auth or money are worth a closer look.
var escalationMarkers = []string{
	"auth", "login", "credential", "payment", "billing", "invoice", "charge",
}

// Analyzer scores each catalog rule against the normalized message and turns
// the best match into a classification.
type Analyzer struct {
	rules []Rule
}

// NewAnalyzer returns an analyzer over the built-in catalog.
func NewAnalyzer() *Analyzer {
	return &Analyzer{rules: catalog}
}

// Classify maps a log to a deterministic classification.
func (a *Analyzer) Classify(log models.LogRecord) models.Classification {
	text := normalize.Normalize(log.Message + " " + log.Detail)

	best, bestScore := a.bestRule(text)
	confidence := 0.0
	if max := best.maxScore(); max > 0 {
		confidence = bestScore / max
	}
	if best.ErrorType == catchAllErrorType && confidence < minCatchAllConfidence {
		confidence = minCatchAllConfidence
	}
	if confidence > 1 {
		confidence = 1
	}

	severity := best.Severity
	if hasEscalationMarker(text) {
		severity = severity.Escalate()
	}

	service := log.Service
	if service == "" {
		service = "unknown service"
	}

	return models.Classification{
		ErrorType:         best.ErrorType,
		Severity:          severity,
		Confidence:        confidence,
		CreateTicket:      shouldCreateTicket(severity, confidence),
		TicketTitle:       normalize.CleanTitle(fmt.Sprintf(best.Title, service), normalize.DefaultTitleMaxLen),
		TicketDescription: buildDescription(best, log, confidence),
		Source:            models.SourceFallback,
	}
}

// bestRule returns the highest-scoring rule, falling back to the catch-all.
// Catalog order breaks ties, so the result is deterministic.
func (a *Analyzer) bestRule(text string) (*Rule, float64) {
	var best *Rule
	bestScore := 0.0
	for i := range a.rules {
		score := scoreRule(&a.rules[i], text)
		if score > bestScore {
			best = &a.rules[i]
			bestScore = score
		}
	}
	if best == nil {
		best = &a.rules[len(a.rules)-1] // catch-all is last
	}
	return best, bestScore
}

func scoreRule(r *Rule, text string) float64 {
	score := 0.0
	for _, re := range r.Regexes {
		if re.MatchString(text) {
			score++
		}
	}
	for _, kw := range r.Keywords {
		if strings.Contains(text, kw) {
			score += 0.5
		}
	}
	return score
}

func hasEscalationMarker(text string) bool {
	for _, m := range escalationMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// shouldCreateTicket applies the severity/confidence gate: high always files,
// medium needs confidence >= 0.4, low needs confidence >= 0.7.
func shouldCreateTicket(severity models.Severity, confidence float64) bool {
	switch severity {
	case models.SeverityHigh:
		return true
	case models.SeverityMedium:
		return confidence >= 0.4
	default:
		return confidence >= 0.7
	}
}

func buildDescription(r *Rule, log models.LogRecord, confidence float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Problem\n%s\n\n", r.Problem)
	fmt.Fprintf(&b, "## Likely Cause\n%s\n\n", r.Cause)
	fmt.Fprintf(&b, "## Suggested Actions\n%s\n\n", r.Action)
	fmt.Fprintf(&b, "Classified by the rule-based analyzer as `%s` (confidence %.2f).\n", r.ErrorType, confidence)
	if log.Logger != "" {
		fmt.Fprintf(&b, "Logger: `%s`\n", log.Logger)
	}
	return b.String()
}
