package ticket

import (
	"fmt"
	"strings"
	"time"

	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/normalize"
	"github.com/triago-ai/triago/pkg/similarity"
)

// priorityFor maps severities to tracker priority names.
func priorityFor(s models.Severity) string {
	switch s {
	case models.SeverityHigh:
		return "High"
	case models.SeverityLow:
		return "Low"
	default:
		return "Medium"
	}
}

// BuildPayload composes the creation request: the classification's
// description enriched with context and the embedded normalized log (which
// later similarity checks extract), plus the stable label set.
func BuildPayload(log models.LogRecord, cls models.Classification, loghash, fingerprint string, titleMaxLen int) models.TicketPayload {
	normalized := normalize.Normalize(log.Message)

	var b strings.Builder
	b.WriteString(cls.TicketDescription)
	b.WriteString("\n\n### Context\n")
	fmt.Fprintf(&b, "- Service: %s\n", log.Service)
	fmt.Fprintf(&b, "- Environment: %s\n", log.Env)
	if log.Logger != "" {
		fmt.Fprintf(&b, "- Logger: %s\n", log.Logger)
	}
	if log.Occurrences > 0 {
		fmt.Fprintf(&b, "- Occurrences (24h): %d\n", log.Occurrences)
	}
	if !log.Timestamp.IsZero() {
		fmt.Fprintf(&b, "- Last seen: %s\n", log.Timestamp.UTC().Format(time.RFC3339))
	}
	if log.Link != "" {
		fmt.Fprintf(&b, "- Log link: %s\n", log.Link)
	}
	b.WriteString("\n")
	b.WriteString(similarity.FormatNormalizedLogBlock(normalized))

	return models.TicketPayload{
		Title:       normalize.CleanTitle(cls.TicketTitle, titleMaxLen),
		Description: b.String(),
		Labels: []string{
			models.LoghashLabel(loghash),
			models.FingerprintLabel(fingerprint),
			models.ErrorTypeLabel(cls.ErrorType),
			models.SeverityLabel(cls.Severity),
			models.LabelSource,
		},
		Priority: priorityFor(cls.Severity),
	}
}

// duplicateComment is the short note added to an existing issue when the
// same error fires again.
func duplicateComment(log models.LogRecord, occurredAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recurred in %s/%s at %s.",
		log.Service, log.Env, occurredAt.UTC().Format(time.RFC3339))
	if log.Occurrences > 1 {
		fmt.Fprintf(&b, " Seen %d times in the last 24h.", log.Occurrences)
	}
	if log.Link != "" {
		fmt.Fprintf(&b, "\n%s", log.Link)
	}
	return b.String()
}
