package analyze

import (
	"fmt"
	"strings"

	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/normalize"
)

// maxDetailLen bounds how much structured detail goes into the prompt.
const maxDetailLen = 2000

// severityHintsHeader introduces optional team-provided severity guidance.
const severityHintsHeader = "Team severity guidance:"

// buildPrompt renders the fixed analysis context for one log. The response
// contract is strict JSON; anything else routes to the fallback analyzer.
func buildPrompt(log models.LogRecord, severityHints string) string {
	var b strings.Builder

	b.WriteString("You are a production error triage assistant. ")
	b.WriteString("Classify the following error log and decide whether it deserves a tracking ticket.\n\n")

	fmt.Fprintf(&b, "Service: %s\nEnvironment: %s\n", log.Service, log.Env)
	if log.Logger != "" {
		fmt.Fprintf(&b, "Logger: %s\n", log.Logger)
	}
	if log.Thread != "" {
		fmt.Fprintf(&b, "Thread: %s\n", log.Thread)
	}
	fmt.Fprintf(&b, "Occurrences in the last 24h: %d\n", log.Occurrences)
	fmt.Fprintf(&b, "\nNormalized message:\n%s\n", normalize.Normalize(log.Message))

	if log.Detail != "" {
		detail := log.Detail
		if len(detail) > maxDetailLen {
			detail = detail[:maxDetailLen] + "…"
		}
		fmt.Fprintf(&b, "\nDetail:\n%s\n", detail)
	}
	if severityHints != "" {
		fmt.Fprintf(&b, "\n%s\n%s\n", severityHintsHeader, severityHints)
	}

	b.WriteString(`
Respond with ONLY a JSON object, no prose and no markdown, with exactly these fields:
{
  "error_type": "<kebab-case-tag>",
  "create_ticket": <true|false>,
  "ticket_title": "<short action-oriented title, max 120 chars>",
  "ticket_description": "<markdown with ## Problem, ## Likely Cause, ## Suggested Actions sections>",
  "severity": "<low|medium|high>",
  "confidence": <0.0-1.0>
}
`)
	return b.String()
}
