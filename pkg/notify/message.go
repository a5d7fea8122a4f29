package notify

import (
	"fmt"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/pipeline"
)

var severityEmoji = map[models.Severity]string{
	models.SeverityHigh:   ":rotating_light:",
	models.SeverityMedium: ":warning:",
	models.SeverityLow:    ":information_source:",
}

// BuildRunSummaryMessage creates Block Kit blocks for a run summary.
func BuildRunSummaryMessage(summary pipeline.RunSummary) []goslack.Block {
	header := fmt.Sprintf(":mag: *Triage run finished* — `%s/%s`", summary.Service, summary.Env)

	var b strings.Builder
	stats := summary.Stats
	fmt.Fprintf(&b, "Logs fetched: *%d*\n", stats.LogsFetched)
	fmt.Fprintf(&b, "Tickets created: *%d*", stats.TicketsCreated)
	if stats.TicketsSimulated > 0 {
		fmt.Fprintf(&b, " (simulated: %d)", stats.TicketsSimulated)
	}
	b.WriteString("\n")
	duplicates := stats.InRunDuplicates + stats.PersistentDuplicates +
		stats.LoghashMatches + stats.ErrorTypeMatches + stats.SimilarityMatches
	fmt.Fprintf(&b, "Duplicates: *%d* · Comments: *%d* · Cap hits: *%d* · Errors: *%d*\n",
		duplicates, stats.CommentsAdded, stats.CapsHit, stats.Errors)
	fmt.Fprintf(&b, "Duration: %s", summary.FinishedAt.Sub(summary.StartedAt).Round(1e9))

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false), nil, nil),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, b.String(), false, false), nil, nil),
	}
}

// BuildTicketMessage creates Block Kit blocks for a created ticket. The
// fingerprint rides in the message text so later occurrences thread here.
func BuildTicketMessage(issueKey, title string, severity models.Severity, fingerprint, trackerURL string) []goslack.Block {
	emoji := severityEmoji[severity]
	if emoji == "" {
		emoji = ":warning:"
	}

	link := issueKey
	if trackerURL != "" {
		link = fmt.Sprintf("<%s/browse/%s|%s>", strings.TrimRight(trackerURL, "/"), issueKey, issueKey)
	}

	text := fmt.Sprintf("%s *%s* — %s\nSeverity: `%s` · Fingerprint: `%s`",
		emoji, link, title, severity, fingerprint)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}
}
