package normalize

import "strings"

// DefaultTitleMaxLen is the ticket title length cap after cleaning.
const DefaultTitleMaxLen = 120

const ellipsis = "…"

// trailingPunct is stripped from cleaned titles; a title never ends in
// punctuation (the ellipsis added on truncation is the one exception).
const trailingPunct = ".,:;!?-—_ \t"

// CleanTitle collapses whitespace, strips trailing punctuation, and truncates
// to maxLen runes on a word boundary when possible. Truncated titles end in
// "…". A maxLen <= 0 falls back to DefaultTitleMaxLen.
func CleanTitle(title string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultTitleMaxLen
	}
	s := reSpaces.ReplaceAllString(strings.TrimSpace(title), " ")
	s = strings.TrimRight(s, trailingPunct)
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}

	// Reserve one rune for the ellipsis.
	cut := runes[:maxLen-1]
	truncated := string(cut)
	if idx := strings.LastIndex(truncated, " "); idx > 0 {
		truncated = truncated[:idx]
	}
	truncated = strings.TrimRight(truncated, trailingPunct)
	return truncated + ellipsis
}
