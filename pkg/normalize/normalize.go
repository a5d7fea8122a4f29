// Package normalize canonicalizes raw log text and derives the stable
// fingerprints used throughout the dedup cascade.
package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

// Redaction regexes compiled once at package init. They run against text that
// has already been ASCII-lowered, so character classes only cover a-f/a-z.
var (
	reEmail     = regexp.MustCompile(`[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`)
	reURL       = regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^\s]+`)
	reUUID      = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reTimestamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[t ]\d{2}:\d{2}:\d{2}(\.\d+)?(z|[+-]\d{2}:?\d{2})?`)
	reHexPrefix = regexp.MustCompile(`0x[0-9a-f]+`)
	reHexRun    = regexp.MustCompile(`\b[0-9a-f]{8,}\b`)
	reDigitRun  = regexp.MustCompile(`\d{5,}`)
	reSpaces    = regexp.MustCompile(`\s+`)
)

// Placeholder tokens inserted for redacted content that still carries signal.
const (
	emailToken = "<email>"
	urlToken   = "<url>"
)

// Normalize canonicalizes a raw log message: ASCII lowercase, redact emails,
// URLs, UUIDs, timestamps, long hex and digit runs, then collapse whitespace.
// The result is deterministic, locale-independent, and idempotent.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := asciiLower(text)
	s = reEmail.ReplaceAllString(s, emailToken)
	s = reURL.ReplaceAllString(s, urlToken)
	s = reUUID.ReplaceAllString(s, " ")
	s = reTimestamp.ReplaceAllString(s, " ")
	s = reHexPrefix.ReplaceAllString(s, " ")
	s = reHexRun.ReplaceAllString(s, " ")
	s = reDigitRun.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Fingerprint returns the 12-hex-char identity of a log for dedup purposes:
// a SHA-1 prefix over "<error_type>|<normalized_message>".
func Fingerprint(errorType, message string) string {
	return sha1Prefix(errorType + "|" + Normalize(message))
}

// Loghash returns the 12-hex-char hash of the normalized message alone.
// It is attached to tracker issues as a "loghash-<hex>" label for O(1) lookup.
func Loghash(message string) string {
	return sha1Prefix(Normalize(message))
}

// Tokens splits a normalized message into its whitespace-separated tokens.
func Tokens(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

// KebabCase converts an error type tag to kebab-case: lowercase with
// non-alphanumeric runs collapsed to single dashes.
func KebabCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range asciiLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		} else {
			dash = true
		}
	}
	return b.String()
}

func sha1Prefix(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// asciiLower lowercases A-Z only, leaving all other bytes untouched. Unicode
// case folding is locale-sensitive and would make fingerprints unstable
// across platforms.
func asciiLower(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
