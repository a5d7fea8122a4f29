package models

import "strings"

// Label prefixes attached to created tickets. Loghash and fingerprint labels
// give the dedup cascade O(1) tracker lookups.
const (
	LabelLoghashPrefix     = "loghash-"
	LabelFingerprintPrefix = "fingerprint-"
	LabelErrorTypePrefix   = "error_type-"
	LabelSeverityPrefix    = "severity-"

	// LabelSource tags every ticket created by this pipeline.
	LabelSource = "datadog-log"
)

// LoghashLabel builds the loghash label for a 12-hex loghash.
func LoghashLabel(loghash string) string { return LabelLoghashPrefix + loghash }

// FingerprintLabel builds the fingerprint label.
func FingerprintLabel(fp string) string { return LabelFingerprintPrefix + fp }

// ErrorTypeLabel builds the error type label for a kebab-case tag.
func ErrorTypeLabel(errorType string) string { return LabelErrorTypePrefix + errorType }

// SeverityLabel builds the severity label.
func SeverityLabel(s Severity) string { return LabelSeverityPrefix + string(s) }

// ErrorTypeFromLabels extracts the error type tag from an issue's labels,
// or "" when none is present.
func ErrorTypeFromLabels(labels []string) string {
	for _, l := range labels {
		if strings.HasPrefix(l, LabelErrorTypePrefix) {
			return strings.TrimPrefix(l, LabelErrorTypePrefix)
		}
	}
	return ""
}
