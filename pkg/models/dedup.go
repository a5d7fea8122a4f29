package models

// DedupKind identifies which equivalence class a dedup result falls into.
type DedupKind string

// Dedup result kinds, in cascade order.
const (
	DedupUnique           DedupKind = "unique"
	DedupInRun            DedupKind = "duplicate_in_run"
	DedupByFingerprint    DedupKind = "duplicate_by_fingerprint"
	DedupByLoghashLabel   DedupKind = "duplicate_by_loghash_label"
	DedupByErrorTypeLabel DedupKind = "duplicate_by_error_type_label"
	DedupBySimilarity     DedupKind = "duplicate_by_similarity"
)

// FingerprintSource distinguishes where a fingerprint dedup hit came from.
type FingerprintSource string

// Fingerprint hit sources.
const (
	FingerprintSourceLocal      FingerprintSource = "local"
	FingerprintSourcePersistent FingerprintSource = "persistent"
)

// DedupResult is the outcome of one strategy check (or of the whole cascade).
// Strategy is the stable name of the strategy that produced the result.
type DedupResult struct {
	Kind     DedupKind
	Strategy string
	IssueKey string
	Score    float64
	Source   FingerprintSource
}

// Unique returns the non-duplicate result, optionally attributed to a strategy.
func Unique(strategy string) DedupResult {
	return DedupResult{Kind: DedupUnique, Strategy: strategy}
}

// IsDuplicate reports whether the result terminates the cascade.
func (r DedupResult) IsDuplicate() bool {
	return r.Kind != DedupUnique
}
