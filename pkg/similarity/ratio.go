// Package similarity scores how close a candidate ticket is to existing
// tracker issues. Scoring is deterministic and bounded to [0,1] so threshold
// configuration behaves the same on every run.
package similarity

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/triago-ai/triago/pkg/normalize"
)

// ratio is the normalized Levenshtein similarity of two strings: 1 - d/maxLen.
func ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	d := levenshtein.ComputeDistance(a, b)
	if d >= maxLen {
		return 0
	}
	return 1 - float64(d)/float64(maxLen)
}

// tokenSet returns the sorted unique tokens of the normalized form of s.
func tokenSet(s string) []string {
	seen := map[string]struct{}{}
	for _, tok := range normalize.Tokens(normalize.Normalize(s)) {
		seen[tok] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// TokenSetRatio is a token-set similarity in [0,1]: both sides are reduced to
// sorted unique tokens, split into the shared intersection and each side's
// remainder, and the best pairwise ratio of the three recombinations wins.
// Symmetric by construction; identical inputs score 1.0.
func TokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter, restA, restB := partition(ta, tb)
	s1 := strings.Join(inter, " ")
	s2 := strings.TrimSpace(s1 + " " + strings.Join(restA, " "))
	s3 := strings.TrimSpace(s1 + " " + strings.Join(restB, " "))

	best := ratio(s2, s3)
	if s1 != "" {
		if r := ratio(s1, s2); r > best {
			best = r
		}
		if r := ratio(s1, s3); r > best {
			best = r
		}
	}
	return best
}

// Jaccard is |A∩B| / |A∪B| over normalized token sets.
func Jaccard(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	inter, restA, restB := partition(ta, tb)
	union := len(inter) + len(restA) + len(restB)
	if union == 0 {
		return 0
	}
	return float64(len(inter)) / float64(union)
}

// Containment is |A∩B| / |A| — how much of a is covered by b. Used for the
// "normalized log appears in issue description" partial match.
func Containment(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 {
		return 0
	}
	inter, _, _ := partition(ta, tb)
	return float64(len(inter)) / float64(len(ta))
}

// partition splits two sorted token slices into intersection and remainders.
func partition(a, b []string) (inter, restA, restB []string) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter = append(inter, a[i])
			i++
			j++
		case a[i] < b[j]:
			restA = append(restA, a[i])
			i++
		default:
			restB = append(restB, b[j])
			j++
		}
	}
	restA = append(restA, a[i:]...)
	restB = append(restB, b[j:]...)
	return inter, restA, restB
}
