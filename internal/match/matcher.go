// Package match resolves free-text person names against a known identity
// directory. The directory is always passed in explicitly; the matcher holds
// no state and is a pure function of its inputs.
package match

import (
	"sort"
	"strings"
)

const (
	// DefaultThreshold is the minimum score FindBestMatch accepts for a
	// pure edit-distance match.
	DefaultThreshold = 0.6

	// DefaultAllThreshold is the lower cutoff FindAllMatches uses when
	// collecting candidates for disambiguation UI.
	DefaultAllThreshold = 0.4

	partialPenalty    = 0.95
	normalizedPenalty = 0.9
)

// Person is a directory entry the matcher scores against.
type Person struct {
	ID       string
	FullName string
}

// Match is a scored resolution of a name to a person.
type Match struct {
	PersonID  string  `json:"person_id"`
	FullName  string  `json:"full_name"`
	Score     float64 `json:"score"` // in [0, 1]
	MatchType string  `json:"match_type"`
}

// Match type constants, in cascade priority order.
const (
	MatchExact      = "exact"
	MatchPartial    = "partial"
	MatchNormalized = "normalized"
	MatchFuzzy      = "fuzzy"
)

// FindBestMatch returns the highest-scoring match for name among people, or
// nil if nothing clears the cascade. threshold <= 0 uses DefaultThreshold;
// it gates only the pure edit-distance tier; the earlier tiers carry their
// own acceptance rules. Ties keep the first-seen candidate.
//
// Callers apply their own confidence bands on the returned score
// (auto-link, suggest, or treat as a new identity).
func FindBestMatch(name string, people []Person, threshold float64) *Match {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var best *Match
	for _, p := range people {
		m, ok := score(name, p, threshold)
		if !ok {
			continue
		}
		if best == nil || m.Score > best.Score {
			best = &m
		}
	}
	return best
}

// FindAllMatches returns every candidate scoring at or above threshold
// (DefaultAllThreshold if <= 0), sorted descending by score. Intended for
// disambiguation prompts where the user picks among plausible identities.
func FindAllMatches(name string, people []Person, threshold float64) []Match {
	if threshold <= 0 {
		threshold = DefaultAllThreshold
	}

	var matches []Match
	for _, p := range people {
		m, ok := score(name, p, threshold)
		if !ok || m.Score < threshold {
			continue
		}
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// score evaluates every rule of the cascade for one candidate and keeps the
// highest-scoring accepted rule: exact equality, containment, shared name
// token + edit distance, and pure edit distance gated by fuzzyThreshold.
func score(name string, p Person, fuzzyThreshold float64) (Match, bool) {
	a := Normalize(name)
	b := Normalize(p.FullName)
	if a == "" || b == "" {
		return Match{}, false
	}

	if a == b {
		return Match{PersonID: p.ID, FullName: p.FullName, Score: 1, MatchType: MatchExact}, true
	}

	var best Match
	var found bool
	consider := func(s float64, matchType string) {
		if !found || s > best.Score {
			best = Match{PersonID: p.ID, FullName: p.FullName, Score: s, MatchType: matchType}
			found = true
		}
	}

	// Containment either direction: "allison" vs "allison wilson".
	// Inclusive gate: a bare first name against "First Last" sits at
	// exactly 0.5 and must still resolve.
	if strings.Contains(a, b) || strings.Contains(b, a) {
		ratio := float64(min(len(a), len(b))) / float64(max(len(a), len(b)))
		if ratio >= 0.5 {
			consider(ratio*partialPenalty, MatchPartial)
		}
	}

	sim := Similarity(a, b)

	// Shared first or last token rescues name variants whose raw
	// similarity falls short of the fuzzy gate ("Jon" vs "Jonathan").
	if sharesEdgeToken(a, b) && sim > 0.5 {
		consider(sim*normalizedPenalty, MatchNormalized)
	}

	if sim >= fuzzyThreshold {
		consider(sim, MatchFuzzy)
	}

	return best, found
}

// Normalize lowercases a name and collapses interior whitespace.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// sharesEdgeToken reports whether two normalized names share a first-name or
// last-name token.
func sharesEdgeToken(a, b string) bool {
	at := strings.Fields(a)
	bt := strings.Fields(b)
	if len(at) == 0 || len(bt) == 0 {
		return false
	}
	return at[0] == bt[0] || at[len(at)-1] == bt[len(bt)-1]
}

// Similarity is the normalized Levenshtein similarity 1 - distance/maxLen,
// in [0, 1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ar, br := []rune(a), []rune(b)
	longest := max(len(ar), len(br))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ar, br))/float64(longest)
}

// levenshtein computes edit distance with the two-row dynamic program.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
