package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// fragmentWindow is how close two messages from the same sender must be for
// the shorter one to count as a split fragment of the longer.
const fragmentWindow = 5 * time.Second

// DedupeResult is the outcome of a fragment-dedup pass.
type DedupeResult struct {
	Messages []ParsedMessage
	Merged   int
	Warnings []string
}

// DedupeFragments removes false message splits produced by the upstream
// parser: a shorter message from the same sender within five seconds whose
// normalized body is contained in a longer one is a fragment of it, not a
// separate message. The pass is idempotent: once fragments are gone,
// nothing else is contained in a sibling and a second run merges nothing.
func DedupeFragments(messages []ParsedMessage) DedupeResult {
	if len(messages) < 2 {
		return DedupeResult{Messages: messages}
	}

	// Longest-first for equal timestamps so the containing message is
	// considered before its fragments.
	ordered := make([]ParsedMessage, len(messages))
	copy(ordered, messages)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].SentAt.Equal(ordered[j].SentAt) {
			return ordered[i].SentAt.Before(ordered[j].SentAt)
		}
		return len(ordered[i].Body) > len(ordered[j].Body)
	})

	normalized := make([]string, len(ordered))
	for i, m := range ordered {
		normalized[i] = normalizeBody(m.Body)
	}

	var result DedupeResult
	dropped := make([]bool, len(ordered))
	for i := range ordered {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(ordered); j++ {
			if dropped[j] {
				continue
			}
			if ordered[j].SentAt.Sub(ordered[i].SentAt) > fragmentWindow {
				break
			}
			if ordered[j].SenderName != ordered[i].SenderName {
				continue
			}
			if normalized[j] == "" || !strings.Contains(normalized[i], normalized[j]) {
				continue
			}
			dropped[j] = true
			result.Merged++
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"merged split fragment from %s at %s (%q)",
				ordered[j].SenderName,
				ordered[j].SentAt.UTC().Format(time.RFC3339),
				truncate(ordered[j].Body, 40),
			))
		}
	}

	kept := make([]ParsedMessage, 0, len(ordered)-result.Merged)
	for i, m := range ordered {
		if !dropped[i] {
			kept = append(kept, m)
		}
	}

	// Re-sort chronologically for downstream consumers.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].SentAt.Before(kept[j].SentAt)
	})
	result.Messages = kept
	return result
}

// normalizeBody lowercases, strips punctuation, and collapses whitespace so
// the containment test ignores rendering differences between fragments.
func normalizeBody(body string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(body) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
