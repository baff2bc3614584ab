// Package fingerprint derives short deterministic identity hashes for
// messages. The hash captures message identity, not full content: two
// re-exports of the same message that differ in sub-minute timestamps,
// casing, or whitespace produce the same fingerprint. It is a dedup key,
// not a cryptographic commitment.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	// textPrefixLen bounds how much normalized text feeds the hash. Long
	// messages re-rendered with trailing differences still hash equal.
	textPrefixLen = 80

	// hashLen is the number of hex characters kept from the digest.
	hashLen = 32
)

// Message computes the fingerprint for a message. senderKey is whichever
// stable sender identifier the caller has (person id, or the raw sender name
// before resolution); sentAt is truncated to the minute, and text is
// lowercased, whitespace-collapsed, and truncated before hashing.
func Message(senderKey string, sentAt time.Time, text string) string {
	minute := sentAt.UTC().Truncate(time.Minute).Format("2006-01-02T15:04")

	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(senderKey)))
	b.WriteByte('|')
	b.WriteString(minute)
	b.WriteByte('|')
	b.WriteString(NormalizeText(text))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// NormalizeText lowercases, collapses runs of whitespace to single spaces,
// and truncates to the fingerprint prefix length.
func NormalizeText(text string) string {
	collapsed := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	runes := []rune(collapsed)
	if len(runes) > textPrefixLen {
		return string(runes[:textPrefixLen])
	}
	return collapsed
}
