package fingerprint

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return ts
}

func TestDeterministic(t *testing.T) {
	at := mustParse(t, "2024-01-01T10:00:00Z")
	h1 := Message("p1", at, "Hello world")
	h2 := Message("p1", at, "Hello world")
	if h1 != h2 {
		t.Errorf("same inputs produced different hashes: %q vs %q", h1, h2)
	}
	if len(h1) != hashLen {
		t.Errorf("hash length = %d, want %d", len(h1), hashLen)
	}
}

// TestNormalizationStable covers the identity contract: sub-minute jitter,
// casing, and whitespace differences must not change the hash.
func TestNormalizationStable(t *testing.T) {
	a := Message("p1", mustParse(t, "2024-01-01T10:00:00.123Z"), "Hello  world")
	b := Message("p1", mustParse(t, "2024-01-01T10:00:30Z"), "hello world")
	if a != b {
		t.Errorf("jittered re-export hashed differently: %q vs %q", a, b)
	}
}

func TestMinuteBoundary(t *testing.T) {
	a := Message("p1", mustParse(t, "2024-01-01T10:00:59Z"), "hi")
	b := Message("p1", mustParse(t, "2024-01-01T10:01:00Z"), "hi")
	if a == b {
		t.Error("messages in different minutes should hash differently")
	}
}

func TestSenderDistinguishes(t *testing.T) {
	at := mustParse(t, "2024-01-01T10:00:00Z")
	if Message("p1", at, "ok") == Message("p2", at, "ok") {
		t.Error("different senders should hash differently")
	}
}

func TestLongTextPrefixOnly(t *testing.T) {
	at := mustParse(t, "2024-01-01T10:00:00Z")
	prefix := "this message is long enough that only its leading characters matter for identity purposes here"
	a := Message("p1", at, prefix+" tail one")
	b := Message("p1", at, prefix+" tail two")
	if a != b {
		t.Error("texts sharing the identity prefix should hash equal")
	}
}

func TestNormalizeText(t *testing.T) {
	got := NormalizeText("  Hello\t\tWORLD \n again ")
	want := "hello world again"
	if got != want {
		t.Errorf("NormalizeText = %q, want %q", got, want)
	}
}
