package ingest

import (
	"testing"
	"time"
)

func at(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return ts
}

func TestDedupeDropsContainedFragment(t *testing.T) {
	msgs := []ParsedMessage{
		{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:00:00Z"), Body: "I can pick up Sam at 3pm. Let me know if that works for you."},
		{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:00:02Z"), Body: "Let me know if that works for you."},
		{SenderName: "Bob", SentAt: at(t, "2024-03-01T09:05:00Z"), Body: "That works."},
	}

	res := DedupeFragments(msgs)
	if res.Merged != 1 {
		t.Fatalf("Merged = %d, want 1 (warnings: %v)", res.Merged, res.Warnings)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("kept %d messages, want 2", len(res.Messages))
	}
	if len(res.Warnings) != 1 {
		t.Errorf("got %d warnings, want 1", len(res.Warnings))
	}
}

func TestDedupeIgnoresDifferentSender(t *testing.T) {
	msgs := []ParsedMessage{
		{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:00:00Z"), Body: "See you at the school entrance."},
		{SenderName: "Bob", SentAt: at(t, "2024-03-01T09:00:02Z"), Body: "the school entrance"},
	}
	res := DedupeFragments(msgs)
	if res.Merged != 0 {
		t.Errorf("merged across senders: %v", res.Warnings)
	}
}

func TestDedupeIgnoresOutsideWindow(t *testing.T) {
	msgs := []ParsedMessage{
		{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:00:00Z"), Body: "Please confirm the schedule change."},
		{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:00:06Z"), Body: "the schedule change"},
	}
	res := DedupeFragments(msgs)
	if res.Merged != 0 {
		t.Errorf("merged beyond 5s window: %v", res.Warnings)
	}
}

func TestDedupeNormalizesPunctuationAndCase(t *testing.T) {
	msgs := []ParsedMessage{
		{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:00:00Z"), Body: "Fine — drop-off at 6, then. We're done discussing it."},
		{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:00:01Z"), Body: "We're done discussing it!"},
	}
	res := DedupeFragments(msgs)
	if res.Merged != 1 {
		t.Errorf("Merged = %d, want 1 despite punctuation/case differences", res.Merged)
	}
}

func TestDedupeEqualTimestampsLongestFirst(t *testing.T) {
	ts := at(t, "2024-03-01T09:00:00Z")
	msgs := []ParsedMessage{
		{SenderName: "Alice", SentAt: ts, Body: "short tail"},
		{SenderName: "Alice", SentAt: ts, Body: "long message body ending with short tail"},
	}
	res := DedupeFragments(msgs)
	if res.Merged != 1 {
		t.Fatalf("Merged = %d, want 1", res.Merged)
	}
	if res.Messages[0].Body != "long message body ending with short tail" {
		t.Errorf("kept the fragment instead of the full message: %q", res.Messages[0].Body)
	}
}

func TestDedupeIdempotent(t *testing.T) {
	msgs := []ParsedMessage{
		{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:00:00Z"), Body: "First part of the message. Second part too."},
		{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:00:01Z"), Body: "Second part too."},
		{SenderName: "Bob", SentAt: at(t, "2024-03-01T09:01:00Z"), Body: "Understood."},
		{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:02:00Z"), Body: "One more thing."},
	}

	first := DedupeFragments(msgs)
	second := DedupeFragments(first.Messages)

	if second.Merged != 0 {
		t.Errorf("second pass merged %d, want 0", second.Merged)
	}
	if len(second.Messages) != len(first.Messages) {
		t.Errorf("second pass changed message count: %d -> %d", len(first.Messages), len(second.Messages))
	}
}

func TestDedupeChronologicalOutput(t *testing.T) {
	msgs := []ParsedMessage{
		{SenderName: "Bob", SentAt: at(t, "2024-03-01T10:00:00Z"), Body: "later message"},
		{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:00:00Z"), Body: "earlier message"},
	}
	res := DedupeFragments(msgs)
	if !res.Messages[0].SentAt.Before(res.Messages[1].SentAt) {
		t.Error("output not sorted chronologically")
	}
}

func TestDedupeEmptyAndSingle(t *testing.T) {
	if res := DedupeFragments(nil); len(res.Messages) != 0 || res.Merged != 0 {
		t.Errorf("nil input: %+v", res)
	}
	one := []ParsedMessage{{SenderName: "Alice", SentAt: at(t, "2024-03-01T09:00:00Z"), Body: "only"}}
	if res := DedupeFragments(one); len(res.Messages) != 1 {
		t.Errorf("single input kept %d messages", len(res.Messages))
	}
}
