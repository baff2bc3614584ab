package match

import (
	"testing"
)

var directory = []Person{
	{ID: "p1", FullName: "Jonathan Smith"},
	{ID: "p2", FullName: "Allison Wilson"},
	{ID: "p3", FullName: "Marcus Webb"},
}

func TestExactMatch(t *testing.T) {
	m := FindBestMatch("jonathan  smith", directory, 0.6)
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.PersonID != "p1" || m.MatchType != MatchExact || m.Score != 1 {
		t.Errorf("got %+v, want exact p1 score 1", m)
	}
}

func TestPartialContainment(t *testing.T) {
	m := FindBestMatch("Allison", directory, 0.6)
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.PersonID != "p2" || m.MatchType != MatchPartial {
		t.Errorf("got %+v, want partial p2", m)
	}
	// "allison" (7) against "allison wilson" (14): ratio 0.5, penalized.
	want := 0.5 * partialPenalty
	if diff := m.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("partial score %f, want %f", m.Score, want)
	}
}

func TestNameVariant(t *testing.T) {
	m := FindBestMatch("Jon Smith", directory, 0.6)
	if m == nil {
		t.Fatal("expected a match for Jon Smith vs Jonathan Smith")
	}
	if m.PersonID != "p1" {
		t.Errorf("matched %s, want p1", m.PersonID)
	}
	if m.Score < 0.6 {
		t.Errorf("score %f, want >= 0.6", m.Score)
	}
	if m.MatchType != MatchPartial && m.MatchType != MatchNormalized && m.MatchType != MatchFuzzy {
		t.Errorf("unexpected match type %q", m.MatchType)
	}
}

func TestNoMatchForUnrelatedName(t *testing.T) {
	if m := FindBestMatch("Unrelated Name", directory, 0.6); m != nil {
		t.Errorf("expected nil, got %+v", m)
	}
}

func TestEmptyInputs(t *testing.T) {
	if m := FindBestMatch("", directory, 0.6); m != nil {
		t.Errorf("empty name matched %+v", m)
	}
	if m := FindBestMatch("Jonathan Smith", nil, 0.6); m != nil {
		t.Errorf("empty directory matched %+v", m)
	}
}

func TestBestOfSeveralWins(t *testing.T) {
	people := []Person{
		{ID: "close", FullName: "Jon Smyth"},
		{ID: "exact", FullName: "Jon Smith"},
	}
	m := FindBestMatch("Jon Smith", people, 0.6)
	if m == nil || m.PersonID != "exact" {
		t.Fatalf("got %+v, want exact match to win", m)
	}
}

func TestTieKeepsFirstSeen(t *testing.T) {
	people := []Person{
		{ID: "first", FullName: "Sam Reed"},
		{ID: "second", FullName: "Sam Reed"},
	}
	m := FindBestMatch("Sam Reed", people, 0.6)
	if m == nil || m.PersonID != "first" {
		t.Fatalf("got %+v, want first-seen candidate on tie", m)
	}
}

func TestFindAllMatchesSorted(t *testing.T) {
	people := []Person{
		{ID: "p1", FullName: "Jonathan Smith"},
		{ID: "p2", FullName: "Jon Smithe"},
		{ID: "p3", FullName: "Completely Different"},
	}
	matches := FindAllMatches("Jon Smith", people, 0.4)
	if len(matches) < 2 {
		t.Fatalf("got %d matches, want at least 2", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("matches not sorted descending: %f after %f", matches[i].Score, matches[i-1].Score)
		}
	}
	for _, m := range matches {
		if m.PersonID == "p3" {
			t.Errorf("unrelated candidate cleared the 0.4 threshold: %+v", m)
		}
	}
}

func TestFindAllMatchesHonorsThreshold(t *testing.T) {
	// A bare first name against "First Last" scores 0.475 via containment,
	// which the fuzzy gate never sees. The caller threshold must still
	// filter it.
	people := []Person{{ID: "p1", FullName: "Allison Wilson"}}

	if matches := FindAllMatches("Allison", people, 0.6); len(matches) != 0 {
		t.Errorf("got %+v, want none above 0.6", matches)
	}
	matches := FindAllMatches("Allison", people, 0.4)
	if len(matches) != 1 || matches[0].PersonID != "p1" {
		t.Fatalf("got %+v, want p1 above 0.4", matches)
	}
	if matches[0].Score >= 0.6 {
		t.Errorf("score = %f, expected a sub-0.6 candidate", matches[0].Score)
	}
}

func TestSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"abc", "abc", 1},
		{"abc", "abd", 1 - 1.0/3.0},
		{"", "abcd", 0},
		{"kitten", "sitting", 1 - 3.0/7.0},
	}
	for _, tc := range cases {
		got := Similarity(tc.a, tc.b)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("Similarity(%q, %q) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}
