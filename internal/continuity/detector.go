// Package continuity decides whether a freshly parsed upload extends an
// already-stored conversation. It offers two independent advisory signals
// (participant/date/hash overlap and first-sentence splice matching) and
// never writes anything: acceptance is always an explicit user decision.
package continuity

import (
	"sort"
	"strings"
	"time"

	"github.com/kalambet/caselog/internal/storage"
)

// Candidate classifications. Only a hash overlap is a strong enough signal
// to offer an automatic continuation prompt; date overlap alone is advisory.
const (
	HasDuplicateMessages = "has_duplicate_messages"
	DateOverlapOnly      = "date_overlap_only"
)

const (
	// minFirstSentenceLen guards the splice strategy against short
	// sentences ("ok", "thanks") that match far too many messages.
	minFirstSentenceLen = 20

	// maxFirstSentenceLen caps the sentence when the text has no
	// terminating punctuation.
	maxFirstSentenceLen = 150

	defaultScanLimit = 5000
)

// Store is the read-only persistence surface the detector needs.
type Store interface {
	FindOverlappingConversations(participantIDs []string, start, end time.Time) ([]storage.Conversation, error)
	MessageHashes(conversationID string) (map[string]bool, error)
	ListMessages(conversationID string) ([]storage.Message, error)
	ListRecentMessages(limit int) ([]storage.Message, error)
}

// Candidate is one existing conversation that may be continued by the upload.
type Candidate struct {
	Conversation   storage.Conversation `json:"conversation"`
	Classification string               `json:"classification"`
	HashOverlap    int                  `json:"hash_overlap"`
}

// OverlapReport is the result of the participant/date/hash strategy.
// Primary is the candidate with the largest hash overlap, nil when no
// candidate has one.
type OverlapReport struct {
	Candidates []Candidate `json:"candidates"`
	Primary    *Candidate  `json:"primary,omitempty"`
}

// Splice is the result of the first-sentence strategy. SpliceIndex is the
// index into the new upload of the last already-known message; everything
// strictly after it is genuinely new. SpliceIndex -1 means the conversation
// was identified but the upload could not be aligned to its tail; callers
// fall back to per-message hash dedup so no data is silently dropped.
type Splice struct {
	ConversationID   string `json:"conversation_id"`
	MatchedMessageID string `json:"matched_message_id"`
	SpliceIndex      int    `json:"splice_index"`
	FirstSentence    string `json:"first_sentence"`
}

// NewMessage is the slice of an upload the splice strategy needs.
type NewMessage struct {
	Body   string
	SentAt time.Time
}

// Detector runs both continuity strategies against the store.
type Detector struct {
	store     Store
	scanLimit int
}

// NewDetector creates a Detector. scanLimit bounds how many persisted
// messages the splice search scans (default 5000 if <= 0).
func NewDetector(store Store, scanLimit int) *Detector {
	if scanLimit <= 0 {
		scanLimit = defaultScanLimit
	}
	return &Detector{store: store, scanLimit: scanLimit}
}

// DetectOverlap classifies every existing conversation that shares a
// participant and intersects the upload's date range. Conversations holding
// at least one of the upload's content hashes are strong continuation
// candidates; the rest are reported for advisory UI only.
func (d *Detector) DetectOverlap(participantIDs []string, start, end time.Time, hashes []string) (OverlapReport, error) {
	convs, err := d.store.FindOverlappingConversations(participantIDs, start, end)
	if err != nil {
		return OverlapReport{}, err
	}

	var report OverlapReport
	for _, c := range convs {
		existing, err := d.store.MessageHashes(c.ID)
		if err != nil {
			return OverlapReport{}, err
		}

		overlap := 0
		for _, h := range hashes {
			if existing[h] {
				overlap++
			}
		}

		cand := Candidate{Conversation: c, HashOverlap: overlap, Classification: DateOverlapOnly}
		if overlap > 0 {
			cand.Classification = HasDuplicateMessages
		}
		report.Candidates = append(report.Candidates, cand)

		if overlap > 0 && (report.Primary == nil || overlap > report.Primary.HashOverlap) {
			primary := cand
			report.Primary = &primary
		}
	}

	// Strong candidates first, largest overlap first.
	sortCandidates(report.Candidates)
	return report, nil
}

func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].HashOverlap > cands[j].HashOverlap
	})
}

// FindSplicePoint runs the first-sentence strategy. The first sentence of
// the upload's first message identifies the target conversation (thread
// re-exports re-include history from the top); the first sentence of that
// conversation's last persisted message is then located inside the upload to
// find where known content ends. Returns nil when the upload gives no
// reliable sentence or no persisted message starts with it.
func (d *Detector) FindSplicePoint(newMessages []NewMessage) (*Splice, error) {
	if len(newMessages) == 0 {
		return nil, nil
	}

	sentence := FirstSentence(newMessages[0].Body)
	if sentence == "" {
		return nil, nil
	}

	persisted, err := d.store.ListRecentMessages(d.scanLimit)
	if err != nil {
		return nil, err
	}

	var matched *storage.Message
	for i := range persisted {
		if strings.HasPrefix(normalizeForSplice(persisted[i].RawText), sentence) {
			matched = &persisted[i]
			break
		}
	}
	if matched == nil {
		return nil, nil
	}

	splice := &Splice{
		ConversationID:   matched.ConversationID,
		MatchedMessageID: matched.ID,
		SpliceIndex:      -1,
		FirstSentence:    sentence,
	}

	// Align the upload to the conversation's tail: the upload message whose
	// text starts with the last persisted message's first sentence is the
	// last already-known message.
	tail, err := d.lastMessage(matched.ConversationID)
	if err != nil {
		return nil, err
	}
	if tail == nil {
		return splice, nil
	}

	tailSentence := FirstSentence(tail.RawText)
	if tailSentence == "" {
		return splice, nil
	}
	for i, m := range newMessages {
		if strings.HasPrefix(normalizeForSplice(m.Body), tailSentence) {
			splice.SpliceIndex = i
			break
		}
	}
	return splice, nil
}

func (d *Detector) lastMessage(conversationID string) (*storage.Message, error) {
	msgs, err := d.store.ListMessages(conversationID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[len(msgs)-1], nil
}

// FirstSentence extracts the normalized first sentence of a message body:
// whitespace collapsed, lowercased, cut at the first sentence terminator or
// at 150 characters. Returns "" for sentences under 20 characters, which
// are too generic to splice on.
func FirstSentence(body string) string {
	text := normalizeForSplice(body)

	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		text = text[:i]
	}
	runes := []rune(text)
	if len(runes) > maxFirstSentenceLen {
		text = string(runes[:maxFirstSentenceLen])
	}
	text = strings.TrimSpace(text)

	if len([]rune(text)) < minFirstSentenceLen {
		return ""
	}
	return text
}

// normalizeForSplice lowercases and collapses whitespace. Punctuation is
// kept; unlike fragment dedup, splice matching compares rendered text.
func normalizeForSplice(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
