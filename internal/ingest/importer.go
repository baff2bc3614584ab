package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/caselog/internal/continuity"
	"github.com/kalambet/caselog/internal/fingerprint"
	"github.com/kalambet/caselog/internal/match"
	"github.com/kalambet/caselog/internal/storage"
)

// autoLinkThreshold is the match score above which a participant name is
// linked to an existing person without asking. Lower scores are surfaced as
// suggestions in the staging report instead.
const autoLinkThreshold = 0.8

// Decision actions accepted by ApplyDecision.
const (
	DecisionAppend         = "append"
	DecisionCreateSeparate = "create_separate"
	DecisionCancel         = "cancel"
)

// Amendment methods recorded when an append is applied.
const (
	methodSplice      = "splice"
	methodHashOverlap = "hash_overlap"
)

var (
	ErrNoMessages      = errors.New("upload contains no messages")
	ErrAlreadyDecided  = errors.New("import already decided")
	ErrUnknownDecision = errors.New("unknown decision action")
	ErrNoAppendTarget  = errors.New("append requires a target conversation")
)

// StagedMessage is one deduplicated, fingerprinted message held in an
// import payload until the user decides.
type StagedMessage struct {
	SenderName   string    `json:"sender_name"`
	SenderID     string    `json:"sender_id,omitempty"`
	ReceiverName string    `json:"receiver_name,omitempty"`
	ReceiverID   string    `json:"receiver_id,omitempty"`
	Body         string    `json:"body"`
	SentAt       time.Time `json:"sent_at"`
	Direction    string    `json:"direction"`
	ContentHash  string    `json:"content_hash"`
}

// ParticipantResolution records how a parsed participant name mapped onto
// the person directory. PersonID is empty when no match cleared the
// auto-link threshold; Suggestions then carry the weaker candidates.
type ParticipantResolution struct {
	Name        string        `json:"name"`
	PersonID    string        `json:"person_id,omitempty"`
	MatchType   string        `json:"match_type,omitempty"`
	Score       float64       `json:"score,omitempty"`
	Suggestions []match.Match `json:"suggestions,omitempty"`
}

// Payload is the staged upload persisted on the import row.
type Payload struct {
	Title        string                  `json:"title"`
	Participants []ParticipantResolution `json:"participants"`
	Messages     []StagedMessage         `json:"messages"`
	StartedAt    time.Time               `json:"started_at"`
	EndedAt      time.Time               `json:"ended_at"`
}

// Report is the continuity picture shown to the user for the decision.
type Report struct {
	ImportID        string                   `json:"import_id"`
	MessageCount    int                      `json:"message_count"`
	FragmentsMerged int                      `json:"fragments_merged"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Overlap         continuity.OverlapReport `json:"overlap"`
	Splice          *continuity.Splice       `json:"splice,omitempty"`
	Participants    []ParticipantResolution  `json:"participants"`
}

// Decision is the user's verdict on a staged import.
type Decision struct {
	Action         string `json:"action"` // "append", "create_separate", "cancel"
	ConversationID string `json:"conversation_id,omitempty"`
	Title          string `json:"title,omitempty"`
}

// ApplyResult describes what a decision actually wrote.
type ApplyResult struct {
	ImportID       string `json:"import_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessagesAdded  int    `json:"messages_added"`
	MessagesKnown  int    `json:"messages_known"`
	Method         string `json:"method,omitempty"`
}

// Importer stages parsed uploads and applies user decisions. Staging never
// writes conversation or message rows; only ApplyDecision does.
type Importer struct {
	store    *storage.Store
	detector *continuity.Detector
	logger   *slog.Logger
}

func NewImporter(store *storage.Store, detector *continuity.Detector) *Importer {
	return &Importer{
		store:    store,
		detector: detector,
		logger:   slog.Default(),
	}
}

// Stage deduplicates and fingerprints the upload, resolves participant
// names, runs both continuity strategies and saves the result as a pending
// import. The returned report is everything the user needs to decide.
func (imp *Importer) Stage(parsed ParsedConversation) (*Report, error) {
	payload, report, err := imp.preview(parsed)
	if err != nil {
		return nil, err
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	report.ImportID = uuid.New().String()
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}

	now := time.Now()
	err = imp.store.SaveImport(storage.Import{
		ID:          report.ImportID,
		Title:       parsed.Title,
		PayloadJSON: string(payloadJSON),
		ReportJSON:  string(reportJSON),
		Status:      "pending_decision",
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("saving import: %w", err)
	}

	imp.logger.Info("staged import",
		"import_id", report.ImportID,
		"messages", report.MessageCount,
		"fragments_merged", report.FragmentsMerged,
		"overlap_candidates", len(report.Overlap.Candidates))
	return report, nil
}

// Preview runs the full staging pipeline without persisting anything,
// for continuity checks that should leave no trace.
func (imp *Importer) Preview(parsed ParsedConversation) (*Report, error) {
	_, report, err := imp.preview(parsed)
	return report, err
}

func (imp *Importer) preview(parsed ParsedConversation) (Payload, *Report, error) {
	if len(parsed.Messages) == 0 {
		return Payload{}, nil, ErrNoMessages
	}

	deduped := DedupeFragments(parsed.Messages)

	resolutions, err := imp.resolveParticipants(parsed, deduped.Messages)
	if err != nil {
		return Payload{}, nil, fmt.Errorf("resolving participants: %w", err)
	}
	personIDByName := make(map[string]string, len(resolutions))
	for _, r := range resolutions {
		if r.PersonID != "" {
			personIDByName[r.Name] = r.PersonID
		}
	}

	payload := Payload{
		Title:        parsed.Title,
		Participants: resolutions,
	}
	for _, m := range deduped.Messages {
		staged := StagedMessage{
			SenderName:   m.SenderName,
			SenderID:     personIDByName[m.SenderName],
			ReceiverName: m.ReceiverName,
			ReceiverID:   personIDByName[m.ReceiverName],
			Body:         m.Body,
			SentAt:       m.SentAt,
			Direction:    m.Direction,
		}
		staged.ContentHash = stagedHash(staged)
		payload.Messages = append(payload.Messages, staged)
		if payload.StartedAt.IsZero() || m.SentAt.Before(payload.StartedAt) {
			payload.StartedAt = m.SentAt
		}
		if m.SentAt.After(payload.EndedAt) {
			payload.EndedAt = m.SentAt
		}
	}

	report := &Report{
		MessageCount:    len(payload.Messages),
		FragmentsMerged: deduped.Merged,
		Warnings:        deduped.Warnings,
		Participants:    resolutions,
	}

	// Continuity signals only make sense against known participants.
	var participantIDs []string
	for _, id := range personIDByName {
		participantIDs = append(participantIDs, id)
	}
	if len(participantIDs) > 0 {
		hashes := make([]string, len(payload.Messages))
		for i, m := range payload.Messages {
			hashes[i] = m.ContentHash
		}
		overlap, err := imp.detector.DetectOverlap(participantIDs, payload.StartedAt, payload.EndedAt, hashes)
		if err != nil {
			return Payload{}, nil, fmt.Errorf("detecting overlap: %w", err)
		}
		report.Overlap = overlap
	}

	spliceInput := make([]continuity.NewMessage, len(payload.Messages))
	for i, m := range payload.Messages {
		spliceInput[i] = continuity.NewMessage{Body: m.Body, SentAt: m.SentAt}
	}
	splice, err := imp.detector.FindSplicePoint(spliceInput)
	if err != nil {
		return Payload{}, nil, fmt.Errorf("finding splice point: %w", err)
	}
	report.Splice = splice

	return payload, report, nil
}

// ApplyDecision applies the user's verdict on a staged import. This is the
// only path that writes conversations and messages.
func (imp *Importer) ApplyDecision(importID string, decision Decision) (*ApplyResult, error) {
	record, err := imp.store.GetImport(importID)
	if err != nil {
		return nil, fmt.Errorf("loading import %s: %w", importID, err)
	}
	if record.Status != "pending_decision" {
		return nil, fmt.Errorf("import %s is %s: %w", importID, record.Status, ErrAlreadyDecided)
	}

	if decision.Action == DecisionCancel {
		if err := imp.store.MarkImportDecided(importID, "discarded"); err != nil {
			return nil, err
		}
		return &ApplyResult{ImportID: importID}, nil
	}

	var payload Payload
	if err := json.Unmarshal([]byte(record.PayloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	var report Report
	if err := json.Unmarshal([]byte(record.ReportJSON), &report); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}

	var result *ApplyResult
	switch decision.Action {
	case DecisionAppend:
		result, err = imp.applyAppend(payload, report, decision)
	case DecisionCreateSeparate:
		result, err = imp.applyCreateSeparate(payload, decision)
	default:
		return nil, fmt.Errorf("%q: %w", decision.Action, ErrUnknownDecision)
	}
	if err != nil {
		return nil, err
	}
	result.ImportID = importID

	if err := imp.store.MarkImportDecided(importID, "applied"); err != nil {
		return nil, fmt.Errorf("marking import applied: %w", err)
	}
	if err := imp.enqueueAnalysis(result.ConversationID); err != nil {
		// The import itself succeeded; analysis can be requested manually.
		imp.logger.Warn("failed to enqueue analysis job",
			"conversation_id", result.ConversationID, "error", err)
	}

	imp.logger.Info("applied import decision",
		"import_id", importID,
		"action", decision.Action,
		"conversation_id", result.ConversationID,
		"messages_added", result.MessagesAdded,
		"method", result.Method)
	return result, nil
}

// applyAppend extends an existing conversation. When the splice strategy
// aligned the upload, everything before the splice point is skipped
// wholesale; otherwise every message goes through per-hash dedup and the
// store drops the ones it already holds.
func (imp *Importer) applyAppend(payload Payload, report Report, decision Decision) (*ApplyResult, error) {
	targetID := decision.ConversationID
	if targetID == "" && report.Splice != nil {
		targetID = report.Splice.ConversationID
	}
	if targetID == "" && report.Overlap.Primary != nil {
		targetID = report.Overlap.Primary.Conversation.ID
	}
	if targetID == "" {
		return nil, ErrNoAppendTarget
	}
	if _, err := imp.store.GetConversation(targetID); err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", targetID, err)
	}

	messages, err := imp.materializePeople(payload.Messages)
	if err != nil {
		return nil, err
	}

	method := methodHashOverlap
	if report.Splice != nil && report.Splice.ConversationID == targetID && report.Splice.SpliceIndex >= 0 {
		method = methodSplice
		skip := report.Splice.SpliceIndex + 1
		if skip > len(messages) {
			skip = len(messages)
		}
		messages = messages[skip:]
	}

	added, known := 0, len(payload.Messages)-len(messages)
	var first, last time.Time
	for _, m := range messages {
		inserted, err := imp.insertMessage(targetID, m)
		if err != nil {
			return nil, fmt.Errorf("inserting message: %w", err)
		}
		if !inserted {
			known++
			continue
		}
		added++
		if first.IsZero() || m.SentAt.Before(first) {
			first = m.SentAt
		}
		if m.SentAt.After(last) {
			last = m.SentAt
		}
	}

	if added > 0 {
		amendment := storage.Amendment{
			Date:          time.Now(),
			MessagesAdded: added,
			Method:        method,
		}
		if err := imp.store.AppendAmendment(targetID, amendment, first, last); err != nil {
			return nil, fmt.Errorf("recording amendment: %w", err)
		}
	}

	return &ApplyResult{
		ConversationID: targetID,
		MessagesAdded:  added,
		MessagesKnown:  known,
		Method:         method,
	}, nil
}

func (imp *Importer) applyCreateSeparate(payload Payload, decision Decision) (*ApplyResult, error) {
	messages, err := imp.materializePeople(payload.Messages)
	if err != nil {
		return nil, err
	}

	participants := make(map[string]bool)
	for _, m := range messages {
		if m.SenderID != "" {
			participants[m.SenderID] = true
		}
		if m.ReceiverID != "" {
			participants[m.ReceiverID] = true
		}
	}
	participantIDs := make([]string, 0, len(participants))
	for id := range participants {
		participantIDs = append(participantIDs, id)
	}

	title := decision.Title
	if title == "" {
		title = payload.Title
	}

	conv := storage.Conversation{
		ID:             uuid.New().String(),
		Title:          title,
		ParticipantIDs: participantIDs,
		StartedAt:      payload.StartedAt,
		EndedAt:        payload.EndedAt,
		Status:         "open",
		CreatedAt:      time.Now(),
	}
	if err := imp.store.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	added := 0
	for _, m := range messages {
		inserted, err := imp.insertMessage(conv.ID, m)
		if err != nil {
			return nil, fmt.Errorf("inserting message: %w", err)
		}
		if inserted {
			added++
		}
	}

	return &ApplyResult{
		ConversationID: conv.ID,
		MessagesAdded:  added,
		MessagesKnown:  len(messages) - added,
	}, nil
}

func (imp *Importer) insertMessage(conversationID string, m StagedMessage) (bool, error) {
	return imp.store.InsertMessage(storage.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		RawText:        m.Body,
		SentAt:         m.SentAt,
		Direction:      m.Direction,
		ContentHash:    m.ContentHash,
		CreatedAt:      time.Now(),
	})
}

// materializePeople creates person rows for names staging could not
// resolve, then rekeys the affected fingerprints to the new person IDs so
// future imports from the same sender dedupe correctly.
func (imp *Importer) materializePeople(messages []StagedMessage) ([]StagedMessage, error) {
	created := make(map[string]string)

	personIDFor := func(name, id string) (string, error) {
		if id != "" || name == "" {
			return id, nil
		}
		if existing, ok := created[name]; ok {
			return existing, nil
		}
		person := storage.Person{
			ID:        uuid.New().String(),
			FullName:  name,
			Role:      "other",
			CreatedAt: time.Now(),
		}
		if err := imp.store.SavePerson(person); err != nil {
			return "", fmt.Errorf("creating person %q: %w", name, err)
		}
		imp.logger.Info("created person from import", "person_id", person.ID, "name", name)
		created[name] = person.ID
		return person.ID, nil
	}

	out := make([]StagedMessage, len(messages))
	for i, m := range messages {
		senderID, err := personIDFor(m.SenderName, m.SenderID)
		if err != nil {
			return nil, err
		}
		receiverID, err := personIDFor(m.ReceiverName, m.ReceiverID)
		if err != nil {
			return nil, err
		}
		rekey := m.SenderID == "" && senderID != ""
		m.SenderID, m.ReceiverID = senderID, receiverID
		if rekey {
			m.ContentHash = stagedHash(m)
		}
		out[i] = m
	}
	return out, nil
}

// resolveParticipants maps every distinct name in the upload onto the
// person directory. Directions are also filled in here: messages sent by
// the owner are outgoing, everything else incoming.
func (imp *Importer) resolveParticipants(parsed ParsedConversation, messages []ParsedMessage) ([]ParticipantResolution, error) {
	people, err := imp.store.ListPeople()
	if err != nil {
		return nil, err
	}
	directory := make([]match.Person, len(people))
	for i, p := range people {
		directory[i] = match.Person{ID: p.ID, FullName: p.FullName}
	}

	var meID string
	if me, err := imp.store.FindPersonByRole("me"); err == nil {
		meID = me.ID
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	addName := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, name := range parsed.Participants {
		addName(name)
	}
	for i := range messages {
		addName(messages[i].SenderName)
		addName(messages[i].ReceiverName)
	}

	resolutions := make([]ParticipantResolution, 0, len(names))
	idByName := make(map[string]string, len(names))
	for _, name := range names {
		r := ParticipantResolution{Name: name}
		if best := match.FindBestMatch(name, directory, match.DefaultAllThreshold); best != nil {
			if best.Score >= autoLinkThreshold {
				r.PersonID = best.PersonID
				r.MatchType = best.MatchType
				r.Score = best.Score
			} else {
				r.Suggestions = match.FindAllMatches(name, directory, match.DefaultAllThreshold)
			}
		}
		idByName[name] = r.PersonID
		resolutions = append(resolutions, r)
	}

	for i := range messages {
		if messages[i].Direction != "" {
			continue
		}
		if meID != "" && idByName[messages[i].SenderName] == meID {
			messages[i].Direction = "outgoing"
		} else {
			messages[i].Direction = "incoming"
		}
	}

	return resolutions, nil
}

// stagedHash fingerprints a staged message, keyed by person ID when the
// sender resolved and by name otherwise.
func stagedHash(m StagedMessage) string {
	key := m.SenderID
	if key == "" {
		key = m.SenderName
	}
	return fingerprint.Message(key, m.SentAt, m.Body)
}

func (imp *Importer) enqueueAnalysis(conversationID string) error {
	if conversationID == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"conversation_id": conversationID})
	if err != nil {
		return err
	}
	return imp.store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        "analyze_conversation",
		PayloadJSON: string(payload),
	})
}
