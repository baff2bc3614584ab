package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Person is a known identity that extracted names resolve against.
type Person struct {
	ID          string    `json:"id"`
	FullName    string    `json:"full_name"`
	Role        string    `json:"role"` // "me", "co_parent", "child", "lawyer", "mediator", "other"
	RoleContext string    `json:"role_context,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Amendment records a single continuity-append event on a conversation.
// amendment_history is append-only; normal edits never touch it.
type Amendment struct {
	Date          time.Time `json:"date"`
	MessagesAdded int       `json:"messages_added"`
	Method        string    `json:"method"` // "splice", "hash_overlap", "manual"
}

type Conversation struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	ParticipantIDs     []string    `json:"participant_ids"`
	StartedAt          time.Time   `json:"started_at"`
	EndedAt            time.Time   `json:"ended_at"`
	Status             string      `json:"status"` // "open", "resolved"
	PendingResponderID string      `json:"pending_responder_id,omitempty"`
	AmendmentHistory   []Amendment `json:"amendment_history"`
	CreatedAt          time.Time   `json:"created_at"`
}

// Message is an imported communication record. Immutable after creation;
// (conversation_id, content_hash) is unique and is the dedup invariant.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id,omitempty"`
	RawText        string    `json:"raw_text"`
	SentAt         time.Time `json:"sent_at"`
	Direction      string    `json:"direction"` // "incoming", "outgoing"
	ContentHash    string    `json:"content_hash"`
	CreatedAt      time.Time `json:"created_at"`
}

type Issue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`   // "open", "monitoring", "resolved"
	Priority    string    `json:"priority"` // "low", "medium", "high"
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IssueContribution links a person to an issue. One row per
// (issue_id, person_id); re-reconciliation updates it in place.
type IssueContribution struct {
	IssueID                 string `json:"issue_id"`
	PersonID                string `json:"person_id"`
	ContributionType        string `json:"contribution_type"`
	ContributionDescription string `json:"contribution_description,omitempty"`
	ContributionValence     string `json:"contribution_valence,omitempty"` // "positive", "negative", "neutral"
}

// AgreementItem is one entry in an agreement. OverridesItemID forms a
// singly-linked override chain; superseded items are never deleted.
type AgreementItem struct {
	ID                   string    `json:"id"`
	AgreementID          string    `json:"agreement_id,omitempty"`
	Topic                string    `json:"topic"`
	FullText             string    `json:"full_text"`
	OverridesItemID      string    `json:"overrides_item_id,omitempty"`
	OverrideStatus       string    `json:"override_status,omitempty"` // "active", "disputed", "withdrawn"
	ContingencyCondition string    `json:"contingency_condition,omitempty"`
	SourceConversationID string    `json:"source_conversation_id,omitempty"`
	SourceMessageID      string    `json:"source_message_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// ProfileNote is an analysis-derived note about a person.
// (person_id, source_conversation_id, type) is unique so re-analysis
// replaces rather than duplicates.
type ProfileNote struct {
	ID                   string    `json:"id"`
	PersonID             string    `json:"person_id"`
	Type                 string    `json:"type"` // "observation", "strategy", "pattern"
	Content              string    `json:"content"`
	SourceConversationID string    `json:"source_conversation_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Import is a staged upload awaiting the user's continuity decision.
// No message rows exist until the decision is applied.
type Import struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	PayloadJSON string    `json:"payload_json"` // staged messages + participant resolution
	ReportJSON  string    `json:"report_json"`  // continuity report shown to the user
	Status      string    `json:"status"`       // "pending_decision", "applied", "discarded"
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
