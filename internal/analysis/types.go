// Package analysis owns the trust boundary around the external AI analysis
// call: the analyzer client that produces an untrusted JSON result, and the
// sanitizer that hardens it into the internal shape the reconciler consumes.
// Untrusted shapes never flow past this package.
package analysis

// Sanitized is the trusted analysis shape. Every collection is non-nil and
// every record has its required fields; anything else was dropped with a
// warning during sanitization.
type Sanitized struct {
	ConversationAnalysis ConversationAnalysis `json:"conversation_analysis"`
	IssueActions         []IssueAction        `json:"issue_actions"`
	PersonAnalyses       []PersonAnalysis     `json:"person_analyses"`
	MessageAnnotations   []MessageAnnotation  `json:"message_annotations"`
	DetectedAgreements   []DetectedAgreement  `json:"detected_agreements"`
}

type ConversationAnalysis struct {
	Summary     string      `json:"summary"`
	OverallTone string      `json:"overall_tone"`
	Resolution  *Resolution `json:"resolution,omitempty"`
}

// Resolution reports whether the analysis considers the conversation
// settled and, if not, who owes the next reply. PendingResponderName is
// free text from the model; the reconciler resolves it to a person id.
type Resolution struct {
	Status               string `json:"status"` // "resolved", "awaiting_response"
	PendingResponderName string `json:"pending_responder_name,omitempty"`
}

type IssueAction struct {
	Action      string             `json:"action"` // "create", "update"
	IssueID     string             `json:"issue_id,omitempty"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Status      string             `json:"status,omitempty"`
	Priority    string             `json:"priority,omitempty"`
	People      []IssuePersonLink  `json:"people"`
	MessageIDs  []string           `json:"message_ids"`
}

type IssuePersonLink struct {
	PersonID                string `json:"person_id"`
	ContributionType        string `json:"contribution_type"`
	ContributionDescription string `json:"contribution_description,omitempty"`
	ContributionValence     string `json:"contribution_valence,omitempty"`
}

// PersonAnalysis is the canonical behavioral shape. The legacy
// clinical-assessment/strategic-notes shape is folded into it at
// sanitization time so downstream code has a single path.
type PersonAnalysis struct {
	PersonID                   string   `json:"person_id"`
	BehavioralAssessment       string   `json:"behavioral_assessment,omitempty"`
	NotablePatterns            []string `json:"notable_patterns"`
	InteractionRecommendations []string `json:"interaction_recommendations"`
	Concerns                   []string `json:"concerns"`
}

type MessageAnnotation struct {
	MessageID string        `json:"message_id"`
	Flags     []MessageFlag `json:"flags"`
}

type MessageFlag struct {
	Type                 string `json:"type"`
	AttributedToPersonID string `json:"attributed_to_person_id"`
	Description          string `json:"description"`
}

type DetectedAgreement struct {
	Topic                string `json:"topic"`
	Summary              string `json:"summary"`
	FullText             string `json:"full_text,omitempty"`
	ContingencyCondition string `json:"contingency_condition,omitempty"`
	OverridesItemID      string `json:"overrides_item_id,omitempty"`
	SourceMessageID      string `json:"source_message_id,omitempty"`
}
