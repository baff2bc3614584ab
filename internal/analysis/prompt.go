package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/caselog/internal/llm"
)

const systemPrompt = `You analyze co-parenting and legal communication records.
Given a conversation transcript with participant identities, existing issues,
and current agreement items, produce a JSON analysis with:
- conversationAnalysis: summary, overallTone, and (when determinable) a
  resolution with status and pendingResponderName
- issueActions: create or update entries for substantive disputes, each with
  a title and the people involved (by personId)
- personAnalyses: per participant, behavioralAssessment, notablePatterns,
  interactionRecommendations, concerns
- messageAnnotations: flags tied to specific messageIds, each with type,
  attributedToPersonId, and description
- detectedAgreements: explicit commitments reached in this conversation,
  with topic and summary; set overridesItemId when a commitment supersedes
  an existing agreement item
Refer to people only by the personId values provided. Output JSON only.`

// promptContext is the serialized payload handed to the model.
type promptContext struct {
	ConversationID string            `json:"conversationId"`
	IsReanalysis   bool              `json:"isReanalysis"`
	MePersonID     string            `json:"mePersonId,omitempty"`
	Participants   []promptPerson    `json:"participants"`
	Messages       []promptMessage   `json:"messages"`
	ExistingIssues []promptIssue     `json:"existingIssues"`
	AgreementItems []promptAgreement `json:"agreementItems"`
}

type promptPerson struct {
	PersonID string `json:"personId"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

type promptMessage struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	SentAt    string `json:"sentAt"`
	Text      string `json:"text"`
}

type promptIssue struct {
	IssueID string `json:"issueId"`
	Title   string `json:"title"`
	Status  string `json:"status"`
}

type promptAgreement struct {
	ItemID   string `json:"itemId"`
	Topic    string `json:"topic"`
	FullText string `json:"fullText"`
}

// BuildPrompt assembles the chat messages for one analysis call.
func BuildPrompt(req Request) ([]llm.Message, error) {
	pc := promptContext{
		ConversationID: req.ConversationID,
		IsReanalysis:   req.IsReanalysis,
		MePersonID:     req.MePersonID,
		Participants:   []promptPerson{},
		Messages:       []promptMessage{},
		ExistingIssues: []promptIssue{},
		AgreementItems: []promptAgreement{},
	}

	for _, p := range req.Participants {
		pc.Participants = append(pc.Participants, promptPerson{PersonID: p.ID, FullName: p.FullName, Role: p.Role})
	}
	for _, m := range req.Messages {
		pc.Messages = append(pc.Messages, promptMessage{
			MessageID: m.ID,
			SenderID:  m.SenderID,
			SentAt:    m.SentAt.UTC().Format(time.RFC3339),
			Text:      m.RawText,
		})
	}
	for _, i := range req.ExistingIssues {
		pc.ExistingIssues = append(pc.ExistingIssues, promptIssue{IssueID: i.ID, Title: i.Title, Status: i.Status})
	}
	for _, a := range req.AgreementItems {
		pc.AgreementItems = append(pc.AgreementItems, promptAgreement{ItemID: a.ID, Topic: a.Topic, FullText: a.FullText})
	}

	payload, err := json.Marshal(pc)
	if err != nil {
		return nil, fmt.Errorf("marshaling prompt context: %w", err)
	}

	var user strings.Builder
	user.WriteString("Analyze this conversation:\n\n")
	user.Write(payload)

	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user.String()},
	}, nil
}

// resultSchema constrains the model to the analysis result shape. Nested
// structures are expressed with plain maps; the sanitizer remains the actual
// enforcement point.
func resultSchema() *llm.Schema {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	strArr := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	objArr := func(props map[string]any, required ...string) map[string]any {
		item := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			item["required"] = required
		}
		return map[string]any{"type": "array", "items": item}
	}

	return &llm.Schema{
		Type: "object",
		Properties: map[string]any{
			"conversationAnalysis": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"summary":     str("Concise summary of the conversation"),
					"overallTone": str("One of: cooperative, neutral, tense, hostile"),
					"resolution": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"status":               str("resolved or awaiting_response"),
							"pendingResponderName": str("Who owes the next reply, if awaiting"),
						},
					},
				},
				"required": []string{"summary", "overallTone"},
			},
			"issueActions": objArr(map[string]any{
				"action":      str("create or update"),
				"issueId":     str("Existing issue id for updates"),
				"title":       str("Issue title"),
				"description": str("Issue description"),
				"status":      str("open, monitoring, or resolved"),
				"priority":    str("low, medium, or high"),
				"people": objArr(map[string]any{
					"personId":                str("Participant personId"),
					"contributionType":        str("e.g. primary_contributor, affected_party"),
					"contributionDescription": str("How this person relates to the issue"),
					"contributionValence":     str("positive, negative, or neutral"),
				}, "personId"),
				"messageIds": strArr,
			}, "title"),
			"personAnalyses": objArr(map[string]any{
				"personId":                   str("Participant personId"),
				"behavioralAssessment":       str("Observed communication behavior"),
				"notablePatterns":            strArr,
				"interactionRecommendations": strArr,
				"concerns":                   strArr,
			}, "personId"),
			"messageAnnotations": objArr(map[string]any{
				"messageId": str("Message id the flags apply to"),
				"flags": objArr(map[string]any{
					"type":                 str("Flag type"),
					"attributedToPersonId": str("Person responsible"),
					"description":          str("What was observed"),
				}, "type", "attributedToPersonId", "description"),
			}, "messageId"),
			"detectedAgreements": objArr(map[string]any{
				"topic":                str("Agreement topic"),
				"summary":              str("What was agreed"),
				"fullText":             str("Full agreement wording"),
				"contingencyCondition": str("Condition the agreement depends on, if any"),
				"overridesItemId":      str("Agreement item this supersedes, if any"),
				"sourceMessageId":      str("Message where the agreement was made"),
			}, "topic", "summary"),
		},
		Required: []string{"conversationAnalysis"},
	}
}
