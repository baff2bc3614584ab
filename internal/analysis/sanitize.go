package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// defaultTone is used when the model omits or garbles the overall tone.
const defaultTone = "neutral"

// ValidationResult is the sanitizer's output. IsValid reflects hard errors
// only; warnings describe per-record drops and defaults that let the
// pipeline continue. Sanitized is always usable, even on invalid input.
type ValidationResult struct {
	IsValid   bool      `json:"is_valid"`
	Errors    []string  `json:"errors"`
	Warnings  []string  `json:"warnings"`
	Sanitized Sanitized `json:"sanitized"`
}

// Sanitize hardens a raw analysis payload. It never fails: malformed JSON
// and missing sections degrade to defaults, individual records missing
// required fields are dropped with a warning, and every collection in the
// output is non-nil.
func Sanitize(raw json.RawMessage) ValidationResult {
	res := ValidationResult{
		IsValid:  true,
		Errors:   []string{},
		Warnings: []string{},
		Sanitized: Sanitized{
			ConversationAnalysis: ConversationAnalysis{OverallTone: defaultTone},
			IssueActions:         []IssueAction{},
			PersonAnalyses:       []PersonAnalysis{},
			MessageAnnotations:   []MessageAnnotation{},
			DetectedAgreements:   []DetectedAgreement{},
		},
	}

	var top map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &top); err != nil {
			res.IsValid = false
			res.Errors = append(res.Errors, fmt.Sprintf("analysis result is not a JSON object: %v", err))
			return res
		}
	}

	sanitizeConversationAnalysis(top, &res)
	sanitizeIssueActions(top, &res)
	sanitizePersonAnalyses(top, &res)
	sanitizeMessageAnnotations(top, &res)
	sanitizeDetectedAgreements(top, &res)

	return res
}

func sanitizeConversationAnalysis(top map[string]any, res *ValidationResult) {
	ca, ok := asMap(top["conversationAnalysis"])
	if !ok {
		res.IsValid = false
		res.Errors = append(res.Errors, "conversationAnalysis is missing")
		res.Warnings = append(res.Warnings, "using empty summary and neutral tone")
		return
	}

	summary, ok := asString(ca["summary"])
	if !ok || summary == "" {
		res.Warnings = append(res.Warnings, "conversationAnalysis.summary missing, defaulting to empty")
	}
	res.Sanitized.ConversationAnalysis.Summary = summary

	tone, ok := asString(ca["overallTone"])
	if !ok || tone == "" {
		res.Warnings = append(res.Warnings, "conversationAnalysis.overallTone missing, defaulting to neutral")
		tone = defaultTone
	}
	res.Sanitized.ConversationAnalysis.OverallTone = tone

	if resolution, ok := asMap(ca["resolution"]); ok {
		status, _ := asString(resolution["status"])
		if status != "" {
			responder, _ := asString(resolution["pendingResponderName"])
			res.Sanitized.ConversationAnalysis.Resolution = &Resolution{
				Status:               status,
				PendingResponderName: strings.TrimSpace(responder),
			}
		}
	}
}

func sanitizeIssueActions(top map[string]any, res *ValidationResult) {
	for i, item := range asSlice(top["issueActions"]) {
		m, ok := asMap(item)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("issueActions[%d] is not an object, dropped", i))
			continue
		}

		title, _ := asString(m["title"])
		if strings.TrimSpace(title) == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("issueActions[%d] missing title, dropped", i))
			continue
		}

		action, _ := asString(m["action"])
		if action != "update" {
			action = "create"
		}
		issueID, _ := asString(m["issueId"])
		if action == "update" && issueID == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("issueActions[%d] is an update without issueId, dropped", i))
			continue
		}

		ia := IssueAction{
			Action:     action,
			IssueID:    issueID,
			Title:      strings.TrimSpace(title),
			People:     []IssuePersonLink{},
			MessageIDs: asStringSlice(m["messageIds"]),
		}
		ia.Description, _ = asString(m["description"])
		ia.Status, _ = asString(m["status"])
		ia.Priority, _ = asString(m["priority"])

		for j, p := range asSlice(m["people"]) {
			pm, ok := asMap(p)
			if !ok {
				continue
			}
			personID, _ := asString(pm["personId"])
			if personID == "" {
				res.Warnings = append(res.Warnings, fmt.Sprintf("issueActions[%d].people[%d] missing personId, dropped", i, j))
				continue
			}
			link := IssuePersonLink{PersonID: personID}
			link.ContributionType, _ = asString(pm["contributionType"])
			link.ContributionDescription, _ = asString(pm["contributionDescription"])
			link.ContributionValence, _ = asString(pm["contributionValence"])
			ia.People = append(ia.People, link)
		}

		res.Sanitized.IssueActions = append(res.Sanitized.IssueActions, ia)
	}
}

func sanitizePersonAnalyses(top map[string]any, res *ValidationResult) {
	for i, item := range asSlice(top["personAnalyses"]) {
		m, ok := asMap(item)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("personAnalyses[%d] is not an object, dropped", i))
			continue
		}

		personID, _ := asString(m["personId"])
		if personID == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("personAnalyses[%d] missing personId, dropped", i))
			continue
		}

		pa := PersonAnalysis{
			PersonID:                   personID,
			NotablePatterns:            asStringSlice(m["notablePatterns"]),
			InteractionRecommendations: asStringSlice(m["interactionRecommendations"]),
			Concerns:                   asStringSlice(m["concerns"]),
		}
		pa.BehavioralAssessment, _ = asString(m["behavioralAssessment"])

		// Legacy shape: fold clinicalAssessment/strategicNotes into the
		// canonical fields so downstream note generation has one path.
		if pa.BehavioralAssessment == "" {
			if legacy, _ := asString(m["clinicalAssessment"]); legacy != "" {
				pa.BehavioralAssessment = legacy
				res.Warnings = append(res.Warnings, fmt.Sprintf("personAnalyses[%d] used legacy clinicalAssessment", i))
			}
		}
		if legacy, _ := asString(m["strategicNotes"]); legacy != "" {
			pa.InteractionRecommendations = append(pa.InteractionRecommendations, legacy)
		}

		res.Sanitized.PersonAnalyses = append(res.Sanitized.PersonAnalyses, pa)
	}
}

func sanitizeMessageAnnotations(top map[string]any, res *ValidationResult) {
	for i, item := range asSlice(top["messageAnnotations"]) {
		m, ok := asMap(item)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("messageAnnotations[%d] is not an object, dropped", i))
			continue
		}

		messageID, _ := asString(m["messageId"])
		if messageID == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("messageAnnotations[%d] missing messageId, dropped", i))
			continue
		}

		ann := MessageAnnotation{MessageID: messageID, Flags: []MessageFlag{}}
		for j, f := range asSlice(m["flags"]) {
			fm, ok := asMap(f)
			if !ok {
				continue
			}
			flag := MessageFlag{}
			flag.Type, _ = asString(fm["type"])
			flag.AttributedToPersonID, _ = asString(fm["attributedToPersonId"])
			flag.Description, _ = asString(fm["description"])
			if flag.Type == "" || flag.AttributedToPersonID == "" || flag.Description == "" {
				res.Warnings = append(res.Warnings, fmt.Sprintf("messageAnnotations[%d].flags[%d] incomplete, dropped", i, j))
				continue
			}
			ann.Flags = append(ann.Flags, flag)
		}

		res.Sanitized.MessageAnnotations = append(res.Sanitized.MessageAnnotations, ann)
	}
}

func sanitizeDetectedAgreements(top map[string]any, res *ValidationResult) {
	for i, item := range asSlice(top["detectedAgreements"]) {
		m, ok := asMap(item)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("detectedAgreements[%d] is not an object, dropped", i))
			continue
		}

		topic, _ := asString(m["topic"])
		summary, _ := asString(m["summary"])
		if strings.TrimSpace(topic) == "" || strings.TrimSpace(summary) == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("detectedAgreements[%d] missing topic or summary, dropped", i))
			continue
		}

		da := DetectedAgreement{Topic: strings.TrimSpace(topic), Summary: strings.TrimSpace(summary)}
		da.FullText, _ = asString(m["fullText"])
		da.ContingencyCondition, _ = asString(m["contingencyCondition"])
		da.OverridesItemID, _ = asString(m["overridesItemId"])
		da.SourceMessageID, _ = asString(m["sourceMessageId"])
		if da.FullText == "" {
			da.FullText = da.Summary
		}

		res.Sanitized.DetectedAgreements = append(res.Sanitized.DetectedAgreements, da)
	}
}

// --- loose-typed accessors ---

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asSlice(v any) []any {
	s, ok := v.([]any)
	if !ok {
		return nil
	}
	return s
}

// asStringSlice keeps only string elements, silently skipping others.
func asStringSlice(v any) []string {
	out := []string{}
	for _, item := range asSlice(v) {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
