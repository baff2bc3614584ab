package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/caselog/internal/llm"
	"github.com/kalambet/caselog/internal/storage"
)

// Chatter is the chat-completion interface the analyzer needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, jsonSchema *llm.Schema) (string, error)
}

// Request carries everything the model sees about a conversation.
type Request struct {
	ConversationID string
	Messages       []storage.Message
	Participants   []storage.Person
	AgreementItems []storage.AgreementItem
	ExistingIssues []storage.Issue
	MePersonID     string
	IsReanalysis   bool
}

// Analyzer calls the LLM to produce a structured analysis of a conversation.
// Its output is untrusted and must pass through Sanitize before use.
type Analyzer struct {
	client Chatter
	model  string
}

func NewAnalyzer(client Chatter, model string) *Analyzer {
	return &Analyzer{client: client, model: model}
}

// Analyze runs the analysis call and returns the raw JSON the model
// produced. It validates nothing beyond "the response is JSON at all".
func (a *Analyzer) Analyze(ctx context.Context, req Request) (json.RawMessage, error) {
	messages, err := BuildPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("building analysis prompt: %w", err)
	}

	raw, err := a.client.Chat(ctx, a.model, messages, resultSchema())
	if err != nil {
		return nil, fmt.Errorf("analysis chat: %w", err)
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("analysis response is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
