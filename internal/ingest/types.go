// Package ingest turns parser output into persisted conversations: it
// deduplicates fragments, fingerprints messages, runs continuity detection,
// stages the result for an explicit user decision, and applies that decision.
// It also hosts the polling worker that processes queued analysis jobs.
package ingest

import "time"

// ParsedMessage is one message as produced by the external parser
// collaborator. Transient: never persisted directly.
type ParsedMessage struct {
	SenderName   string    `json:"sender_name"`
	ReceiverName string    `json:"receiver_name,omitempty"`
	SentAt       time.Time `json:"sent_at"`
	Body         string    `json:"body"`
	Direction    string    `json:"direction,omitempty"` // "incoming", "outgoing"
}

// ParsedConversation is the external parser's output for one upload.
type ParsedConversation struct {
	Title        string          `json:"title"`
	Participants []string        `json:"participants"`
	Messages     []ParsedMessage `json:"messages"`
}
