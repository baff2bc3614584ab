package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/caselog/internal/analysis"
	"github.com/kalambet/caselog/internal/reconcile"
	"github.com/kalambet/caselog/internal/storage"
)

// JobStore abstracts the job queue and the reads an analysis needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetConversation(id string) (storage.Conversation, error)
	ListMessages(conversationID string) ([]storage.Message, error)
	GetPerson(id string) (storage.Person, error)
	FindPersonByRole(role string) (storage.Person, error)
	ListAgreementItems() ([]storage.AgreementItem, error)
	ListIssues() ([]storage.Issue, error)
	ListConversationIssues(conversationID string) ([]string, error)
}

// ConversationAnalyzer produces a raw analysis for a conversation.
type ConversationAnalyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (json.RawMessage, error)
}

// Reconciler merges sanitized analysis output into the store.
type Reconciler interface {
	Apply(ctx context.Context, conversationID string, s analysis.Sanitized) reconcile.Result
}

// Worker processes analyze_conversation jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	analyzer ConversationAnalyzer
	applier  Reconciler
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, analyzer ConversationAnalyzer, applier Reconciler, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		analyzer: analyzer,
		applier:  applier,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single analyze_conversation job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{"analyze_conversation"})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type analyzePayload struct {
	ConversationID string `json:"conversation_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload analyzePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	req, err := w.buildRequest(payload.ConversationID)
	if err != nil {
		return err
	}

	raw, err := w.analyzer.Analyze(ctx, req)
	if err != nil {
		return fmt.Errorf("analyzing conversation %s: %w", payload.ConversationID, err)
	}

	validated := analysis.Sanitize(raw)
	for _, warning := range validated.Warnings {
		w.logger.Warn("analysis sanitizer warning",
			"conversation_id", payload.ConversationID, "warning", warning)
	}
	if !validated.IsValid {
		return fmt.Errorf("analysis rejected: %v", validated.Errors)
	}

	result := w.applier.Apply(ctx, payload.ConversationID, validated.Sanitized)
	if !result.Success {
		// Reconciliation is idempotent, so the retry re-applies the
		// sections that succeeded and picks up the ones that did not.
		return fmt.Errorf("reconciliation incomplete: %v", result.Errors)
	}

	w.logger.Info("conversation analyzed",
		"conversation_id", payload.ConversationID,
		"sections", result.SectionsProcessed)
	return nil
}

// buildRequest assembles everything the model needs to see: the messages,
// the participants, standing agreement items and the issues already on file.
func (w *Worker) buildRequest(conversationID string) (analysis.Request, error) {
	conv, err := w.store.GetConversation(conversationID)
	if err != nil {
		return analysis.Request{}, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}

	messages, err := w.store.ListMessages(conv.ID)
	if err != nil {
		return analysis.Request{}, fmt.Errorf("loading messages: %w", err)
	}

	participants := make([]storage.Person, 0, len(conv.ParticipantIDs))
	for _, id := range conv.ParticipantIDs {
		person, err := w.store.GetPerson(id)
		if err != nil {
			return analysis.Request{}, fmt.Errorf("loading person %s: %w", id, err)
		}
		participants = append(participants, person)
	}

	agreements, err := w.store.ListAgreementItems()
	if err != nil {
		return analysis.Request{}, fmt.Errorf("loading agreement items: %w", err)
	}

	issues, err := w.store.ListIssues()
	if err != nil {
		return analysis.Request{}, fmt.Errorf("loading issues: %w", err)
	}

	var meID string
	if me, err := w.store.FindPersonByRole("me"); err == nil {
		meID = me.ID
	} else if !errors.Is(err, storage.ErrNotFound) {
		return analysis.Request{}, err
	}

	linked, err := w.store.ListConversationIssues(conv.ID)
	if err != nil {
		return analysis.Request{}, fmt.Errorf("loading linked issues: %w", err)
	}

	return analysis.Request{
		ConversationID: conv.ID,
		Messages:       messages,
		Participants:   participants,
		AgreementItems: agreements,
		ExistingIssues: issues,
		MePersonID:     meID,
		IsReanalysis:   len(linked) > 0,
	}, nil
}
