package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/caselog/internal/analysis"
	"github.com/kalambet/caselog/internal/reconcile"
	"github.com/kalambet/caselog/internal/storage"
)

type mockAnalyzer struct {
	lastRequest analysis.Request
	analyzeFn   func(ctx context.Context, req analysis.Request) (json.RawMessage, error)
}

func (m *mockAnalyzer) Analyze(ctx context.Context, req analysis.Request) (json.RawMessage, error) {
	m.lastRequest = req
	return m.analyzeFn(ctx, req)
}

// seedAnalyzableConversation stores two people, a conversation and one
// message, then enqueues the analysis job for it.
func seedAnalyzableConversation(t *testing.T, s *storage.Store) string {
	t.Helper()
	seedPeople(t, s)

	convID := "conv-1"
	start := at(t, "2024-05-01T09:00:00Z")
	err := s.CreateConversation(storage.Conversation{
		ID:             convID,
		Title:          "Doctor visit",
		ParticipantIDs: []string{"p-alice", "p-bob"},
		StartedAt:      start,
		EndedAt:        start.Add(time.Hour),
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	persistMessage(t, s, convID, "p-bob", "I moved the doctor appointment without telling you, sorry.", start)

	payload, _ := json.Marshal(map[string]string{"conversation_id": convID})
	err = s.EnqueueJob(storage.Job{
		ID:          "job-1",
		Type:        "analyze_conversation",
		PayloadJSON: string(payload),
	})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return convID
}

func jobState(t *testing.T, s *storage.Store, id string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	err := s.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, id).Scan(&status, &attempts)
	if err != nil {
		t.Fatalf("querying job %s: %v", id, err)
	}
	return status, attempts
}

func TestWorkerProcessesAnalysisJob(t *testing.T) {
	s := openTestStore(t)
	convID := seedAnalyzableConversation(t, s)

	mock := &mockAnalyzer{
		analyzeFn: func(_ context.Context, _ analysis.Request) (json.RawMessage, error) {
			return json.RawMessage(`{
				"conversationAnalysis": {"summary": "Appointment moved unilaterally.", "overallTone": "tense"},
				"issueActions": [{
					"action": "create",
					"title": "Unilateral schedule changes",
					"people": [{"personId": "p-bob", "contributionType": "caused"}]
				}]
			}`), nil
		},
	}
	w := NewWorker(s, mock, reconcile.NewApplier(s, 0), 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	if status, _ := jobState(t, s, "job-1"); status != "completed" {
		t.Errorf("job status = %q, want completed", status)
	}

	issues, err := s.ListIssues()
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 1 || issues[0].Title != "Unilateral schedule changes" {
		t.Fatalf("issues = %+v", issues)
	}
	linked, _ := s.ListConversationIssues(convID)
	if len(linked) != 1 {
		t.Errorf("conversation not linked to issue: %v", linked)
	}

	req := mock.lastRequest
	if req.ConversationID != convID || len(req.Messages) != 1 || len(req.Participants) != 2 {
		t.Errorf("request = %+v", req)
	}
	if req.MePersonID != "p-alice" {
		t.Errorf("MePersonID = %q, want p-alice", req.MePersonID)
	}
	if req.IsReanalysis {
		t.Error("first analysis flagged as reanalysis")
	}
}

func TestWorkerMarksReanalysis(t *testing.T) {
	s := openTestStore(t)
	convID := seedAnalyzableConversation(t, s)

	// A prior analysis already linked an issue to this conversation.
	now := time.Now()
	if err := s.CreateIssue(storage.Issue{ID: "i1", Title: "Old issue", Status: "open", Priority: "low", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if err := s.UpsertConversationIssue(convID, "i1"); err != nil {
		t.Fatalf("UpsertConversationIssue: %v", err)
	}

	mock := &mockAnalyzer{
		analyzeFn: func(_ context.Context, _ analysis.Request) (json.RawMessage, error) {
			return json.RawMessage(`{"conversationAnalysis": {"summary": "s", "overallTone": "neutral"}}`), nil
		},
	}
	w := NewWorker(s, mock, reconcile.NewApplier(s, 0), 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !mock.lastRequest.IsReanalysis {
		t.Error("expected IsReanalysis for a conversation with linked issues")
	}
}

func TestWorkerRetriesOnAnalyzerError(t *testing.T) {
	s := openTestStore(t)
	seedAnalyzableConversation(t, s)

	mock := &mockAnalyzer{
		analyzeFn: func(_ context.Context, _ analysis.Request) (json.RawMessage, error) {
			return nil, fmt.Errorf("model unavailable")
		},
	}
	w := NewWorker(s, mock, reconcile.NewApplier(s, 0), 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false")
	}

	status, attempts := jobState(t, s, "job-1")
	if status != "pending" || attempts != 1 {
		t.Errorf("job = %s/%d, want pending/1 for retry", status, attempts)
	}
}

func TestWorkerFailsOnRejectedAnalysis(t *testing.T) {
	s := openTestStore(t)
	seedAnalyzableConversation(t, s)

	// Valid JSON but no conversationAnalysis section: the sanitizer
	// rejects it, so the job fails rather than writing partial state.
	mock := &mockAnalyzer{
		analyzeFn: func(_ context.Context, _ analysis.Request) (json.RawMessage, error) {
			return json.RawMessage(`{"issueActions": []}`), nil
		},
	}
	w := NewWorker(s, mock, reconcile.NewApplier(s, 0), 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	status, attempts := jobState(t, s, "job-1")
	if status != "pending" || attempts != 1 {
		t.Errorf("job = %s/%d, want pending/1", status, attempts)
	}
	issues, _ := s.ListIssues()
	if len(issues) != 0 {
		t.Errorf("rejected analysis still wrote %d issues", len(issues))
	}
}

func TestWorkerRunOnceEmptyQueue(t *testing.T) {
	s := openTestStore(t)
	w := NewWorker(s, &mockAnalyzer{}, reconcile.NewApplier(s, 0), 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true on an empty queue")
	}
}
