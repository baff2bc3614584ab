package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/caselog/internal/continuity"
	"github.com/kalambet/caselog/internal/fingerprint"
	"github.com/kalambet/caselog/internal/ingest"
	"github.com/kalambet/caselog/internal/storage"
)

const testToken = "test-token-12345"

func setupAppHandler(t *testing.T, token string) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	importer := ingest.NewImporter(store, continuity.NewDetector(store, 0))
	handler := NewAppHandler(AppDeps{
		Store:    store,
		Importer: importer,
		Token:    token,
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
}

func seedPerson(t *testing.T, store *storage.Store, id, name, role string) {
	t.Helper()
	if err := store.SavePerson(storage.Person{ID: id, FullName: name, Role: role, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SavePerson(%s): %v", id, err)
	}
}

func TestBearerAuthRequired(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := do(t, h, authReq(http.MethodGet, "/people", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	rr = do(t, h, authReq(http.MethodGet, "/people", "", "wrong-token"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}

	rr = do(t, h, authReq(http.MethodGet, "/people", "", testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rr.Code)
	}

	// Health stays reachable without credentials.
	rr = do(t, h, authReq(http.MethodGet, "/health", "", ""))
	if rr.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", rr.Code)
	}
}

func TestAuthDisabledWithEmptyToken(t *testing.T) {
	h, _ := setupAppHandler(t, "")
	rr := do(t, h, authReq(http.MethodGet, "/people", "", ""))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", rr.Code)
	}
}

func TestCreateAndGetPerson(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := do(t, h, authReq(http.MethodPost, "/people", `{"full_name":"Alice Archer","role":"me"}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", rr.Code, rr.Body.String())
	}
	var created storage.Person
	decodeBody(t, rr, &created)
	if created.ID == "" || created.FullName != "Alice Archer" || created.Role != "me" {
		t.Fatalf("created = %+v", created)
	}

	rr = do(t, h, authReq(http.MethodGet, "/people/"+created.ID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}

	rr = do(t, h, authReq(http.MethodGet, "/people/no-such-id", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing person status = %d, want 404", rr.Code)
	}

	rr = do(t, h, authReq(http.MethodPost, "/people", `{"role":"other"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("nameless person status = %d, want 400", rr.Code)
	}
}

func TestImportLifecycle(t *testing.T) {
	h, store := setupAppHandler(t, testToken)
	seedPerson(t, store, "p-alice", "Alice Archer", "me")
	seedPerson(t, store, "p-bob", "Bob Barnes", "co_parent")

	upload := `{
		"title": "Pickup times",
		"messages": [
			{"sender_name": "Alice Archer", "receiver_name": "Bob Barnes", "sent_at": "2024-06-01T10:00:00Z", "body": "Can you do Friday pickup this week?"},
			{"sender_name": "Bob Barnes", "receiver_name": "Alice Archer", "sent_at": "2024-06-01T10:04:00Z", "body": "Yes, Friday works for me."}
		]
	}`

	rr := do(t, h, authReq(http.MethodPost, "/imports", upload, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("stage status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var report ingest.Report
	decodeBody(t, rr, &report)
	if report.ImportID == "" || report.MessageCount != 2 {
		t.Fatalf("report = %+v", report)
	}

	rr = do(t, h, authReq(http.MethodGet, "/imports/"+report.ImportID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("get import status = %d", rr.Code)
	}
	var record storage.Import
	decodeBody(t, rr, &record)
	if record.Status != "pending_decision" {
		t.Errorf("import status = %q", record.Status)
	}

	rr = do(t, h, authReq(http.MethodPost, "/imports/"+report.ImportID+"/decision", `{"action":"create_separate"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("decision status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var result ingest.ApplyResult
	decodeBody(t, rr, &result)
	if result.ConversationID == "" || result.MessagesAdded != 2 {
		t.Fatalf("result = %+v", result)
	}

	rr = do(t, h, authReq(http.MethodGet, "/conversations/"+result.ConversationID+"/messages", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("messages status = %d", rr.Code)
	}
	var messages []storage.Message
	decodeBody(t, rr, &messages)
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}

	// Deciding twice conflicts.
	rr = do(t, h, authReq(http.MethodPost, "/imports/"+report.ImportID+"/decision", `{"action":"cancel"}`, testToken))
	if rr.Code != http.StatusConflict {
		t.Errorf("second decision status = %d, want 409", rr.Code)
	}
}

func TestStageImportRejectsEmptyUpload(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	rr := do(t, h, authReq(http.MethodPost, "/imports", `{"title":"empty","messages":[]}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestAnalyzeConversationEnqueuesJob(t *testing.T) {
	h, store := setupAppHandler(t, testToken)
	seedPerson(t, store, "p-alice", "Alice Archer", "me")
	err := store.CreateConversation(storage.Conversation{
		ID:             "c1",
		Title:          "Thread",
		ParticipantIDs: []string{"p-alice"},
		StartedAt:      time.Now().Add(-time.Hour),
		EndedAt:        time.Now(),
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	rr := do(t, h, authReq(http.MethodPost, "/conversations/c1/analyze", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	job, err := store.ClaimNextJob([]string{"analyze_conversation"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("no job enqueued")
	}

	rr = do(t, h, authReq(http.MethodPost, "/conversations/missing/analyze", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing conversation status = %d, want 404", rr.Code)
	}
}

func TestGetIssueDetail(t *testing.T) {
	h, store := setupAppHandler(t, testToken)
	seedPerson(t, store, "p-bob", "Bob Barnes", "co_parent")

	now := time.Now()
	if err := store.CreateIssue(storage.Issue{ID: "i1", Title: "Lateness", Status: "open", Priority: "medium", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	err := store.UpsertIssuePerson(storage.IssueContribution{
		IssueID: "i1", PersonID: "p-bob", ContributionType: "caused", ContributionValence: "negative",
	})
	if err != nil {
		t.Fatalf("UpsertIssuePerson: %v", err)
	}

	rr := do(t, h, authReq(http.MethodGet, "/issues/i1", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var detail IssueDetail
	decodeBody(t, rr, &detail)
	if detail.Title != "Lateness" || len(detail.Contributions) != 1 {
		t.Fatalf("detail = %+v", detail)
	}

	rr = do(t, h, authReq(http.MethodGet, "/issues/missing", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing issue status = %d, want 404", rr.Code)
	}
}

func TestEffectiveAgreementEndpoint(t *testing.T) {
	h, store := setupAppHandler(t, testToken)

	mkItem := func(id, text, overrides string) {
		t.Helper()
		item := storage.AgreementItem{
			ID:        id,
			Topic:     "holidays",
			FullText:  text,
			CreatedAt: time.Now(),
		}
		if overrides != "" {
			item.OverridesItemID = overrides
			item.OverrideStatus = "active"
		}
		if err := store.CreateAgreementItem(item); err != nil {
			t.Fatalf("CreateAgreementItem(%s): %v", id, err)
		}
	}
	mkItem("a1", "original terms", "")
	mkItem("a2", "revised terms", "a1")

	rr := do(t, h, authReq(http.MethodGet, "/agreement-items/a1/effective", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var item storage.AgreementItem
	decodeBody(t, rr, &item)
	if item.ID != "a2" {
		t.Errorf("effective item = %s, want a2", item.ID)
	}

	rr = do(t, h, authReq(http.MethodGet, "/agreement-items?topic=holidays", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var items []storage.AgreementItem
	decodeBody(t, rr, &items)
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
}

func TestListNotes(t *testing.T) {
	h, store := setupAppHandler(t, testToken)
	seedPerson(t, store, "p-bob", "Bob Barnes", "co_parent")

	note := storage.ProfileNote{
		ID:                   uuid.New().String(),
		PersonID:             "p-bob",
		Type:                 "pattern",
		Content:              "changes plans at short notice",
		SourceConversationID: "c1",
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}
	if err := store.UpsertProfileNote(note); err != nil {
		t.Fatalf("UpsertProfileNote: %v", err)
	}

	rr := do(t, h, authReq(http.MethodGet, "/people/p-bob/notes", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var notes []storage.ProfileNote
	decodeBody(t, rr, &notes)
	if len(notes) != 1 || notes[0].Type != "pattern" {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestImportReportsKnownMessages(t *testing.T) {
	h, store := setupAppHandler(t, testToken)
	seedPerson(t, store, "p-alice", "Alice Archer", "me")
	seedPerson(t, store, "p-bob", "Bob Barnes", "co_parent")

	sentAt, _ := time.Parse(time.RFC3339, "2024-06-02T09:00:00Z")
	err := store.CreateConversation(storage.Conversation{
		ID:             "c1",
		Title:          "Existing",
		ParticipantIDs: []string{"p-alice", "p-bob"},
		StartedAt:      sentAt,
		EndedAt:        sentAt.Add(time.Hour),
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	body := "Did you get the school email about the field trip?"
	_, err = store.InsertMessage(storage.Message{
		ID:             uuid.New().String(),
		ConversationID: "c1",
		SenderID:       "p-bob",
		RawText:        body,
		SentAt:         sentAt,
		Direction:      "incoming",
		ContentHash:    fingerprint.Message("p-bob", sentAt, body),
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	upload := `{
		"title": "Re-export",
		"messages": [
			{"sender_name": "Bob Barnes", "sent_at": "2024-06-02T09:00:00Z", "body": "Did you get the school email about the field trip?"}
		]
	}`
	rr := do(t, h, authReq(http.MethodPost, "/imports", upload, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var report ingest.Report
	decodeBody(t, rr, &report)
	if report.Overlap.Primary == nil || report.Overlap.Primary.Conversation.ID != "c1" {
		t.Errorf("primary = %+v, want c1", report.Overlap.Primary)
	}
}
