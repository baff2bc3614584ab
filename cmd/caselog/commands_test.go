package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/caselog/internal/config"
	"github.com/kalambet/caselog/internal/ingest"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestStageImportRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /imports": `{"import_id":"imp-123","message_count":2,"fragments_merged":0,"overlap":{},"participants":[{"name":"Bobby","suggestions":[{"person_id":"p-bob","full_name":"Bob Barnes","score":0.85,"match_type":"fuzzy"}]}]}`,
	})

	client := ts.client()

	parsed := ingest.ParsedConversation{
		Title:        "Pickup schedule",
		Participants: []string{"Alice Archer", "Bob Barnes"},
		Messages: []ingest.ParsedMessage{
			{SenderName: "Alice Archer", Body: "Can you take Friday?", SentAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
			{SenderName: "Bob Barnes", Body: "Yes, works for me.", SentAt: time.Date(2025, 3, 1, 9, 5, 0, 0, time.UTC)},
		},
	}

	resp, err := client.post(ctx, "/imports", parsed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var report ingest.Report
	if err := decodeJSON(resp, &report); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if report.ImportID != "imp-123" {
		t.Errorf("import_id = %q, want imp-123", report.ImportID)
	}
	if report.MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", report.MessageCount)
	}
	if len(report.Participants) != 1 || len(report.Participants[0].Suggestions) != 1 {
		t.Fatalf("participants = %+v, want one unresolved with one suggestion", report.Participants)
	}
	if s := report.Participants[0].Suggestions[0]; s.FullName != "Bob Barnes" || s.MatchType != "fuzzy" {
		t.Errorf("suggestion = %+v, want Bob Barnes/fuzzy", s)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["title"] != "Pickup schedule" {
		t.Errorf("body.title = %v, want Pickup schedule", body["title"])
	}
}

func TestImportFileCommand_MissingArg(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"import", "file"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing file argument")
	}
}

func TestDecideRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /imports/imp-123/decision": `{"import_id":"imp-123","conversation_id":"conv-1","messages_added":3,"messages_known":1,"method":"splice"}`,
	})

	client := ts.client()
	decision := ingest.Decision{Action: "append", ConversationID: "conv-1"}
	resp, err := client.post(ctx, "/imports/imp-123/decision", decision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result ingest.ApplyResult
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if result.ConversationID != "conv-1" {
		t.Errorf("conversation_id = %q, want conv-1", result.ConversationID)
	}
	if result.MessagesAdded != 3 {
		t.Errorf("messages_added = %d, want 3", result.MessagesAdded)
	}

	var sentBody map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sentBody); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sentBody["action"] != "append" {
		t.Errorf("body.action = %v, want append", sentBody["action"])
	}
	if sentBody["conversation_id"] != "conv-1" {
		t.Errorf("body.conversation_id = %v, want conv-1", sentBody["conversation_id"])
	}
}

func TestPeopleAddRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /people": `{"id":"p-1","full_name":"Bob Barnes","role":"co_parent","created_at":"2025-01-01T00:00:00Z"}`,
	})

	client := ts.client()
	req := map[string]string{
		"full_name": "Bob Barnes",
		"role":      "co_parent",
	}
	resp, err := client.post(ctx, "/people", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var person struct {
		ID       string `json:"id"`
		FullName string `json:"full_name"`
	}
	if err := decodeJSON(resp, &person); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if person.ID != "p-1" {
		t.Errorf("id = %q, want p-1", person.ID)
	}
	if person.FullName != "Bob Barnes" {
		t.Errorf("full_name = %q, want Bob Barnes", person.FullName)
	}
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", resp.StatusCode)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	_, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestAPIClientNoTokenOmitsHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""

	_, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty header when no token is configured", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/issues")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4600
	cfg.Ollama.AnalysisModel = "mistral-nemo"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4600" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4600 in ShowAll output")
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		got := countLabel(tt.count, tt.limit)
		if got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}
