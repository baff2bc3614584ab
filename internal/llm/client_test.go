package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatSendsSchemaAndReturnsContent(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: `{"ok":true}`}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	schema := &Schema{Type: "object", Properties: map[string]any{"ok": map[string]any{"type": "boolean"}}}
	out, err := c.Chat(context.Background(), "test-model", []Message{{Role: "user", Content: "hi"}}, schema)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("content = %q", out)
	}
	if gotBody.Model != "test-model" || gotBody.Stream || gotBody.Format == nil {
		t.Errorf("request = %+v", gotBody)
	}
}

func TestChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Chat(context.Background(), "m", nil, nil); err == nil {
		t.Error("expected error on 500")
	}
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !New(srv.URL).IsRunning(context.Background()) {
		t.Error("expected IsRunning true")
	}
	srv.Close()
	if New(srv.URL).IsRunning(context.Background()) {
		t.Error("expected IsRunning false after close")
	}
}
