package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/caselog/internal/ingest"
	"github.com/kalambet/caselog/internal/storage"
)

const maxImportBodySize = 10 << 20 // 10MB
const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds dependencies for the HTTP API.
type AppDeps struct {
	Store    *storage.Store
	Importer *ingest.Importer
	Token    string // empty disables auth on the localhost API
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/people", handleCreatePerson(deps))
		r.Get("/people", handleListPeople(deps))
		r.Get("/people/{id}", handleGetPerson(deps))
		r.Get("/people/{id}/notes", handleListNotes(deps))

		r.Post("/imports", handleStageImport(deps))
		r.Get("/imports", handleListImports(deps))
		r.Get("/imports/{id}", handleGetImport(deps))
		r.Post("/imports/{id}/decision", handleDecideImport(deps))

		r.Get("/conversations", handleListConversations(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Get("/conversations/{id}/messages", handleListMessages(deps))
		r.Post("/conversations/{id}/analyze", handleAnalyzeConversation(deps))

		r.Get("/issues", handleListIssues(deps))
		r.Get("/issues/{id}", handleGetIssue(deps))

		r.Get("/agreement-items", handleListAgreementItems(deps))
		r.Get("/agreement-items/{id}/effective", handleEffectiveAgreementItem(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DB().Ping(); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "database unavailable: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

type CreatePersonRequest struct {
	FullName    string `json:"full_name"`
	Role        string `json:"role"`
	RoleContext string `json:"role_context"`
}

func handleCreatePerson(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req CreatePersonRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.FullName == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "full_name is required")
			return
		}
		if req.Role == "" {
			req.Role = "other"
		}

		person := storage.Person{
			ID:          uuid.New().String(),
			FullName:    req.FullName,
			Role:        req.Role,
			RoleContext: req.RoleContext,
			CreatedAt:   time.Now(),
		}
		if err := deps.Store.SavePerson(person); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save person: %v", err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, person)
	}
}

func handleListPeople(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		people, err := deps.Store.ListPeople()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list people: %v", err)
			return
		}
		if people == nil {
			people = []storage.Person{}
		}
		writeJSON(w, people)
	}
}

func handleGetPerson(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		person, err := deps.Store.GetPerson(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "person not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get person: %v", err)
			return
		}
		writeJSON(w, person)
	}
}

func handleListNotes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notes, err := deps.Store.ListProfileNotes(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list notes: %v", err)
			return
		}
		if notes == nil {
			notes = []storage.ProfileNote{}
		}
		writeJSON(w, notes)
	}
}

func handleStageImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var parsed ingest.ParsedConversation
		if err := json.NewDecoder(r.Body).Decode(&parsed); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		report, err := deps.Importer.Stage(parsed)
		if errors.Is(err, ingest.ErrNoMessages) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "upload contains no messages")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to stage import: %v", err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, report)
	}
}

func handleListImports(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		imports, err := deps.Store.ListImports(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list imports: %v", err)
			return
		}
		if imports == nil {
			imports = []storage.Import{}
		}
		writeJSON(w, imports)
	}
}

func handleGetImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := deps.Store.GetImport(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "import not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get import: %v", err)
			return
		}
		writeJSON(w, record)
	}
}

func handleDecideImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var decision ingest.Decision
		if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		result, err := deps.Importer.ApplyDecision(chi.URLParam(r, "id"), decision)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "import not found")
		case errors.Is(err, ingest.ErrAlreadyDecided):
			httpError(w, http.StatusConflict, "invalid_request_error", "import already decided")
		case errors.Is(err, ingest.ErrUnknownDecision):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown decision action %q", decision.Action)
		case errors.Is(err, ingest.ErrNoAppendTarget):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "append requires a target conversation")
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to apply decision: %v", err)
		default:
			writeJSON(w, result)
		}
	}
}

func handleListConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		convs, err := deps.Store.ListConversations(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}
		if convs == nil {
			convs = []storage.Conversation{}
		}
		writeJSON(w, convs)
	}
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Store.GetConversation(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}
		writeJSON(w, conv)
	}
}

func handleListMessages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetConversation(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}

		messages, err := deps.Store.ListMessages(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}
		if messages == nil {
			messages = []storage.Message{}
		}
		writeJSON(w, messages)
	}
}

func handleAnalyzeConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetConversation(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}

		payload, err := json.Marshal(map[string]string{"conversation_id": id})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        "analyze_conversation",
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}
		writeJSON(w, map[string]string{"id": job.ID, "status": "queued"})
	}
}

// IssueDetail is an issue with its person contributions and linked messages.
type IssueDetail struct {
	storage.Issue
	Contributions []storage.IssueContribution `json:"contributions"`
	MessageIDs    []string                    `json:"message_ids"`
}

func handleListIssues(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issues, err := deps.Store.ListIssues()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list issues: %v", err)
			return
		}
		if issues == nil {
			issues = []storage.Issue{}
		}
		writeJSON(w, issues)
	}
}

func handleGetIssue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		issue, err := deps.Store.GetIssue(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "issue not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get issue: %v", err)
			return
		}

		contributions, err := deps.Store.ListIssueContributions(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list contributions: %v", err)
			return
		}
		messageIDs, err := deps.Store.ListMessageIssues(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}
		if contributions == nil {
			contributions = []storage.IssueContribution{}
		}
		if messageIDs == nil {
			messageIDs = []string{}
		}
		writeJSON(w, IssueDetail{Issue: issue, Contributions: contributions, MessageIDs: messageIDs})
	}
}

func handleListAgreementItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var items []storage.AgreementItem
		var err error
		if topic := r.URL.Query().Get("topic"); topic != "" {
			items, err = deps.Store.ListAgreementItemsByTopic(topic)
		} else {
			items, err = deps.Store.ListAgreementItems()
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list agreement items: %v", err)
			return
		}
		if items == nil {
			items = []storage.AgreementItem{}
		}
		writeJSON(w, items)
	}
}

func handleEffectiveAgreementItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := deps.Store.EffectiveAgreementItem(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "agreement item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve agreement item: %v", err)
			return
		}
		writeJSON(w, item)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
