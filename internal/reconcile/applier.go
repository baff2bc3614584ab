// Package reconcile merges sanitized analysis output into persisted state.
// Every write path is idempotent (find-or-create for issues and agreement
// items, composite-key upserts for links and notes) so re-analysis of a
// conversation never duplicates rows.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/caselog/internal/analysis"
	"github.com/kalambet/caselog/internal/match"
	"github.com/kalambet/caselog/internal/storage"
)

const defaultConcurrency = 4

// Store is the persistence surface the applier writes through.
// Implemented by storage.Store.
type Store interface {
	ListIssues() ([]storage.Issue, error)
	GetIssue(id string) (storage.Issue, error)
	CreateIssue(i storage.Issue) error
	UpdateIssue(i storage.Issue) error
	UpsertIssuePerson(c storage.IssueContribution) error
	UpsertMessageIssue(messageID, issueID string) error
	UpsertConversationIssue(conversationID, issueID string) error
	UpsertProfileNote(n storage.ProfileNote) error
	GetAgreementItem(id string) (storage.AgreementItem, error)
	ListAgreementItemsByTopic(topic string) ([]storage.AgreementItem, error)
	CreateAgreementItem(a storage.AgreementItem) error
	SetConversationResolution(id, status, pendingResponderID string) error
	ListPeople() ([]storage.Person, error)
}

// Result reports which logical sections completed and what failed. A failure
// in one section never aborts the others; callers surface partial success.
type Result struct {
	Success           bool     `json:"success"`
	SectionsProcessed []string `json:"sections_processed"`
	Errors            []string `json:"errors"`
}

// Applier writes a sanitized analysis into issues, profile notes, the
// agreement override chain, and conversation state.
type Applier struct {
	store       Store
	concurrency int
	logger      *slog.Logger

	// mu guards find-or-create across concurrently applied issue actions
	// so two same-titled creates in one batch collapse to one issue.
	mu          sync.Mutex
	knownIssues map[string]storage.Issue
}

// NewApplier creates an Applier. concurrency bounds the fan-out of
// independent issue actions and note writes (default 4 if <= 0).
func NewApplier(store Store, concurrency int) *Applier {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Applier{
		store:       store,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// Apply merges the sanitized analysis into persisted state for the given
// conversation. Safe to invoke repeatedly with the same input.
func (a *Applier) Apply(ctx context.Context, conversationID string, s analysis.Sanitized) Result {
	result := Result{SectionsProcessed: []string{}, Errors: []string{}}

	sections := []struct {
		name string
		run  func(context.Context, string, analysis.Sanitized) []string
	}{
		{"issues", a.applyIssueActions},
		{"profile_notes", a.applyProfileNotes},
		{"agreements", a.applyAgreements},
		{"conversation_state", a.applyConversationState},
	}

	for _, sec := range sections {
		errs := sec.run(ctx, conversationID, s)
		if len(errs) == 0 {
			result.SectionsProcessed = append(result.SectionsProcessed, sec.name)
		} else {
			for _, e := range errs {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", sec.name, e))
			}
			a.logger.Warn("reconciliation section had errors", "section", sec.name, "count", len(errs))
		}
	}

	result.Success = len(result.Errors) == 0
	return result
}

// --- issues ---

func (a *Applier) applyIssueActions(ctx context.Context, conversationID string, s analysis.Sanitized) []string {
	if len(s.IssueActions) == 0 {
		return nil
	}

	existing, err := a.store.ListIssues()
	if err != nil {
		return []string{fmt.Sprintf("listing issues: %v", err)}
	}
	a.mu.Lock()
	a.knownIssues = make(map[string]storage.Issue, len(existing))
	for _, i := range existing {
		a.knownIssues[normalizeTitle(i.Title)] = i
	}
	a.mu.Unlock()

	var errMu sync.Mutex
	var errs []string

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, action := range s.IssueActions {
		g.Go(func() error {
			if err := a.applyIssueAction(ctx, conversationID, action); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Sprintf("action %q: %v", action.Title, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return errs
}

func (a *Applier) applyIssueAction(ctx context.Context, conversationID string, action analysis.IssueAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var issue storage.Issue
	var err error
	switch action.Action {
	case "update":
		issue, err = a.updateIssue(action)
	default:
		issue, err = a.findOrCreateIssue(action)
	}
	if err != nil {
		return err
	}

	for _, link := range action.People {
		contribution := storage.IssueContribution{
			IssueID:                 issue.ID,
			PersonID:                link.PersonID,
			ContributionType:        link.ContributionType,
			ContributionDescription: link.ContributionDescription,
			ContributionValence:     link.ContributionValence,
		}
		if contribution.ContributionValence == "" {
			contribution.ContributionValence = "neutral"
		}
		if err := a.store.UpsertIssuePerson(contribution); err != nil {
			return fmt.Errorf("linking person %s: %w", link.PersonID, err)
		}
	}

	for _, messageID := range action.MessageIDs {
		if err := a.store.UpsertMessageIssue(messageID, issue.ID); err != nil {
			return fmt.Errorf("linking message %s: %w", messageID, err)
		}
	}

	if err := a.store.UpsertConversationIssue(conversationID, issue.ID); err != nil {
		return fmt.Errorf("linking conversation: %w", err)
	}
	return nil
}

// findOrCreateIssue matches by normalized title first so repeated analyses
// (and near-duplicate model output) converge on one issue row.
func (a *Applier) findOrCreateIssue(action analysis.IssueAction) (storage.Issue, error) {
	key := normalizeTitle(action.Title)

	a.mu.Lock()
	defer a.mu.Unlock()

	if issue, ok := a.knownIssues[key]; ok {
		return issue, nil
	}

	now := time.Now()
	issue := storage.Issue{
		ID:          uuid.New().String(),
		Title:       action.Title,
		Description: action.Description,
		Status:      action.Status,
		Priority:    action.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if issue.Status == "" {
		issue.Status = "open"
	}
	if issue.Priority == "" {
		issue.Priority = "medium"
	}
	if err := a.store.CreateIssue(issue); err != nil {
		return storage.Issue{}, fmt.Errorf("creating issue: %w", err)
	}
	a.knownIssues[key] = issue
	return issue, nil
}

func (a *Applier) updateIssue(action analysis.IssueAction) (storage.Issue, error) {
	issue, err := a.store.GetIssue(action.IssueID)
	if err != nil {
		return storage.Issue{}, fmt.Errorf("loading issue %s: %w", action.IssueID, err)
	}

	if action.Description != "" {
		issue.Description = action.Description
	}
	if action.Status != "" {
		issue.Status = action.Status
	}
	if action.Priority != "" {
		issue.Priority = action.Priority
	}
	issue.UpdatedAt = time.Now()

	if err := a.store.UpdateIssue(issue); err != nil {
		return storage.Issue{}, fmt.Errorf("updating issue %s: %w", issue.ID, err)
	}
	return issue, nil
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// --- profile notes ---

// applyProfileNotes writes one note per (person, type) from each person
// analysis. The storage upsert key makes re-analysis replace prior notes for
// this conversation.
func (a *Applier) applyProfileNotes(ctx context.Context, conversationID string, s analysis.Sanitized) []string {
	if len(s.PersonAnalyses) == 0 {
		return nil
	}

	var errMu sync.Mutex
	var errs []string

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, pa := range s.PersonAnalyses {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return nil
			}
			for _, note := range notesFor(pa, conversationID) {
				if err := a.store.UpsertProfileNote(note); err != nil {
					errMu.Lock()
					errs = append(errs, fmt.Sprintf("note %s/%s: %v", pa.PersonID, note.Type, err))
					errMu.Unlock()
				}
			}
			return nil
		})
	}
	g.Wait()

	return errs
}

// notesFor maps a person analysis onto the three note types.
func notesFor(pa analysis.PersonAnalysis, conversationID string) []storage.ProfileNote {
	now := time.Now()
	build := func(noteType, content string) storage.ProfileNote {
		return storage.ProfileNote{
			ID:                   uuid.New().String(),
			PersonID:             pa.PersonID,
			Type:                 noteType,
			Content:              content,
			SourceConversationID: conversationID,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
	}

	var notes []storage.ProfileNote

	observation := pa.BehavioralAssessment
	if len(pa.Concerns) > 0 {
		if observation != "" {
			observation += "\n\n"
		}
		observation += "Concerns: " + strings.Join(pa.Concerns, "; ")
	}
	if observation != "" {
		notes = append(notes, build("observation", observation))
	}
	if len(pa.NotablePatterns) > 0 {
		notes = append(notes, build("pattern", strings.Join(pa.NotablePatterns, "; ")))
	}
	if len(pa.InteractionRecommendations) > 0 {
		notes = append(notes, build("strategy", strings.Join(pa.InteractionRecommendations, "; ")))
	}
	return notes
}

// --- agreements ---

// applyAgreements creates agreement items for detected agreements. A new
// item that overrides an existing one points at it via OverridesItemID with
// an active override; the superseded item is kept, preserving history.
func (a *Applier) applyAgreements(ctx context.Context, conversationID string, s analysis.Sanitized) []string {
	var errs []string
	for _, da := range s.DetectedAgreements {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err.Error())
			break
		}
		if err := a.applyAgreement(conversationID, da); err != nil {
			errs = append(errs, fmt.Sprintf("agreement %q: %v", da.Topic, err))
		}
	}
	return errs
}

func (a *Applier) applyAgreement(conversationID string, da analysis.DetectedAgreement) error {
	// Re-analysis idempotency: an identical item from this conversation
	// already exists, nothing to do.
	existing, err := a.store.ListAgreementItemsByTopic(da.Topic)
	if err != nil {
		return fmt.Errorf("listing items: %w", err)
	}
	for _, item := range existing {
		if item.SourceConversationID == conversationID && item.FullText == da.FullText {
			return nil
		}
	}

	item := storage.AgreementItem{
		ID:                   uuid.New().String(),
		Topic:                da.Topic,
		FullText:             da.FullText,
		ContingencyCondition: da.ContingencyCondition,
		SourceConversationID: conversationID,
		SourceMessageID:      da.SourceMessageID,
		CreatedAt:            time.Now(),
	}

	if da.OverridesItemID != "" {
		if _, err := a.store.GetAgreementItem(da.OverridesItemID); err != nil {
			return fmt.Errorf("superseded item %s: %w", da.OverridesItemID, err)
		}
		item.OverridesItemID = da.OverridesItemID
		item.OverrideStatus = "active"
	}

	if err := a.store.CreateAgreementItem(item); err != nil {
		return fmt.Errorf("creating item: %w", err)
	}
	return nil
}

// --- conversation state ---

// applyConversationState stores the analysis resolution. The free-text
// pending responder name is resolved through the name matcher; an
// unresolvable name stores null rather than a dangling string.
func (a *Applier) applyConversationState(ctx context.Context, conversationID string, s analysis.Sanitized) []string {
	resolution := s.ConversationAnalysis.Resolution
	if resolution == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return []string{err.Error()}
	}

	status := "open"
	if resolution.Status == "resolved" {
		status = "resolved"
	}

	responderID := ""
	if status != "resolved" && resolution.PendingResponderName != "" {
		people, err := a.store.ListPeople()
		if err != nil {
			return []string{fmt.Sprintf("listing people: %v", err)}
		}
		directory := make([]match.Person, len(people))
		for i, p := range people {
			directory[i] = match.Person{ID: p.ID, FullName: p.FullName}
		}
		if m := match.FindBestMatch(resolution.PendingResponderName, directory, match.DefaultThreshold); m != nil {
			responderID = m.PersonID
		} else {
			a.logger.Warn("pending responder did not resolve to a person",
				"name", resolution.PendingResponderName)
		}
	}

	if err := a.store.SetConversationResolution(conversationID, status, responderID); err != nil {
		return []string{fmt.Sprintf("updating conversation: %v", err)}
	}
	return nil
}
