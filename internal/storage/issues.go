package storage

import (
	"database/sql"
	"fmt"
)

func (s *Store) CreateIssue(i Issue) error {
	status := i.Status
	if status == "" {
		status = "open"
	}
	priority := i.Priority
	if priority == "" {
		priority = "medium"
	}
	_, err := s.db.Exec(`
		INSERT INTO issues (id, title, description, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.Title, i.Description, status, priority, fmtTime(i.CreatedAt), fmtTime(i.UpdatedAt),
	)
	return err
}

func (s *Store) GetIssue(id string) (Issue, error) {
	row := s.db.QueryRow(`
		SELECT id, title, description, status, priority, created_at, updated_at
		FROM issues WHERE id = ?`, id)
	return scanIssue(row)
}

func (s *Store) ListIssues() ([]Issue, error) {
	rows, err := s.db.Query(`
		SELECT id, title, description, status, priority, created_at, updated_at
		FROM issues ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

// UpdateIssue rewrites the mutable fields of an existing issue.
func (s *Store) UpdateIssue(i Issue) error {
	res, err := s.db.Exec(`
		UPDATE issues SET title = ?, description = ?, status = ?, priority = ?, updated_at = ?
		WHERE id = ?`,
		i.Title, i.Description, i.Status, i.Priority, fmtTime(i.UpdatedAt), i.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertIssuePerson writes a person's contribution link for an issue.
// Keyed by (issue_id, person_id): re-reconciliation updates the description
// and valence instead of inserting a second row.
func (s *Store) UpsertIssuePerson(c IssueContribution) error {
	_, err := s.db.Exec(`
		INSERT INTO issue_people (issue_id, person_id, contribution_type, contribution_description, contribution_valence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(issue_id, person_id) DO UPDATE SET
			contribution_type = excluded.contribution_type,
			contribution_description = excluded.contribution_description,
			contribution_valence = excluded.contribution_valence`,
		c.IssueID, c.PersonID, c.ContributionType, c.ContributionDescription, c.ContributionValence,
	)
	return err
}

func (s *Store) ListIssueContributions(issueID string) ([]IssueContribution, error) {
	rows, err := s.db.Query(`
		SELECT issue_id, person_id, contribution_type, contribution_description, contribution_valence
		FROM issue_people WHERE issue_id = ? ORDER BY person_id ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []IssueContribution
	for rows.Next() {
		var c IssueContribution
		if err := rows.Scan(&c.IssueID, &c.PersonID, &c.ContributionType, &c.ContributionDescription, &c.ContributionValence); err != nil {
			return nil, err
		}
		links = append(links, c)
	}
	return links, rows.Err()
}

func (s *Store) UpsertMessageIssue(messageID, issueID string) error {
	_, err := s.db.Exec(`
		INSERT INTO message_issues (message_id, issue_id) VALUES (?, ?)
		ON CONFLICT(message_id, issue_id) DO NOTHING`, messageID, issueID)
	return err
}

func (s *Store) ListMessageIssues(issueID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT message_id FROM message_issues WHERE issue_id = ? ORDER BY message_id ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) UpsertConversationIssue(conversationID, issueID string) error {
	_, err := s.db.Exec(`
		INSERT INTO conversation_issues (conversation_id, issue_id) VALUES (?, ?)
		ON CONFLICT(conversation_id, issue_id) DO NOTHING`, conversationID, issueID)
	return err
}

func (s *Store) ListConversationIssues(conversationID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT issue_id FROM conversation_issues WHERE conversation_id = ? ORDER BY issue_id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanIssue(row rowScanner) (Issue, error) {
	var i Issue
	var createdAt, updatedAt string
	err := row.Scan(&i.ID, &i.Title, &i.Description, &i.Status, &i.Priority, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Issue{}, ErrNotFound
	}
	if err != nil {
		return Issue{}, err
	}
	if i.CreatedAt, err = parseTime(createdAt); err != nil {
		return Issue{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if i.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Issue{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return i, nil
}
