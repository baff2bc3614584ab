package storage

import (
	"fmt"
)

// UpsertProfileNote writes a profile note keyed by
// (person_id, source_conversation_id, type). Re-analysis of the same
// conversation replaces the prior note's content instead of adding a row.
func (s *Store) UpsertProfileNote(n ProfileNote) error {
	_, err := s.db.Exec(`
		INSERT INTO profile_notes (id, person_id, type, content, source_conversation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id, source_conversation_id, type) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`,
		n.ID, n.PersonID, n.Type, n.Content, n.SourceConversationID,
		fmtTime(n.CreatedAt), fmtTime(n.UpdatedAt),
	)
	return err
}

func (s *Store) ListProfileNotes(personID string) ([]ProfileNote, error) {
	rows, err := s.db.Query(`
		SELECT id, person_id, type, content, source_conversation_id, created_at, updated_at
		FROM profile_notes WHERE person_id = ? ORDER BY created_at ASC, type ASC`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []ProfileNote
	for rows.Next() {
		var n ProfileNote
		var createdAt, updatedAt string
		if err := rows.Scan(&n.ID, &n.PersonID, &n.Type, &n.Content, &n.SourceConversationID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
