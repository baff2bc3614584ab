package storage

import (
	"database/sql"
	"fmt"
)

func (s *Store) CreateAgreementItem(a AgreementItem) error {
	_, err := s.db.Exec(`
		INSERT INTO agreement_items (id, agreement_id, topic, full_text, overrides_item_id, override_status, contingency_condition, source_conversation_id, source_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, nullStr(a.AgreementID), a.Topic, a.FullText, nullStr(a.OverridesItemID),
		nullStr(a.OverrideStatus), nullStr(a.ContingencyCondition),
		nullStr(a.SourceConversationID), nullStr(a.SourceMessageID), fmtTime(a.CreatedAt),
	)
	return err
}

func (s *Store) GetAgreementItem(id string) (AgreementItem, error) {
	row := s.db.QueryRow(`
		SELECT id, agreement_id, topic, full_text, overrides_item_id, override_status, contingency_condition, source_conversation_id, source_message_id, created_at
		FROM agreement_items WHERE id = ?`, id)
	return scanAgreementItem(row)
}

func (s *Store) ListAgreementItems() ([]AgreementItem, error) {
	return s.queryAgreementItems(`
		SELECT id, agreement_id, topic, full_text, overrides_item_id, override_status, contingency_condition, source_conversation_id, source_message_id, created_at
		FROM agreement_items ORDER BY created_at ASC`)
}

func (s *Store) ListAgreementItemsByTopic(topic string) ([]AgreementItem, error) {
	return s.queryAgreementItems(`
		SELECT id, agreement_id, topic, full_text, overrides_item_id, override_status, contingency_condition, source_conversation_id, source_message_id, created_at
		FROM agreement_items WHERE topic = ? ORDER BY created_at ASC`, topic)
}

func (s *Store) SetAgreementOverrideStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE agreement_items SET override_status = ? WHERE id = ?`, status, id)
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

// FindActiveSuccessor returns the item that overrides itemID with an active
// override, or ErrNotFound if nothing supersedes it.
func (s *Store) FindActiveSuccessor(itemID string) (AgreementItem, error) {
	row := s.db.QueryRow(`
		SELECT id, agreement_id, topic, full_text, overrides_item_id, override_status, contingency_condition, source_conversation_id, source_message_id, created_at
		FROM agreement_items
		WHERE overrides_item_id = ? AND override_status = 'active'
		ORDER BY created_at DESC LIMIT 1`, itemID)
	return scanAgreementItem(row)
}

// EffectiveAgreementItem walks the override chain forward from the given item
// and returns the item with no active successor: the currently effective
// agreement for that topic. Superseded items are preserved, so the walk can
// start anywhere in the chain.
func (s *Store) EffectiveAgreementItem(fromID string) (AgreementItem, error) {
	current, err := s.GetAgreementItem(fromID)
	if err != nil {
		return AgreementItem{}, err
	}

	seen := map[string]bool{current.ID: true}
	for {
		next, err := s.FindActiveSuccessor(current.ID)
		if err == ErrNotFound {
			return current, nil
		}
		if err != nil {
			return AgreementItem{}, err
		}
		if seen[next.ID] {
			return AgreementItem{}, fmt.Errorf("override chain cycle at item %s", next.ID)
		}
		seen[next.ID] = true
		current = next
	}
}

func (s *Store) queryAgreementItems(query string, args ...any) ([]AgreementItem, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []AgreementItem
	for rows.Next() {
		a, err := scanAgreementItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func scanAgreementItem(row rowScanner) (AgreementItem, error) {
	var a AgreementItem
	var agreementID, overrides, status, contingency, sourceConv, sourceMsg sql.NullString
	var createdAt string
	err := row.Scan(&a.ID, &agreementID, &a.Topic, &a.FullText, &overrides, &status, &contingency, &sourceConv, &sourceMsg, &createdAt)
	if err == sql.ErrNoRows {
		return AgreementItem{}, ErrNotFound
	}
	if err != nil {
		return AgreementItem{}, err
	}
	a.AgreementID = agreementID.String
	a.OverridesItemID = overrides.String
	a.OverrideStatus = status.String
	a.ContingencyCondition = contingency.String
	a.SourceConversationID = sourceConv.String
	a.SourceMessageID = sourceMsg.String
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return AgreementItem{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return a, nil
}
