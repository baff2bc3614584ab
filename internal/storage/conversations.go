package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func (s *Store) CreateConversation(c Conversation) error {
	history := c.AmendmentHistory
	if history == nil {
		history = []Amendment{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshaling amendment history: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	status := c.Status
	if status == "" {
		status = "open"
	}
	if _, err := tx.Exec(`
		INSERT INTO conversations (id, title, started_at, ended_at, status, pending_responder_id, amendment_history, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, fmtTime(c.StartedAt), fmtTime(c.EndedAt), status,
		nullStr(c.PendingResponderID), string(historyJSON), fmtTime(c.CreatedAt),
	); err != nil {
		return err
	}

	for _, pid := range c.ParticipantIDs {
		if _, err := tx.Exec(`
			INSERT INTO conversation_participants (conversation_id, person_id) VALUES (?, ?)
			ON CONFLICT(conversation_id, person_id) DO NOTHING`, c.ID, pid); err != nil {
			return fmt.Errorf("inserting participant %s: %w", pid, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetConversation(id string) (Conversation, error) {
	var c Conversation
	var startedAt, endedAt, createdAt, historyJSON string
	var pendingResponder sql.NullString
	err := s.db.QueryRow(`
		SELECT id, title, started_at, ended_at, status, pending_responder_id, amendment_history, created_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &startedAt, &endedAt, &c.Status, &pendingResponder, &historyJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}

	c.PendingResponderID = pendingResponder.String
	if c.StartedAt, err = parseTime(startedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if c.EndedAt, err = parseTime(endedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing ended_at: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &c.AmendmentHistory); err != nil {
		return Conversation{}, fmt.Errorf("parsing amendment history: %w", err)
	}

	if c.ParticipantIDs, err = s.conversationParticipants(c.ID); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *Store) conversationParticipants(conversationID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT person_id FROM conversation_participants
		WHERE conversation_id = ? ORDER BY person_id ASC`, conversationID)
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

func (s *Store) ListConversations(limit, offset int) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id FROM conversations ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var convs []Conversation
	for _, id := range ids {
		c, err := s.GetConversation(id)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// FindOverlappingConversations returns conversations sharing at least one of
// the given participants whose date range intersects [start, end].
func (s *Store) FindOverlappingConversations(participantIDs []string, start, end time.Time) ([]Conversation, error) {
	if len(participantIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat(",?", len(participantIDs)-1)
	query := `SELECT DISTINCT c.id FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.person_id IN (?` + placeholders + `)
		  AND c.started_at <= ? AND c.ended_at >= ?
		ORDER BY c.started_at DESC`

	args := make([]any, 0, len(participantIDs)+2)
	for _, id := range participantIDs {
		args = append(args, id)
	}
	args = append(args, fmtTime(end), fmtTime(start))

	rows, err := s.db.Query(query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var convs []Conversation
	for _, id := range ids {
		c, err := s.GetConversation(id)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// AppendAmendment appends a record to the conversation's amendment history
// and widens its date range to include [start, end]. The history column is
// append-only; nothing else rewrites it.
func (s *Store) AppendAmendment(conversationID string, a Amendment, start, end time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var historyJSON, startedAt, endedAt string
	err = tx.QueryRow(`SELECT amendment_history, started_at, ended_at FROM conversations WHERE id = ?`, conversationID).
		Scan(&historyJSON, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var history []Amendment
	if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
		return fmt.Errorf("parsing amendment history: %w", err)
	}
	history = append(history, a)
	updated, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshaling amendment history: %w", err)
	}

	newStart, newEnd := startedAt, endedAt
	if s := fmtTime(start); s < newStart {
		newStart = s
	}
	if e := fmtTime(end); e > newEnd {
		newEnd = e
	}

	if _, err := tx.Exec(`
		UPDATE conversations SET amendment_history = ?, started_at = ?, ended_at = ? WHERE id = ?`,
		string(updated), newStart, newEnd, conversationID); err != nil {
		return err
	}

	return tx.Commit()
}

// SetConversationResolution updates status and pending responder together.
// Pass pendingResponderID == "" to store NULL.
func (s *Store) SetConversationResolution(id, status, pendingResponderID string) error {
	res, err := s.db.Exec(`
		UPDATE conversations SET status = ?, pending_responder_id = ? WHERE id = ?`,
		status, nullStr(pendingResponderID), id)
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

// --- Messages ---

// InsertMessage inserts a message, ignoring duplicates on
// (conversation_id, content_hash). Returns whether a row was written.
func (s *Store) InsertMessage(m Message) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, raw_text, sent_at, direction, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, content_hash) DO NOTHING`,
		m.ID, m.ConversationID, m.SenderID, nullStr(m.ReceiverID), m.RawText,
		fmtTime(m.SentAt), m.Direction, m.ContentHash, fmtTime(m.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetMessage(id string) (Message, error) {
	row := s.db.QueryRow(`
		SELECT id, conversation_id, sender_id, receiver_id, raw_text, sent_at, direction, content_hash, created_at
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (s *Store) ListMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, sender_id, receiver_id, raw_text, sent_at, direction, content_hash, created_at
		FROM messages WHERE conversation_id = ? ORDER BY sent_at ASC, created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageHashes returns the set of content hashes stored for a conversation.
func (s *Store) MessageHashes(conversationID string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT content_hash FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes[h] = true
	}
	return hashes, rows.Err()
}

// ListRecentMessages returns up to limit persisted messages, newest first.
// The splice-point search scans these in Go because its normalization
// (whitespace collapse) cannot be expressed in SQL.
func (s *Store) ListRecentMessages(limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, sender_id, receiver_id, raw_text, sent_at, direction, content_hash, created_at
		FROM messages ORDER BY sent_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var receiver sql.NullString
	var sentAt, createdAt string
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &receiver, &m.RawText, &sentAt, &m.Direction, &m.ContentHash, &createdAt)
	if err != nil {
		return Message{}, err
	}
	m.ReceiverID = receiver.String
	if m.SentAt, err = parseTime(sentAt); err != nil {
		return Message{}, fmt.Errorf("parsing sent_at: %w", err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return Message{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return m, nil
}
