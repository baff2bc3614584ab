package storage

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *Store) SaveImport(imp Import) error {
	status := imp.Status
	if status == "" {
		status = "pending_decision"
	}
	_, err := s.db.Exec(`
		INSERT INTO imports (id, title, payload_json, report_json, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		imp.ID, imp.Title, imp.PayloadJSON, imp.ReportJSON, status,
		fmtTime(imp.CreatedAt), fmtTime(imp.UpdatedAt),
	)
	return err
}

func (s *Store) GetImport(id string) (Import, error) {
	row := s.db.QueryRow(`
		SELECT id, title, payload_json, report_json, status, created_at, updated_at
		FROM imports WHERE id = ?`, id)
	return scanImport(row)
}

func (s *Store) ListImports(limit int) ([]Import, error) {
	rows, err := s.db.Query(`
		SELECT id, title, payload_json, report_json, status, created_at, updated_at
		FROM imports ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var imports []Import
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, err
		}
		imports = append(imports, imp)
	}
	return imports, rows.Err()
}

// MarkImportDecided transitions a pending import to "applied" or "discarded".
// Returns ErrNotFound if the import does not exist or was already decided,
// which makes the decision endpoint idempotent-safe against double submits.
func (s *Store) MarkImportDecided(id, status string) error {
	res, err := s.db.Exec(`
		UPDATE imports SET status = ?, updated_at = ? WHERE id = ? AND status = 'pending_decision'`,
		status, fmtTime(time.Now()), id)
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

func scanImport(row rowScanner) (Import, error) {
	var imp Import
	var createdAt, updatedAt string
	err := row.Scan(&imp.ID, &imp.Title, &imp.PayloadJSON, &imp.ReportJSON, &imp.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Import{}, ErrNotFound
	}
	if err != nil {
		return Import{}, err
	}
	if imp.CreatedAt, err = parseTime(createdAt); err != nil {
		return Import{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if imp.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Import{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return imp, nil
}
