package storage

import (
	"database/sql"
	"fmt"
)

func (s *Store) SavePerson(p Person) error {
	_, err := s.db.Exec(`
		INSERT INTO people (id, full_name, role, role_context, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.FullName, p.Role, nullStr(p.RoleContext), fmtTime(p.CreatedAt),
	)
	return err
}

func (s *Store) GetPerson(id string) (Person, error) {
	row := s.db.QueryRow(`
		SELECT id, full_name, role, role_context, created_at
		FROM people WHERE id = ?`, id)
	return scanPerson(row)
}

// ListPeople returns the full person directory ordered by name. Callers pass
// this directly into the name matcher.
func (s *Store) ListPeople() ([]Person, error) {
	rows, err := s.db.Query(`
		SELECT id, full_name, role, role_context, created_at
		FROM people ORDER BY full_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// FindPersonByRole returns the first person with the given role.
// Used to locate the "me" identity for analysis requests.
func (s *Store) FindPersonByRole(role string) (Person, error) {
	row := s.db.QueryRow(`
		SELECT id, full_name, role, role_context, created_at
		FROM people WHERE role = ? ORDER BY created_at ASC LIMIT 1`, role)
	return scanPerson(row)
}

func (s *Store) UpdatePersonProfile(id, role, roleContext string) error {
	res, err := s.db.Exec(`UPDATE people SET role = ?, role_context = ? WHERE id = ?`,
		role, nullStr(roleContext), id)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner) (Person, error) {
	var p Person
	var roleContext sql.NullString
	var createdAt string
	err := row.Scan(&p.ID, &p.FullName, &p.Role, &roleContext, &createdAt)
	if err == sql.ErrNoRows {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, err
	}
	p.RoleContext = roleContext.String
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Person{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return p, nil
}
