package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/storage"
)

const (
	personColumns       = `id, email, first_name, last_name, canonical_key, created_at, updated_at`
	organizationColumns = `id, name, domain, canonical_key, created_at, updated_at`
)

// FindPersonByKey returns the person registered under key.
func (s *Store) FindPersonByKey(ctx context.Context, key string) (model.Person, error) {
	p, err := scanPerson(s.db.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM people WHERE canonical_key = ?`, key))
	if err != nil {
		if isNoRows(err) {
			return model.Person{}, fmt.Errorf("%w: person %s", storage.ErrNotFound, key)
		}
		return model.Person{}, fmt.Errorf("sqlite: get person: %w", err)
	}
	return p, nil
}

// FindOrganizationByKey returns the organization registered under key.
func (s *Store) FindOrganizationByKey(ctx context.Context, key string) (model.Organization, error) {
	o, err := scanOrganization(s.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE canonical_key = ?`, key))
	if err != nil {
		if isNoRows(err) {
			return model.Organization{}, fmt.Errorf("%w: organization %s", storage.ErrNotFound, key)
		}
		return model.Organization{}, fmt.Errorf("sqlite: get organization: %w", err)
	}
	return o, nil
}

// ListPeople returns up to limit people, most recently updated first.
func (s *Store) ListPeople(ctx context.Context, limit int) ([]model.Person, error) {
	return s.queryPeople(ctx,
		`SELECT `+personColumns+` FROM people ORDER BY updated_at DESC LIMIT ?`,
		storage.ClampLimit(limit, 500, 5000))
}

// ScanPeople returns up to limit people with IDs greater than after, in ID order.
func (s *Store) ScanPeople(ctx context.Context, after uuid.UUID, limit int) ([]model.Person, error) {
	return s.queryPeople(ctx,
		`SELECT `+personColumns+` FROM people WHERE id > ? ORDER BY id LIMIT ?`,
		after.String(), storage.ClampLimit(limit, 500, 5000))
}

func (s *Store) queryPeople(ctx context.Context, query string, args ...any) ([]model.Person, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list people: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var people []model.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan person: %w", err)
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// ListOrganizations returns up to limit organizations, most recently updated first.
func (s *Store) ListOrganizations(ctx context.Context, limit int) ([]model.Organization, error) {
	return s.queryOrganizations(ctx,
		`SELECT `+organizationColumns+` FROM organizations ORDER BY updated_at DESC LIMIT ?`,
		storage.ClampLimit(limit, 500, 5000))
}

// ScanOrganizations returns up to limit organizations with IDs greater than
// after, in ID order.
func (s *Store) ScanOrganizations(ctx context.Context, after uuid.UUID, limit int) ([]model.Organization, error) {
	return s.queryOrganizations(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id > ? ORDER BY id LIMIT ?`,
		after.String(), storage.ClampLimit(limit, 500, 5000))
}

func (s *Store) queryOrganizations(ctx context.Context, query string, args ...any) ([]model.Organization, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list organizations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orgs []model.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan organization: %w", err)
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// CreatePerson registers a person under its canonical key.
func (s *Store) CreatePerson(ctx context.Context, p model.Person) (model.Person, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	ts := now()
	p.CreatedAt, p.UpdatedAt = ts, ts
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO people (id, email, first_name, last_name, canonical_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), nullString(p.Email), p.FirstName, p.LastName, p.CanonicalKey,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "people") {
			return model.Person{}, fmt.Errorf("%w: %s", storage.ErrDuplicateKey, p.CanonicalKey)
		}
		return model.Person{}, fmt.Errorf("sqlite: create person: %w", err)
	}
	return p, nil
}

// CreateOrganization registers an organization under its canonical key.
func (s *Store) CreateOrganization(ctx context.Context, o model.Organization) (model.Organization, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	ts := now()
	o.CreatedAt, o.UpdatedAt = ts, ts
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, domain, canonical_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.Name, nullString(o.Domain), o.CanonicalKey,
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "organizations") {
			return model.Organization{}, fmt.Errorf("%w: %s", storage.ErrDuplicateKey, o.CanonicalKey)
		}
		return model.Organization{}, fmt.Errorf("sqlite: create organization: %w", err)
	}
	return o, nil
}

// UpdatePerson overwrites a person's identifying fields and canonical key.
func (s *Store) UpdatePerson(ctx context.Context, p model.Person) (model.Person, error) {
	p.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE people SET email = ?, first_name = ?, last_name = ?, canonical_key = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(p.Email), p.FirstName, p.LastName, p.CanonicalKey, formatTime(p.UpdatedAt), p.ID.String(),
	)
	if err != nil {
		if isUniqueViolation(err, "people") {
			return model.Person{}, fmt.Errorf("%w: %s", storage.ErrDuplicateKey, p.CanonicalKey)
		}
		return model.Person{}, fmt.Errorf("sqlite: update person: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Person{}, fmt.Errorf("%w: person %s", storage.ErrNotFound, p.ID)
	}
	return p, nil
}

// UpdateOrganization overwrites an organization's identifying fields and canonical key.
func (s *Store) UpdateOrganization(ctx context.Context, o model.Organization) (model.Organization, error) {
	o.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET name = ?, domain = ?, canonical_key = ?, updated_at = ? WHERE id = ?`,
		o.Name, nullString(o.Domain), o.CanonicalKey, formatTime(o.UpdatedAt), o.ID.String(),
	)
	if err != nil {
		if isUniqueViolation(err, "organizations") {
			return model.Organization{}, fmt.Errorf("%w: %s", storage.ErrDuplicateKey, o.CanonicalKey)
		}
		return model.Organization{}, fmt.Errorf("sqlite: update organization: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Organization{}, fmt.Errorf("%w: organization %s", storage.ErrNotFound, o.ID)
	}
	return o, nil
}

func scanPerson(row scanner) (model.Person, error) {
	var (
		p                    model.Person
		id, created, updated string
		email                sql.NullString
	)
	if err := row.Scan(&id, &email, &p.FirstName, &p.LastName, &p.CanonicalKey, &created, &updated); err != nil {
		return model.Person{}, err
	}
	var err error
	if p.ID, err = parseUUID(id); err != nil {
		return model.Person{}, err
	}
	p.Email = stringPtr(email)
	if p.CreatedAt, err = parseTime(created); err != nil {
		return model.Person{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Person{}, err
	}
	return p, nil
}

func scanOrganization(row scanner) (model.Organization, error) {
	var (
		o                    model.Organization
		id, created, updated string
		domain               sql.NullString
	)
	if err := row.Scan(&id, &o.Name, &domain, &o.CanonicalKey, &created, &updated); err != nil {
		return model.Organization{}, err
	}
	var err error
	if o.ID, err = parseUUID(id); err != nil {
		return model.Organization{}, err
	}
	o.Domain = stringPtr(domain)
	if o.CreatedAt, err = parseTime(created); err != nil {
		return model.Organization{}, err
	}
	if o.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Organization{}, err
	}
	return o, nil
}
