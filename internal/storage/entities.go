package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/factstore/internal/model"
)

const (
	personColumns       = `id, email, first_name, last_name, canonical_key, created_at, updated_at`
	organizationColumns = `id, name, domain, canonical_key, created_at, updated_at`
)

// FindPersonByKey returns the person registered under key.
func (db *DB) FindPersonByKey(ctx context.Context, key string) (model.Person, error) {
	p, err := scanPerson(db.pool.QueryRow(ctx,
		`SELECT `+personColumns+` FROM people WHERE canonical_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Person{}, fmt.Errorf("%w: person %s", ErrNotFound, key)
		}
		return model.Person{}, fmt.Errorf("storage: get person: %w", err)
	}
	return p, nil
}

// FindOrganizationByKey returns the organization registered under key.
func (db *DB) FindOrganizationByKey(ctx context.Context, key string) (model.Organization, error) {
	o, err := scanOrganization(db.pool.QueryRow(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE canonical_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Organization{}, fmt.Errorf("%w: organization %s", ErrNotFound, key)
		}
		return model.Organization{}, fmt.Errorf("storage: get organization: %w", err)
	}
	return o, nil
}

// ListPeople returns up to limit people, most recently updated first.
func (db *DB) ListPeople(ctx context.Context, limit int) ([]model.Person, error) {
	return db.queryPeople(ctx,
		`SELECT `+personColumns+` FROM people ORDER BY updated_at DESC LIMIT $1`,
		ClampLimit(limit, 500, 5000))
}

// ScanPeople returns up to limit people with IDs greater than after, in ID order.
func (db *DB) ScanPeople(ctx context.Context, after uuid.UUID, limit int) ([]model.Person, error) {
	return db.queryPeople(ctx,
		`SELECT `+personColumns+` FROM people WHERE id > $1 ORDER BY id LIMIT $2`,
		after, ClampLimit(limit, 500, 5000))
}

func (db *DB) queryPeople(ctx context.Context, query string, args ...any) ([]model.Person, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list people: %w", err)
	}
	defer rows.Close()

	var people []model.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan person: %w", err)
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// ListOrganizations returns up to limit organizations, most recently updated first.
func (db *DB) ListOrganizations(ctx context.Context, limit int) ([]model.Organization, error) {
	return db.queryOrganizations(ctx,
		`SELECT `+organizationColumns+` FROM organizations ORDER BY updated_at DESC LIMIT $1`,
		ClampLimit(limit, 500, 5000))
}

// ScanOrganizations returns up to limit organizations with IDs greater than
// after, in ID order.
func (db *DB) ScanOrganizations(ctx context.Context, after uuid.UUID, limit int) ([]model.Organization, error) {
	return db.queryOrganizations(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id > $1 ORDER BY id LIMIT $2`,
		after, ClampLimit(limit, 500, 5000))
}

func (db *DB) queryOrganizations(ctx context.Context, query string, args ...any) ([]model.Organization, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan organization: %w", err)
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// CreatePerson registers a person under its canonical key.
func (db *DB) CreatePerson(ctx context.Context, p model.Person) (model.Person, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO people (id, email, first_name, last_name, canonical_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Email, p.FirstName, p.LastName, p.CanonicalKey, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "people_canonical_key_key") {
			return model.Person{}, fmt.Errorf("%w: %s", ErrDuplicateKey, p.CanonicalKey)
		}
		return model.Person{}, fmt.Errorf("storage: create person: %w", err)
	}
	return p, nil
}

// CreateOrganization registers an organization under its canonical key.
func (db *DB) CreateOrganization(ctx context.Context, o model.Organization) (model.Organization, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	o.CreatedAt, o.UpdatedAt = now, now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, domain, canonical_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.Name, o.Domain, o.CanonicalKey, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "organizations_canonical_key_key") {
			return model.Organization{}, fmt.Errorf("%w: %s", ErrDuplicateKey, o.CanonicalKey)
		}
		return model.Organization{}, fmt.Errorf("storage: create organization: %w", err)
	}
	return o, nil
}

// UpdatePerson overwrites a person's identifying fields and canonical key.
func (db *DB) UpdatePerson(ctx context.Context, p model.Person) (model.Person, error) {
	p.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	tag, err := db.pool.Exec(ctx,
		`UPDATE people SET email = $2, first_name = $3, last_name = $4, canonical_key = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, p.Email, p.FirstName, p.LastName, p.CanonicalKey, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "people_canonical_key_key") {
			return model.Person{}, fmt.Errorf("%w: %s", ErrDuplicateKey, p.CanonicalKey)
		}
		return model.Person{}, fmt.Errorf("storage: update person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Person{}, fmt.Errorf("%w: person %s", ErrNotFound, p.ID)
	}
	return p, nil
}

// UpdateOrganization overwrites an organization's identifying fields and canonical key.
func (db *DB) UpdateOrganization(ctx context.Context, o model.Organization) (model.Organization, error) {
	o.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	tag, err := db.pool.Exec(ctx,
		`UPDATE organizations SET name = $2, domain = $3, canonical_key = $4, updated_at = $5
		 WHERE id = $1`,
		o.ID, o.Name, o.Domain, o.CanonicalKey, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "organizations_canonical_key_key") {
			return model.Organization{}, fmt.Errorf("%w: %s", ErrDuplicateKey, o.CanonicalKey)
		}
		return model.Organization{}, fmt.Errorf("storage: update organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Organization{}, fmt.Errorf("%w: organization %s", ErrNotFound, o.ID)
	}
	return o, nil
}

func scanPerson(row pgx.Row) (model.Person, error) {
	var p model.Person
	err := row.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.CanonicalKey, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanOrganization(row pgx.Row) (model.Organization, error) {
	var o model.Organization
	err := row.Scan(&o.ID, &o.Name, &o.Domain, &o.CanonicalKey, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}
