package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/factstore/internal/model"
)

// FactReader is the read side of the fact store.
type FactReader interface {
	// GetCurrentFact returns the current fact in slot, or nil when the slot is empty.
	GetCurrentFact(ctx context.Context, slot model.Slot) (*model.Fact, error)
	// GetHistory returns every fact ever recorded in slot, newest first.
	GetHistory(ctx context.Context, slot model.Slot) ([]model.Fact, error)
	// ListFacts returns the facts of one subject matching q.
	ListFacts(ctx context.Context, q model.FactQuery) ([]model.Fact, error)
}

// FactRepository is the storage port behind fact ingestion. Implementations
// must guarantee at most one current fact per slot: InsertFact fails with
// ErrCurrentFactExists and SupersedeFact with ErrFactNotCurrent or
// ErrCurrentFactExists instead of breaking that rule.
type FactRepository interface {
	FactReader
	// InsertFact records in as the first current fact of its slot.
	InsertFact(ctx context.Context, in model.FactInput) (model.Fact, error)
	// SupersedeFact retires retireID and records in as the new current fact,
	// atomically. retireID must be the current fact of in's slot.
	SupersedeFact(ctx context.Context, retireID uuid.UUID, in model.FactInput) (model.Fact, error)
	// RetireFact closes a current fact without a replacement.
	RetireFact(ctx context.Context, factID uuid.UUID, retiredAt time.Time) error
}

// EntityRepository is the registry of people and organizations keyed by
// canonical key.
type EntityRepository interface {
	FindPersonByKey(ctx context.Context, key string) (model.Person, error)
	FindOrganizationByKey(ctx context.Context, key string) (model.Organization, error)
	// ListPeople and ListOrganizations return fuzzy-match candidates, most
	// recently updated first.
	ListPeople(ctx context.Context, limit int) ([]model.Person, error)
	ListOrganizations(ctx context.Context, limit int) ([]model.Organization, error)
	// ScanPeople and ScanOrganizations page through the whole registry in ID
	// order, returning rows after the given ID. Pass uuid.Nil for the first page.
	ScanPeople(ctx context.Context, after uuid.UUID, limit int) ([]model.Person, error)
	ScanOrganizations(ctx context.Context, after uuid.UUID, limit int) ([]model.Organization, error)
	// CreatePerson and CreateOrganization fail with ErrDuplicateKey when the
	// canonical key is taken.
	CreatePerson(ctx context.Context, p model.Person) (model.Person, error)
	CreateOrganization(ctx context.Context, o model.Organization) (model.Organization, error)
	// UpdatePerson and UpdateOrganization overwrite identifying fields and
	// the canonical key.
	UpdatePerson(ctx context.Context, p model.Person) (model.Person, error)
	UpdateOrganization(ctx context.Context, o model.Organization) (model.Organization, error)
}

// Notifier publishes a payload on a named channel.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// Store bundles everything a running service needs from its backend.
type Store interface {
	FactRepository
	EntityRepository
	Ping(ctx context.Context) error
	Close(ctx context.Context)
}

// ClampLimit bounds a caller-supplied list limit.
func ClampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

var (
	_ Store    = (*DB)(nil)
	_ Notifier = (*DB)(nil)
)
