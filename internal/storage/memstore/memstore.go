// Package memstore is an in-memory implementation of the storage ports. It
// enforces the same invariants as Postgres and is used by tests and by
// ephemeral deployments that do not need durability.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/storage"
)

// Store holds facts and entities behind a single mutex.
type Store struct {
	mu sync.RWMutex

	facts   []model.Fact               // insertion order
	current map[model.Slot]int         // slot -> index into facts
	byID    map[uuid.UUID]int          // fact ID -> index into facts
	people  map[uuid.UUID]model.Person // by ID
	orgs    map[uuid.UUID]model.Organization

	// InsertHook, when set, runs after the current fact has been read and
	// before the write lands. Tests use it to inject a concurrent writer.
	InsertHook func(slot model.Slot)
}

// New returns an empty store.
func New() *Store {
	return &Store{
		current: make(map[model.Slot]int),
		byID:    make(map[uuid.UUID]int),
		people:  make(map[uuid.UUID]model.Person),
		orgs:    make(map[uuid.UUID]model.Organization),
	}
}

var _ storage.Store = (*Store)(nil)

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close(context.Context) {}

// GetCurrentFact returns the current fact in slot, or nil.
func (s *Store) GetCurrentFact(_ context.Context, slot model.Slot) (*model.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.current[slot]
	if !ok {
		return nil, nil
	}
	f := s.facts[i]
	return &f, nil
}

// InsertFact records the first current fact of a slot.
func (s *Store) InsertFact(_ context.Context, in model.FactInput) (model.Fact, error) {
	s.runHook(in.Slot())

	s.mu.Lock()
	defer s.mu.Unlock()
	slot := in.Slot()
	if _, ok := s.current[slot]; ok {
		return model.Fact{}, fmt.Errorf("%w: %s", storage.ErrCurrentFactExists, slot)
	}
	f := in.NewFact(time.Now())
	s.append(f)
	return f, nil
}

// SupersedeFact retires retireID and records in as the slot's current fact.
func (s *Store) SupersedeFact(_ context.Context, retireID uuid.UUID, in model.FactInput) (model.Fact, error) {
	s.runHook(in.Slot())

	s.mu.Lock()
	defer s.mu.Unlock()
	slot := in.Slot()
	i, ok := s.current[slot]
	if !ok || s.facts[i].ID != retireID {
		return model.Fact{}, fmt.Errorf("%w: %s", storage.ErrFactNotCurrent, retireID)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	retiredAt := in.RetireAt(now)
	s.facts[i].ValidUntil = &retiredAt
	delete(s.current, slot)

	f := in.NewFact(now)
	s.append(f)
	return f, nil
}

// RetireFact closes a current fact without a replacement.
func (s *Store) RetireFact(_ context.Context, factID uuid.UUID, retiredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[factID]
	if !ok {
		return fmt.Errorf("%w: fact %s", storage.ErrNotFound, factID)
	}
	if s.facts[i].ValidUntil != nil {
		return fmt.Errorf("%w: %s", storage.ErrFactNotCurrent, factID)
	}
	at := retiredAt.UTC().Truncate(time.Microsecond)
	s.facts[i].ValidUntil = &at
	delete(s.current, s.facts[i].Slot())
	return nil
}

// GetHistory returns every fact in slot, newest first.
func (s *Store) GetHistory(_ context.Context, slot model.Slot) ([]model.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Fact
	for i := len(s.facts) - 1; i >= 0; i-- {
		if s.facts[i].Slot() == slot {
			out = append(out, s.facts[i])
		}
	}
	return out, nil
}

// ListFacts returns the subject's facts ordered by type, key, and recency.
func (s *Store) ListFacts(_ context.Context, q model.FactQuery) ([]model.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Fact
	for i := len(s.facts) - 1; i >= 0; i-- {
		f := s.facts[i]
		if f.Subject != q.Subject ||
			(q.FactType != "" && f.FactType != q.FactType) ||
			(q.Key != "" && f.Key != q.Key) ||
			(!q.IncludeHistorical && !f.IsCurrent()) {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].FactType != out[b].FactType {
			return out[a].FactType < out[b].FactType
		}
		return out[a].Key < out[b].Key
	})
	return out, nil
}

func (s *Store) append(f model.Fact) {
	s.facts = append(s.facts, f)
	idx := len(s.facts) - 1
	s.byID[f.ID] = idx
	s.current[f.Slot()] = idx
}

func (s *Store) runHook(slot model.Slot) {
	if s.InsertHook != nil {
		s.InsertHook(slot)
	}
}

// FindPersonByKey returns the person registered under key.
func (s *Store) FindPersonByKey(_ context.Context, key string) (model.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.people {
		if p.CanonicalKey == key {
			return p, nil
		}
	}
	return model.Person{}, fmt.Errorf("%w: person %s", storage.ErrNotFound, key)
}

// FindOrganizationByKey returns the organization registered under key.
func (s *Store) FindOrganizationByKey(_ context.Context, key string) (model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orgs {
		if o.CanonicalKey == key {
			return o, nil
		}
	}
	return model.Organization{}, fmt.Errorf("%w: organization %s", storage.ErrNotFound, key)
}

// ListPeople returns up to limit people, most recently updated first.
func (s *Store) ListPeople(_ context.Context, limit int) ([]model.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Person, 0, len(s.people))
	for _, p := range s.people {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b model.Person) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out[:min(len(out), storage.ClampLimit(limit, 500, 5000))], nil
}

// ListOrganizations returns up to limit organizations, most recently updated first.
func (s *Store) ListOrganizations(_ context.Context, limit int) ([]model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b model.Organization) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out[:min(len(out), storage.ClampLimit(limit, 500, 5000))], nil
}

// ScanPeople returns up to limit people with IDs greater than after, in ID order.
func (s *Store) ScanPeople(_ context.Context, after uuid.UUID, limit int) ([]model.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Person
	for id, p := range s.people {
		if bytes.Compare(id[:], after[:]) > 0 {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b model.Person) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	return out[:min(len(out), storage.ClampLimit(limit, 500, 5000))], nil
}

// ScanOrganizations returns up to limit organizations with IDs greater than
// after, in ID order.
func (s *Store) ScanOrganizations(_ context.Context, after uuid.UUID, limit int) ([]model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Organization
	for id, o := range s.orgs {
		if bytes.Compare(id[:], after[:]) > 0 {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b model.Organization) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	return out[:min(len(out), storage.ClampLimit(limit, 500, 5000))], nil
}

// CreatePerson registers a person under its canonical key.
func (s *Store) CreatePerson(_ context.Context, p model.Person) (model.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.personKeyTaken(p.CanonicalKey, uuid.Nil) {
		return model.Person{}, fmt.Errorf("%w: %s", storage.ErrDuplicateKey, p.CanonicalKey)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	p.CreatedAt, p.UpdatedAt = now, now
	s.people[p.ID] = p
	return p, nil
}

// CreateOrganization registers an organization under its canonical key.
func (s *Store) CreateOrganization(_ context.Context, o model.Organization) (model.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orgKeyTaken(o.CanonicalKey, uuid.Nil) {
		return model.Organization{}, fmt.Errorf("%w: %s", storage.ErrDuplicateKey, o.CanonicalKey)
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	o.CreatedAt, o.UpdatedAt = now, now
	s.orgs[o.ID] = o
	return o, nil
}

// UpdatePerson overwrites a person's identifying fields and canonical key.
func (s *Store) UpdatePerson(_ context.Context, p model.Person) (model.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.people[p.ID]
	if !ok {
		return model.Person{}, fmt.Errorf("%w: person %s", storage.ErrNotFound, p.ID)
	}
	if s.personKeyTaken(p.CanonicalKey, p.ID) {
		return model.Person{}, fmt.Errorf("%w: %s", storage.ErrDuplicateKey, p.CanonicalKey)
	}
	p.CreatedAt = prev.CreatedAt
	p.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	s.people[p.ID] = p
	return p, nil
}

// UpdateOrganization overwrites an organization's identifying fields and canonical key.
func (s *Store) UpdateOrganization(_ context.Context, o model.Organization) (model.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.orgs[o.ID]
	if !ok {
		return model.Organization{}, fmt.Errorf("%w: organization %s", storage.ErrNotFound, o.ID)
	}
	if s.orgKeyTaken(o.CanonicalKey, o.ID) {
		return model.Organization{}, fmt.Errorf("%w: %s", storage.ErrDuplicateKey, o.CanonicalKey)
	}
	o.CreatedAt = prev.CreatedAt
	o.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	s.orgs[o.ID] = o
	return o, nil
}

func (s *Store) personKeyTaken(key string, except uuid.UUID) bool {
	for id, p := range s.people {
		if id != except && p.CanonicalKey == key {
			return true
		}
	}
	return false
}

func (s *Store) orgKeyTaken(key string, except uuid.UUID) bool {
	for id, o := range s.orgs {
		if id != except && o.CanonicalKey == key {
			return true
		}
	}
	return false
}
