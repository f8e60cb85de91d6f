// Package entities resolves incoming person and organization references to
// registry rows by canonical key, falling back to fuzzy name matching.
package entities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/factstore/internal/entitykey"
	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/storage"
)

const (
	// candidateLimit bounds how many registry rows are scored for a fuzzy match.
	candidateLimit = 1000
	// rekeyPage is the page size of a rekey pass.
	rekeyPage = 500
)

// PersonInput identifies a person to resolve.
type PersonInput struct {
	Email     string
	FirstName string
	LastName  string
	DryRun    bool
}

// OrganizationInput identifies an organization to resolve. Website may be a
// URL or a contact email; it supplies the domain when Domain is empty.
type OrganizationInput struct {
	Name    string
	Domain  string
	Website string
	DryRun  bool
}

// Resolver maps entity references to registry rows.
type Resolver struct {
	repo   storage.EntityRepository
	logger *slog.Logger
}

// NewResolver creates a resolver over repo.
func NewResolver(repo storage.EntityRepository, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// ResolvePerson returns the registered person for in. An exact canonical key
// hit wins. A name-only reference that is close to a registered name is
// returned as a fuzzy match and nothing is created. Otherwise the person is
// registered, unless in.DryRun is set.
//
// Fuzzy matching scores only the most recently updated people, up to
// candidateLimit; an older near-duplicate is not found.
func (r *Resolver) ResolvePerson(ctx context.Context, in PersonInput) (model.PersonMatch, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	key := entitykey.PersonKey(entitykey.Person{Email: in.Email, FirstName: in.FirstName, LastName: in.LastName})

	p, err := r.repo.FindPersonByKey(ctx, key)
	switch {
	case err == nil:
		return model.PersonMatch{Match: model.MatchKey, CanonicalKey: key, Person: &p}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return model.PersonMatch{}, fmt.Errorf("entities: find person: %w", err)
	}

	candidate := model.Person{FirstName: in.FirstName, LastName: in.LastName, CanonicalKey: key}
	if in.Email == "" {
		if m, ok, err := r.fuzzyPerson(ctx, candidate.FullName()); err != nil {
			return model.PersonMatch{}, err
		} else if ok {
			m.CanonicalKey = key
			return m, nil
		}
	} else {
		email := strings.ToLower(in.Email)
		candidate.Email = &email
	}

	if in.DryRun {
		return model.PersonMatch{Match: model.MatchNone, CanonicalKey: key}, nil
	}
	created, err := r.repo.CreatePerson(ctx, candidate)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// Registered concurrently under the same key.
		existing, ferr := r.repo.FindPersonByKey(ctx, key)
		if ferr != nil {
			return model.PersonMatch{}, fmt.Errorf("entities: refetch person: %w", ferr)
		}
		return model.PersonMatch{Match: model.MatchKey, CanonicalKey: key, Person: &existing}, nil
	}
	if err != nil {
		return model.PersonMatch{}, fmt.Errorf("entities: create person: %w", err)
	}
	r.logger.Info("entities: registered person", "person_id", created.ID, "canonical_key", key)
	return model.PersonMatch{Match: model.MatchCreated, CanonicalKey: key, Person: &created}, nil
}

func (r *Resolver) fuzzyPerson(ctx context.Context, name string) (model.PersonMatch, bool, error) {
	if name == "" {
		return model.PersonMatch{}, false, nil
	}
	people, err := r.repo.ListPeople(ctx, candidateLimit)
	if err != nil {
		return model.PersonMatch{}, false, fmt.Errorf("entities: list people: %w", err)
	}
	if len(people) == candidateLimit {
		r.logger.Debug("entities: fuzzy candidates truncated", "entity_type", "person", "limit", candidateLimit)
	}
	names := make([]string, len(people))
	for i, p := range people {
		names[i] = p.FullName()
	}
	i, score := entitykey.BestMatch(name, names, entitykey.PersonMatchThreshold)
	if i < 0 {
		return model.PersonMatch{}, false, nil
	}
	return model.PersonMatch{Match: model.MatchFuzzy, Person: &people[i], Similarity: score}, true, nil
}

// ResolveOrganization returns the registered organization for in, following
// the same rules as ResolvePerson with the domain as the authoritative
// identifier. Fuzzy matching has the same candidate bound.
func (r *Resolver) ResolveOrganization(ctx context.Context, in OrganizationInput) (model.OrganizationMatch, error) {
	in.Name = strings.TrimSpace(in.Name)
	domain := strings.ToLower(strings.TrimSpace(in.Domain))
	if domain == "" && in.Website != "" {
		if d, ok := entitykey.ExtractDomain(in.Website); ok {
			domain = d
		}
	}
	key := entitykey.OrgKey(entitykey.Organization{Domain: domain, Name: in.Name})

	o, err := r.repo.FindOrganizationByKey(ctx, key)
	switch {
	case err == nil:
		return model.OrganizationMatch{Match: model.MatchKey, CanonicalKey: key, Organization: &o}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return model.OrganizationMatch{}, fmt.Errorf("entities: find organization: %w", err)
	}

	candidate := model.Organization{Name: in.Name, CanonicalKey: key}
	if domain == "" {
		if m, ok, err := r.fuzzyOrganization(ctx, in.Name); err != nil {
			return model.OrganizationMatch{}, err
		} else if ok {
			m.CanonicalKey = key
			return m, nil
		}
	} else {
		candidate.Domain = &domain
	}

	if in.DryRun {
		return model.OrganizationMatch{Match: model.MatchNone, CanonicalKey: key}, nil
	}
	created, err := r.repo.CreateOrganization(ctx, candidate)
	if errors.Is(err, storage.ErrDuplicateKey) {
		existing, ferr := r.repo.FindOrganizationByKey(ctx, key)
		if ferr != nil {
			return model.OrganizationMatch{}, fmt.Errorf("entities: refetch organization: %w", ferr)
		}
		return model.OrganizationMatch{Match: model.MatchKey, CanonicalKey: key, Organization: &existing}, nil
	}
	if err != nil {
		return model.OrganizationMatch{}, fmt.Errorf("entities: create organization: %w", err)
	}
	r.logger.Info("entities: registered organization", "organization_id", created.ID, "canonical_key", key)
	return model.OrganizationMatch{Match: model.MatchCreated, CanonicalKey: key, Organization: &created}, nil
}

func (r *Resolver) fuzzyOrganization(ctx context.Context, name string) (model.OrganizationMatch, bool, error) {
	if name == "" {
		return model.OrganizationMatch{}, false, nil
	}
	orgs, err := r.repo.ListOrganizations(ctx, candidateLimit)
	if err != nil {
		return model.OrganizationMatch{}, false, fmt.Errorf("entities: list organizations: %w", err)
	}
	if len(orgs) == candidateLimit {
		r.logger.Debug("entities: fuzzy candidates truncated", "entity_type", "organization", "limit", candidateLimit)
	}
	names := make([]string, len(orgs))
	for i, o := range orgs {
		names[i] = o.Name
	}
	i, score := entitykey.BestMatch(name, names, entitykey.OrgMatchThreshold)
	if i < 0 {
		return model.OrganizationMatch{}, false, nil
	}
	return model.OrganizationMatch{Match: model.MatchFuzzy, Organization: &orgs[i], Similarity: score}, true, nil
}

// RekeyPeople recomputes every person's canonical key and stores the ones
// that changed. Rows whose new key is already taken are skipped and counted
// as collisions for manual merging.
func (r *Resolver) RekeyPeople(ctx context.Context, dryRun bool) (RekeyReport, error) {
	var rep RekeyReport
	after := uuid.Nil
	for {
		people, err := r.repo.ScanPeople(ctx, after, rekeyPage)
		if err != nil {
			return rep, fmt.Errorf("entities: scan people: %w", err)
		}
		for _, p := range people {
			if err := r.rekeyPerson(ctx, p, dryRun, &rep); err != nil {
				return rep, err
			}
		}
		if len(people) < rekeyPage {
			return rep, nil
		}
		after = people[len(people)-1].ID
	}
}

func (r *Resolver) rekeyPerson(ctx context.Context, p model.Person, dryRun bool, rep *RekeyReport) error {
	rep.Scanned++
	email := ""
	if p.Email != nil {
		email = *p.Email
	}
	key := entitykey.PersonKey(entitykey.Person{Email: email, FirstName: p.FirstName, LastName: p.LastName})
	if key == p.CanonicalKey {
		return nil
	}
	rep.Changed++
	if dryRun {
		return nil
	}
	p.CanonicalKey = key
	if _, err := r.repo.UpdatePerson(ctx, p); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			rep.Collisions++
			r.logger.Warn("entities: rekey collision", "person_id", p.ID, "canonical_key", key)
			return nil
		}
		return fmt.Errorf("entities: rekey person %s: %w", p.ID, err)
	}
	return nil
}

// RekeyOrganizations is RekeyPeople for organizations.
func (r *Resolver) RekeyOrganizations(ctx context.Context, dryRun bool) (RekeyReport, error) {
	var rep RekeyReport
	after := uuid.Nil
	for {
		orgs, err := r.repo.ScanOrganizations(ctx, after, rekeyPage)
		if err != nil {
			return rep, fmt.Errorf("entities: scan organizations: %w", err)
		}
		for _, o := range orgs {
			if err := r.rekeyOrganization(ctx, o, dryRun, &rep); err != nil {
				return rep, err
			}
		}
		if len(orgs) < rekeyPage {
			return rep, nil
		}
		after = orgs[len(orgs)-1].ID
	}
}

func (r *Resolver) rekeyOrganization(ctx context.Context, o model.Organization, dryRun bool, rep *RekeyReport) error {
	rep.Scanned++
	domain := ""
	if o.Domain != nil {
		domain = *o.Domain
	}
	key := entitykey.OrgKey(entitykey.Organization{Domain: domain, Name: o.Name})
	if key == o.CanonicalKey {
		return nil
	}
	rep.Changed++
	if dryRun {
		return nil
	}
	o.CanonicalKey = key
	if _, err := r.repo.UpdateOrganization(ctx, o); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			rep.Collisions++
			r.logger.Warn("entities: rekey collision", "organization_id", o.ID, "canonical_key", key)
			return nil
		}
		return fmt.Errorf("entities: rekey organization %s: %w", o.ID, err)
	}
	return nil
}

// RekeyReport summarizes a rekey pass.
type RekeyReport struct {
	Scanned    int `json:"scanned"`
	Changed    int `json:"changed"`
	Collisions int `json:"collisions"`
}
