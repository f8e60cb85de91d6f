package model

import (
	"time"

	"github.com/google/uuid"
)

// Person is a registry row for a real-world person. CanonicalKey is unique
// across the table and is recomputed whenever email or name changes.
type Person struct {
	ID           uuid.UUID `json:"id"`
	Email        *string   `json:"email,omitempty"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	CanonicalKey string    `json:"canonical_key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FullName joins first and last name with a single space.
func (p Person) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Organization is a registry row for a company or fund.
type Organization struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Domain       *string   `json:"domain,omitempty"`
	CanonicalKey string    `json:"canonical_key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MatchKind describes how an entity resolution request was satisfied.
type MatchKind string

const (
	MatchKey     MatchKind = "key"     // canonical key hit
	MatchFuzzy   MatchKind = "fuzzy"   // near-duplicate name, left for review
	MatchCreated MatchKind = "created" // no match, new entity registered
	MatchNone    MatchKind = "none"    // no match, dry run
)

// PersonMatch is the result of resolving a person.
type PersonMatch struct {
	Match        MatchKind `json:"match"`
	CanonicalKey string    `json:"canonical_key"`
	Person       *Person   `json:"person,omitempty"`
	Similarity   float64   `json:"similarity,omitempty"`
}

// OrganizationMatch is the result of resolving an organization.
type OrganizationMatch struct {
	Match        MatchKind     `json:"match"`
	CanonicalKey string        `json:"canonical_key"`
	Organization *Organization `json:"organization,omitempty"`
	Similarity   float64       `json:"similarity,omitempty"`
}
