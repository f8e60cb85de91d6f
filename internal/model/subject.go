package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EntityType identifies the kind of entity a fact attaches to.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityDeal         EntityType = "deal"
	EntityConversation EntityType = "conversation"
)

// Valid reports whether t is one of the four entity types facts can attach to.
func (t EntityType) Valid() bool {
	switch t {
	case EntityPerson, EntityOrganization, EntityDeal, EntityConversation:
		return true
	}
	return false
}

// Subject is the single entity a fact is about. It always names exactly one
// entity: a type tag plus that entity's ID.
type Subject struct {
	Type EntityType `json:"type"`
	ID   uuid.UUID  `json:"id"`
}

func PersonSubject(id uuid.UUID) Subject       { return Subject{Type: EntityPerson, ID: id} }
func OrganizationSubject(id uuid.UUID) Subject { return Subject{Type: EntityOrganization, ID: id} }
func DealSubject(id uuid.UUID) Subject         { return Subject{Type: EntityDeal, ID: id} }
func ConversationSubject(id uuid.UUID) Subject { return Subject{Type: EntityConversation, ID: id} }

// ParseSubject builds a Subject from the loosely typed pair that arrives at
// the API boundary.
func ParseSubject(entityType, entityID string) (Subject, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(entityType)))
	if t == "" {
		return Subject{}, &ValidationError{Field: "entity_type", Message: "is required"}
	}
	if !t.Valid() {
		return Subject{}, &ValidationError{
			Field:   "entity_type",
			Message: fmt.Sprintf("must be one of person, organization, deal, conversation (got %q)", entityType),
		}
	}
	if strings.TrimSpace(entityID) == "" {
		return Subject{}, &ValidationError{Field: "entity_id", Message: "is required"}
	}
	id, err := uuid.Parse(strings.TrimSpace(entityID))
	if err != nil {
		return Subject{}, &ValidationError{Field: "entity_id", Message: "must be a valid UUID"}
	}
	return Subject{Type: t, ID: id}, nil
}

// IsZero reports whether the subject is unset.
func (s Subject) IsZero() bool {
	return s.Type == "" && s.ID == uuid.Nil
}

func (s Subject) String() string {
	return string(s.Type) + ":" + s.ID.String()
}

// Slot is the (subject, fact type, key) coordinate. At most one current fact
// exists per slot.
type Slot struct {
	Subject  Subject `json:"subject"`
	FactType string  `json:"fact_type"`
	Key      string  `json:"key"`
}

func (s Slot) String() string {
	return s.Subject.String() + "/" + s.FactType + "/" + s.Key
}
