package factstore

import (
	"time"

	"github.com/google/uuid"
)

// Fact is the public representation of a recorded fact.
// It is a curated view of internal/model.Fact for use in extension interfaces.
// No internal package imports, so it is safe to use from outside the module.
type Fact struct {
	ID         uuid.UUID
	EntityType string
	EntityID   uuid.UUID
	FactType   string
	Key        string
	Value      string
	SourceType string
	SourceID   *string
	SourceURL  *string
	Confidence float64
	ValidFrom  time.Time
	CreatedAt  time.Time
	CreatedBy  *string

	// Classification is NEW or UPDATE; SupersededID is set for UPDATE.
	Classification string
	SupersededID   *uuid.UUID
}

// Conflict is an incoming fact that was escalated for manual review instead
// of being written.
type Conflict struct {
	EntityType string
	EntityID   uuid.UUID
	FactType   string
	Key        string

	// ExistingFactID and ExistingValue describe the current fact, when one
	// could be loaded.
	ExistingFactID     *uuid.UUID
	ExistingValue      *string
	ExistingSourceType *string
	ExistingConfidence *float64

	IncomingValue      string
	IncomingSourceType string
	IncomingSourceID   *string
	IncomingConfidence float64

	// Reason is different_source_not_more_confident or concurrent_write.
	Reason string
}
