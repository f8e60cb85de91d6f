package model

import (
	"time"

	"github.com/google/uuid"
)

// Classification is the conflict detector's verdict on an incoming fact.
type Classification string

const (
	ClassificationNew       Classification = "NEW"
	ClassificationDuplicate Classification = "DUPLICATE"
	ClassificationUpdate    Classification = "UPDATE"
	ClassificationConflict  Classification = "CONFLICT"
)

// Resolution describes what the ingestion policy did with an incoming fact.
type Resolution string

const (
	ResolutionNew                Resolution = "new"
	ResolutionDuplicateIgnored   Resolution = "duplicate-ignored"
	ResolutionSupersededPrevious Resolution = "superseded-previous"
	ResolutionEscalated          Resolution = "escalated"
)

// ConflictReason explains why an incoming fact was escalated for review.
type ConflictReason string

const (
	// ReasonNotMoreConfident: a different source asserted a different value
	// without strictly higher confidence than the current fact.
	ReasonNotMoreConfident ConflictReason = "different_source_not_more_confident"
	// ReasonConcurrentWrite: the slot kept changing underneath the write even
	// after a retry.
	ReasonConcurrentWrite ConflictReason = "concurrent_write"
)

// FactSummary is the view of an existing fact shown to a reviewer.
type FactSummary struct {
	ID         uuid.UUID `json:"id"`
	Value      string    `json:"value"`
	SourceType string    `json:"source_type"`
	SourceID   *string   `json:"source_id,omitempty"`
	Confidence float64   `json:"confidence"`
	ValidFrom  time.Time `json:"valid_from"`
}

// ConflictRecord carries enough detail for a human to choose between the
// current fact and the incoming one. It is transient and never stored.
type ConflictRecord struct {
	Slot               Slot           `json:"slot"`
	Existing           *FactSummary   `json:"existing,omitempty"`
	IncomingValue      string         `json:"incoming_value"`
	IncomingSourceType string         `json:"incoming_source_type"`
	IncomingSourceID   *string        `json:"incoming_source_id,omitempty"`
	IncomingConfidence float64        `json:"incoming_confidence"`
	Reason             ConflictReason `json:"reason"`
}

// AddFactResult reports the outcome of one ingestion. Escalations are
// results, not errors.
type AddFactResult struct {
	FactID               *uuid.UUID      `json:"fact_id,omitempty"`
	Classification       Classification  `json:"classification"`
	Resolution           Resolution      `json:"resolution"`
	Conflict             *ConflictRecord `json:"conflict,omitempty"`
	SupersededID         *uuid.UUID      `json:"superseded_id,omitempty"`
	RequiresManualReview bool            `json:"requires_manual_review"`

	// Fact is the row written by this call, nil when nothing was written.
	Fact *Fact `json:"-"`
}

// FactEvent is the notification payload published after an ingestion that
// wrote a fact or escalated a conflict.
type FactEvent struct {
	Slot           Slot            `json:"slot"`
	FactID         *uuid.UUID      `json:"fact_id,omitempty"`
	SupersededID   *uuid.UUID      `json:"superseded_id,omitempty"`
	Classification Classification  `json:"classification"`
	Resolution     Resolution      `json:"resolution"`
	Conflict       *ConflictRecord `json:"conflict,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	// Truncated marks an event published without its conflict body because
	// the body exceeded the notification size limit.
	Truncated bool `json:"truncated,omitempty"`
}
