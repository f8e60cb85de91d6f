package factstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entity types a fact can describe.
const (
	EntityPerson       = "person"
	EntityOrganization = "organization"
	EntityDeal         = "deal"
	EntityConversation = "conversation"
)

// Classification is the outcome of comparing an incoming fact with the
// slot's current fact.
type Classification string

const (
	ClassificationNew       Classification = "NEW"
	ClassificationDuplicate Classification = "DUPLICATE"
	ClassificationUpdate    Classification = "UPDATE"
	ClassificationConflict  Classification = "CONFLICT"
)

// Resolution is what the server did with a classified fact.
type Resolution string

const (
	ResolutionNew        Resolution = "new"
	ResolutionDuplicate  Resolution = "duplicate-ignored"
	ResolutionSuperseded Resolution = "superseded-previous"
	ResolutionEscalated  Resolution = "escalated"
)

// Subject identifies the entity a fact describes.
type Subject struct {
	Type string    `json:"type"`
	ID   uuid.UUID `json:"id"`
}

// Slot is the (subject, fact type, key) coordinate holding at most one
// current fact.
type Slot struct {
	Subject  Subject `json:"subject"`
	FactType string  `json:"fact_type"`
	Key      string  `json:"key"`
}

// Fact mirrors a stored fact. ValidUntil is nil for the slot's current fact.
type Fact struct {
	ID         uuid.UUID  `json:"id"`
	Subject    Subject    `json:"subject"`
	FactType   string     `json:"fact_type"`
	Key        string     `json:"key"`
	Value      string     `json:"value"`
	SourceType string     `json:"source_type"`
	SourceID   *string    `json:"source_id,omitempty"`
	SourceURL  *string    `json:"source_url,omitempty"`
	Confidence float64    `json:"confidence"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	CreatedBy  *string    `json:"created_by,omitempty"`
}

// FactSummary is the existing fact shown alongside a conflict.
type FactSummary struct {
	ID         uuid.UUID `json:"id"`
	Value      string    `json:"value"`
	SourceType string    `json:"source_type"`
	SourceID   *string   `json:"source_id,omitempty"`
	Confidence float64   `json:"confidence"`
	ValidFrom  time.Time `json:"valid_from"`
}

// Conflict describes an incoming value that was escalated for review
// instead of being written.
type Conflict struct {
	Slot               Slot         `json:"slot"`
	Existing           *FactSummary `json:"existing,omitempty"`
	IncomingValue      string       `json:"incoming_value"`
	IncomingSourceType string       `json:"incoming_source_type"`
	IncomingSourceID   *string      `json:"incoming_source_id,omitempty"`
	IncomingConfidence float64      `json:"incoming_confidence"`
	Reason             string       `json:"reason"`
}

// AddFactRequest is the input for AddFact. Confidence defaults to 1.0 on
// the server when nil; ValidFrom defaults to the time of the write.
type AddFactRequest struct {
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	FactType   string     `json:"fact_type"`
	Key        string     `json:"key"`
	Value      string     `json:"value"`
	SourceType string     `json:"source_type"`
	SourceID   *string    `json:"source_id,omitempty"`
	SourceURL  *string    `json:"source_url,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	CreatedBy  *string    `json:"created_by,omitempty"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
}

// AddFactResponse reports how the server classified and resolved a fact.
// For a DUPLICATE, FactID is the existing fact's ID.
type AddFactResponse struct {
	Success              bool           `json:"success"`
	FactID               *uuid.UUID     `json:"fact_id,omitempty"`
	Classification       Classification `json:"classification"`
	Resolution           Resolution     `json:"resolution"`
	SupersededID         *uuid.UUID     `json:"superseded_id,omitempty"`
	RequiresManualReview bool           `json:"requires_manual_review"`
	Conflict             *Conflict      `json:"conflict,omitempty"`
	Message              string         `json:"message,omitempty"`
}

// BatchItemResult is the outcome of one entry in AddFactsBatch.
// Exactly one of Result and Error is set.
type BatchItemResult struct {
	Index  int              `json:"index"`
	Status int              `json:"status"`
	Result *AddFactResponse `json:"result,omitempty"`
	Error  *ErrorDetail     `json:"error,omitempty"`
}

// ErrorDetail is the error payload for a rejected batch entry.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// GetFactsOptions narrow a GetFacts call. Nil options return every current
// fact of the entity.
type GetFactsOptions struct {
	FactType          string
	Key               string
	IncludeHistorical bool
}

// FactsResponse groups an entity's facts by fact type, then key.
type FactsResponse struct {
	Subject           Subject                       `json:"subject"`
	IncludeHistorical bool                          `json:"include_historical"`
	Facts             map[string]map[string][]Fact `json:"facts"`
}

// Current returns the current fact for a fact type and key, if any.
func (r *FactsResponse) Current(factType, key string) (Fact, bool) {
	for _, f := range r.Facts[factType][key] {
		if f.ValidUntil == nil {
			return f, true
		}
	}
	return Fact{}, false
}

// HistoryResponse lists every fact recorded for a slot, newest first.
type HistoryResponse struct {
	Slot  Slot   `json:"slot"`
	Facts []Fact `json:"facts"`
}

// ResolvePersonRequest is the input for ResolvePerson.
type ResolvePersonRequest struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

// ResolveOrganizationRequest is the input for ResolveOrganization. Website
// may be a URL or a contact email; it supplies the domain when Domain is
// empty.
type ResolveOrganizationRequest struct {
	Name    string `json:"name"`
	Domain  string `json:"domain,omitempty"`
	Website string `json:"website,omitempty"`
	DryRun  bool   `json:"dry_run,omitempty"`
}

// Person is a registered person.
type Person struct {
	ID           uuid.UUID `json:"id"`
	Email        *string   `json:"email,omitempty"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	CanonicalKey string    `json:"canonical_key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Organization is a registered organization.
type Organization struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Domain       *string   `json:"domain,omitempty"`
	CanonicalKey string    `json:"canonical_key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PersonMatch is the result of ResolvePerson. Match is one of "key",
// "fuzzy", "created" or "none".
type PersonMatch struct {
	Match        string  `json:"match"`
	CanonicalKey string  `json:"canonical_key"`
	Person       *Person `json:"person,omitempty"`
	Similarity   float64 `json:"similarity,omitempty"`
}

// OrganizationMatch is the result of ResolveOrganization.
type OrganizationMatch struct {
	Match        string        `json:"match"`
	CanonicalKey string        `json:"canonical_key"`
	Organization *Organization `json:"organization,omitempty"`
	Similarity   float64       `json:"similarity,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Storage       string `json:"storage"`
	Database      string `json:"database"`
	SSEBroker     string `json:"sse_broker,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Event channels delivered by Subscribe.
const (
	ChannelFacts     = "factstore_facts"
	ChannelConflicts = "factstore_conflicts"
)

// Event is one server-sent event from Subscribe.
type Event struct {
	Channel        string         `json:"-"`
	Slot           Slot           `json:"slot"`
	FactID         *uuid.UUID     `json:"fact_id,omitempty"`
	SupersededID   *uuid.UUID     `json:"superseded_id,omitempty"`
	Classification Classification `json:"classification"`
	Resolution     Resolution     `json:"resolution"`
	Conflict       *Conflict      `json:"conflict,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	// Truncated is set when the server dropped Conflict to fit the event
	// stream's size limit. Read the slot's history for the values.
	Truncated bool `json:"truncated,omitempty"`
}

// apiEnvelope is the server's success response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's error response wrapper.
type apiErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}
