package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AddFactRequest is the request body for POST /v1/facts.
type AddFactRequest struct {
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
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

// ToInput converts the wire shape into a FactInput. Only the subject is
// checked here; FactInput.Validate covers the rest.
func (r AddFactRequest) ToInput() (FactInput, error) {
	subject, err := ParseSubject(r.EntityType, r.EntityID)
	if err != nil {
		return FactInput{}, err
	}
	return FactInput{
		Subject:    subject,
		FactType:   r.FactType,
		Key:        r.Key,
		Value:      r.Value,
		SourceType: r.SourceType,
		SourceID:   r.SourceID,
		SourceURL:  r.SourceURL,
		Confidence: r.Confidence,
		ValidFrom:  r.ValidFrom,
		CreatedBy:  r.CreatedBy,
	}, nil
}

// AddFactResponse is the body returned by POST /v1/facts, with status 201 for
// recorded or absorbed facts and 409 for escalations.
type AddFactResponse struct {
	Success              bool            `json:"success"`
	FactID               *uuid.UUID      `json:"fact_id,omitempty"`
	Classification       Classification  `json:"classification"`
	Resolution           Resolution      `json:"resolution"`
	SupersededID         *uuid.UUID      `json:"superseded_id,omitempty"`
	RequiresManualReview bool            `json:"requires_manual_review"`
	Conflict             *ConflictRecord `json:"conflict,omitempty"`
	Message              string          `json:"message,omitempty"`
}

// NewAddFactResponse shapes a service result for the wire.
func NewAddFactResponse(res AddFactResult) AddFactResponse {
	resp := AddFactResponse{
		Success:              !res.RequiresManualReview,
		FactID:               res.FactID,
		Classification:       res.Classification,
		Resolution:           res.Resolution,
		SupersededID:         res.SupersededID,
		RequiresManualReview: res.RequiresManualReview,
		Conflict:             res.Conflict,
	}
	if res.RequiresManualReview {
		resp.Message = "conflicting value requires manual review"
		if res.Conflict != nil && res.Conflict.Reason == ReasonConcurrentWrite {
			resp.Message = "slot changed concurrently; resubmit or review manually"
		}
	}
	return resp
}

// BatchAddFactsRequest is the request body for POST /v1/facts/batch.
type BatchAddFactsRequest struct {
	Facts []AddFactRequest `json:"facts"`
}

// BatchItemResult is the outcome of one entry in a batch. Exactly one of
// Result and Error is set.
type BatchItemResult struct {
	Index  int              `json:"index"`
	Status int              `json:"status"`
	Result *AddFactResponse `json:"result,omitempty"`
	Error  *ErrorDetail     `json:"error,omitempty"`
}

// FactsResponse is the body returned by GET /v1/facts.
type FactsResponse struct {
	Subject           Subject      `json:"subject"`
	IncludeHistorical bool         `json:"include_historical"`
	Facts             GroupedFacts `json:"facts"`
}

// HistoryResponse is the body returned by GET /v1/facts/history.
type HistoryResponse struct {
	Slot  Slot   `json:"slot"`
	Facts []Fact `json:"facts"`
}

// ResolvePersonRequest is the request body for POST /v1/entities/people/resolve.
type ResolvePersonRequest struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

// ResolveOrganizationRequest is the request body for
// POST /v1/entities/organizations/resolve.
type ResolveOrganizationRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
	// Website or contact email; a domain is extracted when Domain is empty.
	Website string `json:"website,omitempty"`
	DryRun  bool   `json:"dry_run,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Storage   string `json:"storage"`
	Database  string `json:"database"`
	SSEBroker string `json:"sse_broker,omitempty"`
	Uptime    int64  `json:"uptime_seconds"`
}
