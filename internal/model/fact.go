package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultConfidence applies when a producer does not supply a confidence.
const DefaultConfidence = 1.0

// Fact is a sourced, confidence-scored assertion of a value for a slot.
// Facts are append-only: the only mutation ever applied is setting ValidUntil
// when a newer fact supersedes this one.
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

// IsCurrent reports whether the fact is the live value of its slot.
func (f Fact) IsCurrent() bool {
	return f.ValidUntil == nil
}

// Slot returns the coordinate the fact occupies.
func (f Fact) Slot() Slot {
	return Slot{Subject: f.Subject, FactType: f.FactType, Key: f.Key}
}

// Summary returns the subset of the fact shown to a reviewer in a conflict.
func (f Fact) Summary() FactSummary {
	return FactSummary{
		ID:         f.ID,
		Value:      f.Value,
		SourceType: f.SourceType,
		SourceID:   f.SourceID,
		Confidence: f.Confidence,
		ValidFrom:  f.ValidFrom,
	}
}

// FactInput is what a producer submits for ingestion.
type FactInput struct {
	Subject    Subject
	FactType   string
	Key        string
	Value      string
	SourceType string
	SourceID   *string
	SourceURL  *string
	Confidence *float64   // nil means DefaultConfidence
	ValidFrom  *time.Time // nil means the time of the write
	CreatedBy  *string
}

// Slot returns the coordinate the input targets.
func (in FactInput) Slot() Slot {
	return Slot{Subject: in.Subject, FactType: in.FactType, Key: in.Key}
}

// EffectiveConfidence returns the supplied confidence or DefaultConfidence.
func (in FactInput) EffectiveConfidence() float64 {
	if in.Confidence == nil {
		return DefaultConfidence
	}
	return *in.Confidence
}

// NewFact materializes the input as a current fact with a fresh ID.
// Timestamps are truncated to the microsecond precision every store keeps.
func (in FactInput) NewFact(now time.Time) Fact {
	now = now.UTC().Truncate(time.Microsecond)
	validFrom := now
	if in.ValidFrom != nil {
		validFrom = in.ValidFrom.UTC().Truncate(time.Microsecond)
	}
	return Fact{
		ID:         uuid.New(),
		Subject:    in.Subject,
		FactType:   in.FactType,
		Key:        in.Key,
		Value:      in.Value,
		SourceType: in.SourceType,
		SourceID:   in.SourceID,
		SourceURL:  in.SourceURL,
		Confidence: in.EffectiveConfidence(),
		ValidFrom:  validFrom,
		CreatedAt:  now,
		CreatedBy:  in.CreatedBy,
	}
}

// RetireAt is when superseding by in closes the previous fact: in's
// ValidFrom when it is in the past, otherwise now. The two validity windows
// then meet without overlapping.
func (in FactInput) RetireAt(now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if in.ValidFrom != nil {
		if from := in.ValidFrom.UTC().Truncate(time.Microsecond); from.Before(now) {
			return from
		}
	}
	return now
}

// FactQuery selects facts for the read path. FactType and Key are optional
// filters; only current facts are returned unless IncludeHistorical is set.
type FactQuery struct {
	Subject           Subject
	FactType          string
	Key               string
	IncludeHistorical bool
}

// GroupedFacts maps fact type to key to facts, newest first within a key.
type GroupedFacts map[string]map[string][]Fact

// GroupFacts arranges facts by type and key, preserving input order within
// each key.
func GroupFacts(facts []Fact) GroupedFacts {
	out := make(GroupedFacts)
	for _, f := range facts {
		byKey, ok := out[f.FactType]
		if !ok {
			byKey = make(map[string][]Fact)
			out[f.FactType] = byKey
		}
		byKey[f.Key] = append(byKey[f.Key], f)
	}
	return out
}
