package model

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source types emitted by the in-scope producers. Each producer must use a
// value that uniquely identifies it: same-source updates flow through without
// review, so two producers sharing a tag could overwrite each other.
const (
	SourceManual       = "manual"
	SourceAttio        = "attio"
	SourceGmail        = "gmail"
	SourceFireflies    = "fireflies"
	SourceAngelListCSV = "angellist_csv"
	SourceConversation = "conversation"
)

// Fact types emitted by the in-scope producers. "NOTE" and "note" are both
// in circulation and are distinct slots.
const (
	FactTypeMetric    = "metric"
	FactTypeNote      = "note"
	FactTypeNoteUpper = "NOTE"
	FactTypeProfile   = "profile"
	FactTypePipeline  = "pipeline"
)

// Taxonomy documents the source and fact types in use. Both sets are open:
// unknown values are accepted unless a Taxonomy is applied strictly.
type Taxonomy struct {
	SourceTypes []string `yaml:"source_types"`
	FactTypes   []string `yaml:"fact_types"`
}

// DefaultTaxonomy returns the values produced by the built-in producers.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		SourceTypes: []string{SourceManual, SourceAttio, SourceGmail, SourceFireflies, SourceAngelListCSV, SourceConversation},
		FactTypes:   []string{FactTypeMetric, FactTypeNote, FactTypeNoteUpper, FactTypeProfile, FactTypePipeline},
	}
}

// KnownSourceType reports whether s is produced by a built-in producer.
func KnownSourceType(s string) bool {
	return DefaultTaxonomy().HasSourceType(s)
}

// HasSourceType reports whether s is listed. Comparison is exact.
func (t Taxonomy) HasSourceType(s string) bool {
	return slices.Contains(t.SourceTypes, s)
}

// HasFactType reports whether s is listed. Comparison is exact, so "note"
// and "NOTE" are separate entries.
func (t Taxonomy) HasFactType(s string) bool {
	return slices.Contains(t.FactTypes, s)
}

// Merge returns t extended with the entries of other, without duplicates.
func (t Taxonomy) Merge(other Taxonomy) Taxonomy {
	out := Taxonomy{
		SourceTypes: slices.Clone(t.SourceTypes),
		FactTypes:   slices.Clone(t.FactTypes),
	}
	for _, s := range other.SourceTypes {
		if !out.HasSourceType(s) {
			out.SourceTypes = append(out.SourceTypes, s)
		}
	}
	for _, f := range other.FactTypes {
		if !out.HasFactType(f) {
			out.FactTypes = append(out.FactTypes, f)
		}
	}
	return out
}

// Check rejects inputs whose source or fact type is not listed. It is only
// applied when strict taxonomy enforcement is configured.
func (t Taxonomy) Check(in FactInput) error {
	if !t.HasSourceType(in.SourceType) {
		return &ValidationError{Field: "source_type", Message: fmt.Sprintf("%q is not a registered source type", in.SourceType)}
	}
	if !t.HasFactType(in.FactType) {
		return &ValidationError{Field: "fact_type", Message: fmt.Sprintf("%q is not a registered fact type", in.FactType)}
	}
	return nil
}

// ParseTaxonomy decodes a YAML taxonomy document and merges it over the
// defaults. Blank entries are rejected.
func ParseTaxonomy(data []byte) (Taxonomy, error) {
	var extra Taxonomy
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return Taxonomy{}, fmt.Errorf("parse taxonomy: %w", err)
	}
	for _, s := range append(slices.Clone(extra.SourceTypes), extra.FactTypes...) {
		if strings.TrimSpace(s) == "" {
			return Taxonomy{}, fmt.Errorf("parse taxonomy: blank entry")
		}
	}
	return DefaultTaxonomy().Merge(extra), nil
}
