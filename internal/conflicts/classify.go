// Package conflicts classifies an incoming fact against the current fact of
// its slot. Classification is pure; the Detector adds the storage lookup.
package conflicts

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ashita-ai/factstore/internal/model"
)

// Classify decides how in relates to existing, the current fact of the same
// slot (nil when the slot is empty). Rules apply in order:
//
//	empty slot                          NEW
//	equal value                         DUPLICATE
//	same source_type                    UPDATE
//	strictly higher confidence          UPDATE
//	anything else                       CONFLICT
//
// A source correcting itself wins even at lower confidence.
func Classify(existing *model.Fact, in model.FactInput) model.Classification {
	switch {
	case existing == nil:
		return model.ClassificationNew
	case ValuesEqual(existing.Value, in.Value):
		return model.ClassificationDuplicate
	case existing.SourceType == in.SourceType:
		return model.ClassificationUpdate
	case in.EffectiveConfidence() > existing.Confidence:
		return model.ClassificationUpdate
	default:
		return model.ClassificationConflict
	}
}

// ValuesEqual compares two fact values. When both parse as decimal numbers
// they are compared exactly ("200000" equals "200000.00" and "2e5");
// otherwise they are compared as trimmed, case-insensitive text.
func ValuesEqual(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if da, ok := parseNumber(a); ok {
		if db, ok := parseNumber(b); ok {
			return da.Equal(db)
		}
	}
	return strings.EqualFold(a, b)
}

// NewConflictRecord builds the reviewer-facing record for an escalation.
// existing may be nil when the slot was emptied by a concurrent writer.
func NewConflictRecord(existing *model.Fact, in model.FactInput, reason model.ConflictReason) *model.ConflictRecord {
	rec := &model.ConflictRecord{
		Slot:               in.Slot(),
		IncomingValue:      in.Value,
		IncomingSourceType: in.SourceType,
		IncomingSourceID:   in.SourceID,
		IncomingConfidence: in.EffectiveConfidence(),
		Reason:             reason,
	}
	if existing != nil {
		s := existing.Summary()
		rec.Existing = &s
	}
	return rec
}

func parseNumber(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
