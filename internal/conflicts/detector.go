package conflicts

import (
	"context"
	"fmt"

	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/storage"
)

// Detection is the verdict for one incoming fact together with the current
// fact it was judged against.
type Detection struct {
	Classification model.Classification
	Existing       *model.Fact
}

// Detector loads the current fact of a slot and classifies an input against it.
type Detector struct {
	repo storage.FactReader
}

// NewDetector creates a detector reading from repo.
func NewDetector(repo storage.FactReader) *Detector {
	return &Detector{repo: repo}
}

// Detect classifies in against the current fact of its slot.
func (d *Detector) Detect(ctx context.Context, in model.FactInput) (Detection, error) {
	existing, err := d.repo.GetCurrentFact(ctx, in.Slot())
	if err != nil {
		return Detection{}, fmt.Errorf("conflicts: load current fact: %w", err)
	}
	return Detection{Classification: Classify(existing, in), Existing: existing}, nil
}
