package facts

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/factstore/internal/model"
)

// BatchOutcome is the result of one batch entry. Err is set when the entry
// was rejected or failed; Result is meaningful only when Err is nil.
type BatchOutcome struct {
	Result model.AddFactResult
	Err    error
}

// AddFactsBatch ingests inputs as if each had been submitted on its own, in
// order. Entries targeting different slots run concurrently; entries sharing
// a slot run sequentially in submission order, so the outcome equals
// sequential application. Outcomes are returned in input order.
func (s *Service) AddFactsBatch(ctx context.Context, inputs []model.FactInput) []BatchOutcome {
	out := make([]BatchOutcome, len(inputs))

	var order []model.Slot
	bySlot := make(map[model.Slot][]int)
	for i, in := range inputs {
		slot := in.Slot()
		if _, ok := bySlot[slot]; !ok {
			order = append(order, slot)
		}
		bySlot[slot] = append(bySlot[slot], i)
	}

	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for _, slot := range order {
		idxs := bySlot[slot]
		g.Go(func() error {
			for _, i := range idxs {
				res, err := s.AddFactWithConflictDetection(ctx, inputs[i])
				out[i] = BatchOutcome{Result: res, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Debug("facts: batch ingested", "entries", len(inputs), "slots", len(order))
	return out
}
