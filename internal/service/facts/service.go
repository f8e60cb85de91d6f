// Package facts provides the ingestion policy and read paths for facts.
//
// Both the HTTP API and the MCP server delegate to this service so that
// classification, supersession, notification and hooks behave the same on
// every interface.
package facts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/factstore/internal/conflicts"
	"github.com/ashita-ai/factstore/internal/ctxutil"
	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/storage"
	"github.com/ashita-ai/factstore/internal/telemetry"
)

// hookTimeout bounds a single asynchronous hook dispatch.
const hookTimeout = 10 * time.Second

// Hook receives fact lifecycle events. Methods run in goroutines after the
// originating call has returned; failures are logged and never surface to
// the producer.
type Hook interface {
	OnFactRecorded(ctx context.Context, fact model.Fact, res model.AddFactResult) error
	OnConflictEscalated(ctx context.Context, conflict model.ConflictRecord) error
}

// Options configures optional collaborators of the Service.
type Options struct {
	// Notifier publishes FactEvents after each write or escalation. Nil
	// disables notifications.
	Notifier storage.Notifier
	Hooks    []Hook
	// Taxonomy lists known source and fact types. Unknown values are only
	// rejected when StrictTaxonomy is set.
	Taxonomy       model.Taxonomy
	StrictTaxonomy bool
	// BatchConcurrency bounds how many slots a batch works on at once.
	BatchConcurrency int
}

// Service implements fact ingestion with conflict detection.
type Service struct {
	repo     storage.FactRepository
	detector *conflicts.Detector
	notifier storage.Notifier
	hooks    []Hook
	logger   *slog.Logger

	taxonomy         model.Taxonomy
	strictTaxonomy   bool
	batchConcurrency int

	tracer         trace.Tracer
	ingested       metric.Int64Counter
	ingestDuration metric.Float64Histogram

	hookWG sync.WaitGroup
}

// New creates a fact Service backed by repo.
func New(repo storage.FactRepository, logger *slog.Logger, opts Options) *Service {
	meter := telemetry.Meter("factstore/facts")
	ingested, _ := meter.Int64Counter("factstore.facts.ingested",
		metric.WithDescription("Facts submitted for ingestion, by classification"),
	)
	ingestDur, _ := meter.Float64Histogram("factstore.facts.ingest.duration",
		metric.WithDescription("Time to classify and record a fact (ms)"),
		metric.WithUnit("ms"),
	)
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 8
	}
	if opts.Taxonomy.SourceTypes == nil && opts.Taxonomy.FactTypes == nil {
		opts.Taxonomy = model.DefaultTaxonomy()
	}
	return &Service{
		repo:             repo,
		detector:         conflicts.NewDetector(repo),
		notifier:         opts.Notifier,
		hooks:            opts.Hooks,
		logger:           logger,
		taxonomy:         opts.Taxonomy,
		strictTaxonomy:   opts.StrictTaxonomy,
		batchConcurrency: opts.BatchConcurrency,
		tracer:           telemetry.Tracer("factstore/facts"),
		ingested:         ingested,
		ingestDuration:   ingestDur,
	}
}

// AddFactWithConflictDetection classifies in against the current fact of its
// slot and applies the resolution policy:
//
//   - NEW inserts in as the slot's first current fact.
//   - DUPLICATE writes nothing.
//   - UPDATE retires the current fact and inserts in, atomically.
//   - CONFLICT writes nothing and returns the conflict for manual review.
//
// When another writer changes the slot between detection and write, the
// input is classified again and retried once. A second collision is
// escalated with reason concurrent_write. Escalations are results, not
// errors; the returned error is either a *model.ValidationError or a storage
// failure after which nothing was written.
func (s *Service) AddFactWithConflictDetection(ctx context.Context, in model.FactInput) (model.AddFactResult, error) {
	ctx, span := s.tracer.Start(ctx, "facts.AddFactWithConflictDetection")
	defer span.End()
	span.SetAttributes(
		attribute.String("factstore.subject_type", string(in.Subject.Type)),
		attribute.String("factstore.subject_id", in.Subject.ID.String()),
		attribute.String("factstore.fact_type", in.FactType),
		attribute.String("factstore.key", in.Key),
		attribute.String("factstore.source_type", in.SourceType),
	)

	if err := s.validate(in); err != nil {
		span.SetStatus(codes.Error, "invalid input")
		return model.AddFactResult{}, err
	}
	if in.Confidence == nil {
		c := model.DefaultConfidence
		in.Confidence = &c
	}

	start := time.Now()
	res, err := s.resolve(ctx, in)
	s.ingestDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		return model.AddFactResult{}, fmt.Errorf("facts: add fact: %w", err)
	}

	attrs := []attribute.KeyValue{
		attribute.String("classification", string(res.Classification)),
		attribute.String("resolution", string(res.Resolution)),
	}
	s.ingested.Add(ctx, 1, metric.WithAttributes(attrs...))
	span.SetAttributes(attrs...)

	s.publish(ctx, in.Slot(), res)
	return res, nil
}

func (s *Service) validate(in model.FactInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if s.strictTaxonomy {
		return s.taxonomy.Check(in)
	}
	if !s.taxonomy.HasSourceType(in.SourceType) {
		s.logger.Debug("facts: unregistered source type", "source_type", in.SourceType)
	}
	return nil
}

// resolve runs detection and the write for in, retrying once on a slot race.
func (s *Service) resolve(ctx context.Context, in model.FactInput) (model.AddFactResult, error) {
	const maxAttempts = 2
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		det, err := s.detector.Detect(ctx, in)
		if err != nil {
			return model.AddFactResult{}, err
		}
		res, err := s.apply(ctx, det, in)
		if err == nil {
			return res, nil
		}
		if !isSlotRace(err) {
			return model.AddFactResult{}, err
		}
		lastErr = err
		s.logger.Debug("facts: slot changed during write",
			"slot", in.Slot().String(), "attempt", attempt, "error", err)
	}

	s.logger.Warn("facts: slot kept changing, escalating",
		"slot", in.Slot().String(), "request_id", ctxutil.RequestID(ctx), "error", lastErr)
	current, err := s.repo.GetCurrentFact(ctx, in.Slot())
	if err != nil {
		s.logger.Warn("facts: load current fact for escalation", "error", err)
		current = nil
	}
	return escalation(current, in, model.ReasonConcurrentWrite), nil
}

// apply performs the write, if any, that det calls for.
func (s *Service) apply(ctx context.Context, det conflicts.Detection, in model.FactInput) (model.AddFactResult, error) {
	switch det.Classification {
	case model.ClassificationNew:
		f, err := s.repo.InsertFact(ctx, in)
		if err != nil {
			return model.AddFactResult{}, err
		}
		return model.AddFactResult{
			FactID:         &f.ID,
			Classification: model.ClassificationNew,
			Resolution:     model.ResolutionNew,
			Fact:           &f,
		}, nil

	case model.ClassificationDuplicate:
		id := det.Existing.ID
		return model.AddFactResult{
			FactID:         &id,
			Classification: model.ClassificationDuplicate,
			Resolution:     model.ResolutionDuplicateIgnored,
		}, nil

	case model.ClassificationUpdate:
		if in.ValidFrom != nil && in.ValidFrom.Truncate(time.Microsecond).Before(det.Existing.ValidFrom) {
			return model.AddFactResult{}, &model.ValidationError{
				Field:   "valid_from",
				Message: "must not precede the valid_from of the fact it supersedes",
			}
		}
		retired := det.Existing.ID
		f, err := s.repo.SupersedeFact(ctx, retired, in)
		if err != nil {
			return model.AddFactResult{}, err
		}
		return model.AddFactResult{
			FactID:         &f.ID,
			Classification: model.ClassificationUpdate,
			Resolution:     model.ResolutionSupersededPrevious,
			SupersededID:   &retired,
			Fact:           &f,
		}, nil

	default:
		return escalation(det.Existing, in, model.ReasonNotMoreConfident), nil
	}
}

func escalation(existing *model.Fact, in model.FactInput, reason model.ConflictReason) model.AddFactResult {
	return model.AddFactResult{
		Classification:       model.ClassificationConflict,
		Resolution:           model.ResolutionEscalated,
		Conflict:             conflicts.NewConflictRecord(existing, in, reason),
		RequiresManualReview: true,
	}
}

// eventPayload encodes ev, dropping the conflict body when the event would
// not fit in a single notification.
func eventPayload(ev model.FactEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	if len(data) <= storage.MaxNotifyPayload || ev.Conflict == nil {
		return string(data), nil
	}
	ev.Conflict = nil
	ev.Truncated = true
	data, err = json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func isSlotRace(err error) bool {
	return errors.Is(err, storage.ErrCurrentFactExists) || errors.Is(err, storage.ErrFactNotCurrent)
}

// publish notifies subscribers and hooks after a write or escalation.
// Failures are logged; the ingestion has already been committed.
func (s *Service) publish(ctx context.Context, slot model.Slot, res model.AddFactResult) {
	if res.Fact == nil && res.Conflict == nil {
		return
	}

	channel := storage.ChannelFacts
	if res.Conflict != nil {
		channel = storage.ChannelConflicts
	}
	if s.notifier != nil {
		payload, err := eventPayload(model.FactEvent{
			Slot:           slot,
			FactID:         res.FactID,
			SupersededID:   res.SupersededID,
			Classification: res.Classification,
			Resolution:     res.Resolution,
			Conflict:       res.Conflict,
			OccurredAt:     time.Now().UTC(),
		})
		if err != nil {
			s.logger.Error("facts: marshal notify payload", "error", err)
		} else if err := s.notifier.Notify(ctx, channel, payload); err != nil {
			s.logger.Error("facts: notify subscribers", "channel", channel, "error", err)
		}
	}

	if len(s.hooks) == 0 {
		return
	}
	s.hookWG.Add(1)
	go func() {
		defer s.hookWG.Done()
		hookCtx, cancel := context.WithTimeout(ctxutil.Detach(ctx), hookTimeout)
		defer cancel()
		for _, h := range s.hooks {
			var err error
			if res.Conflict != nil {
				err = h.OnConflictEscalated(hookCtx, *res.Conflict)
			} else {
				err = h.OnFactRecorded(hookCtx, *res.Fact, res)
			}
			if err != nil {
				s.logger.Warn("facts: hook failed", "slot", slot.String(),
					"request_id", ctxutil.RequestID(hookCtx), "error", err)
			}
		}
	}()
}

// WaitHooks blocks until every dispatched hook call has returned.
func (s *Service) WaitHooks() {
	s.hookWG.Wait()
}

// GetFacts returns the subject's facts grouped by fact type and key. Only
// current facts are returned unless q.IncludeHistorical is set.
func (s *Service) GetFacts(ctx context.Context, q model.FactQuery) (model.GroupedFacts, error) {
	if q.Subject.IsZero() || !q.Subject.Type.Valid() {
		return nil, &model.ValidationError{Field: "entity_type", Message: "must name a valid subject"}
	}
	facts, err := s.repo.ListFacts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("facts: list: %w", err)
	}
	return model.GroupFacts(facts), nil
}

// History returns every fact recorded in slot, newest first.
func (s *Service) History(ctx context.Context, slot model.Slot) ([]model.Fact, error) {
	switch {
	case slot.Subject.IsZero() || !slot.Subject.Type.Valid():
		return nil, &model.ValidationError{Field: "entity_type", Message: "must name a valid subject"}
	case slot.FactType == "":
		return nil, &model.ValidationError{Field: "fact_type", Message: "is required"}
	case slot.Key == "":
		return nil, &model.ValidationError{Field: "key", Message: "is required"}
	}
	facts, err := s.repo.GetHistory(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("facts: history: %w", err)
	}
	return facts, nil
}

// Retire closes the current fact factID without a replacement, leaving its
// slot empty. It is an operator action; producers supersede instead.
func (s *Service) Retire(ctx context.Context, factID uuid.UUID) error {
	if err := s.repo.RetireFact(ctx, factID, time.Now()); err != nil {
		return fmt.Errorf("facts: retire %s: %w", factID, err)
	}
	s.logger.Info("facts: retired fact", "fact_id", factID)
	return nil
}
