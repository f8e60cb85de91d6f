package facts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/factstore/internal/ctxutil"
	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/storage"
	"github.com/ashita-ai/factstore/internal/storage/memstore"
	"github.com/ashita-ai/factstore/internal/testutil"
)

type notification struct {
	channel string
	event   model.FactEvent
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, channel, payload string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ev model.FactEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return err
	}
	n.sent = append(n.sent, notification{channel: channel, event: ev})
	return n.err
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

type recordingHook struct {
	mu         sync.Mutex
	recorded   []model.Fact
	escalated  []model.ConflictRecord
	requestIDs []string
	ctxErrs    []error
}

func (h *recordingHook) OnFactRecorded(ctx context.Context, f model.Fact, _ model.AddFactResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded = append(h.recorded, f)
	h.requestIDs = append(h.requestIDs, ctxutil.RequestID(ctx))
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
	return nil
}

func (h *recordingHook) OnConflictEscalated(_ context.Context, c model.ConflictRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.escalated = append(h.escalated, c)
	return errors.New("hook failures are only logged")
}

func newTestService(t *testing.T, opts Options) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return New(store, testutil.TestLogger(), opts), store
}

func mrr(subject model.Subject, value, source string, confidence *float64) model.FactInput {
	return model.FactInput{
		Subject:    subject,
		FactType:   model.FactTypeMetric,
		Key:        "MRR",
		Value:      value,
		SourceType: source,
		Confidence: confidence,
	}
}

func historyLen(t *testing.T, store *memstore.Store, slot model.Slot) int {
	t.Helper()
	h, err := store.GetHistory(context.Background(), slot)
	require.NoError(t, err)
	return len(h)
}

func TestAddFact_ManualEntryLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, Options{})
	acme := model.OrganizationSubject(uuid.New())
	slot := mrr(acme, "", "", nil).Slot()

	// First fact in an empty slot.
	first, err := svc.AddFactWithConflictDetection(ctx, mrr(acme, "200000", "manual", nil))
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationNew, first.Classification)
	assert.Equal(t, model.ResolutionNew, first.Resolution)
	require.NotNil(t, first.FactID)
	assert.False(t, first.RequiresManualReview)

	// Identical resubmission is absorbed.
	dup, err := svc.AddFactWithConflictDetection(ctx, mrr(acme, "200000", "manual", nil))
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationDuplicate, dup.Classification)
	assert.Equal(t, model.ResolutionDuplicateIgnored, dup.Resolution)
	assert.Equal(t, *first.FactID, *dup.FactID)
	assert.Equal(t, 1, historyLen(t, store, slot))

	// Same source, new value: the old fact is superseded.
	upd, err := svc.AddFactWithConflictDetection(ctx, mrr(acme, "225000", "manual", nil))
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationUpdate, upd.Classification)
	assert.Equal(t, model.ResolutionSupersededPrevious, upd.Resolution)
	require.NotNil(t, upd.SupersededID)
	assert.Equal(t, *first.FactID, *upd.SupersededID)

	history, err := svc.History(ctx, slot)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "225000", history[0].Value)
	assert.Nil(t, history[0].ValidUntil)
	require.NotNil(t, history[1].ValidUntil)

	// A different source with equal confidence is escalated.
	conflict, err := svc.AddFactWithConflictDetection(ctx, mrr(acme, "999999", "attio", ptr(1.0)))
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationConflict, conflict.Classification)
	assert.Equal(t, model.ResolutionEscalated, conflict.Resolution)
	assert.True(t, conflict.RequiresManualReview)
	assert.Nil(t, conflict.FactID)
	require.NotNil(t, conflict.Conflict)
	assert.Equal(t, model.ReasonNotMoreConfident, conflict.Conflict.Reason)
	require.NotNil(t, conflict.Conflict.Existing)
	assert.Equal(t, "225000", conflict.Conflict.Existing.Value)
	assert.Equal(t, "999999", conflict.Conflict.IncomingValue)
	assert.Equal(t, "attio", conflict.Conflict.IncomingSourceType)

	cur, err := store.GetCurrentFact(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, "225000", cur.Value)
	assert.Equal(t, 2, historyLen(t, store, slot))

	// A correction cannot start before the fact it replaces.
	early := mrr(acme, "230000", "manual", nil)
	early.ValidFrom = ptr(cur.ValidFrom.Add(-time.Hour))
	_, err = svc.AddFactWithConflictDetection(ctx, early)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "valid_from", ve.Field)
	assert.Equal(t, 2, historyLen(t, store, slot))

	// A backdated correction closes the previous fact where it begins.
	backdated := mrr(acme, "230000", "manual", nil)
	backdated.ValidFrom = ptr(cur.ValidFrom)
	corrected, err := svc.AddFactWithConflictDetection(ctx, backdated)
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationUpdate, corrected.Classification)

	history, err = svc.History(ctx, slot)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[0].ValidFrom.Equal(cur.ValidFrom))
	require.NotNil(t, history[1].ValidUntil)
	assert.True(t, history[1].ValidUntil.Equal(history[0].ValidFrom), "windows meet")
	assert.False(t, history[1].ValidUntil.Before(history[1].ValidFrom))
}

func TestAddFact_HigherConfidenceOtherSourceSupersedes(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, Options{})
	deal := model.DealSubject(uuid.New())
	in := model.FactInput{Subject: deal, FactType: "pipeline", Key: "stage", Value: "Series A", SourceType: "attio", Confidence: ptr(0.7)}

	_, err := svc.AddFactWithConflictDetection(ctx, in)
	require.NoError(t, err)

	in.Value, in.SourceType, in.Confidence = "Series B", "manual", ptr(0.95)
	res, err := svc.AddFactWithConflictDetection(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationUpdate, res.Classification)

	cur, err := store.GetCurrentFact(ctx, in.Slot())
	require.NoError(t, err)
	assert.Equal(t, "Series B", cur.Value)
	assert.InDelta(t, 0.95, cur.Confidence, 1e-9)
}

func TestAddFact_DefaultsConfidence(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, Options{})
	in := mrr(model.OrganizationSubject(uuid.New()), "1", "manual", nil)

	_, err := svc.AddFactWithConflictDetection(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, in.Confidence, "caller's input must not be mutated")

	cur, err := store.GetCurrentFact(ctx, in.Slot())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfidence, cur.Confidence)
}

func TestAddFact_ValidationWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, Options{})
	in := mrr(model.OrganizationSubject(uuid.New()), "200000", "", nil)

	_, err := svc.AddFactWithConflictDetection(ctx, in)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "source_type", ve.Field)
	assert.Equal(t, 0, historyLen(t, store, in.Slot()))
}

func TestAddFact_StrictTaxonomy(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Options{StrictTaxonomy: true})
	subject := model.OrganizationSubject(uuid.New())

	_, err := svc.AddFactWithConflictDetection(ctx, mrr(subject, "1", "crunchbase", nil))
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.AddFactWithConflictDetection(ctx, mrr(subject, "1", "manual", nil))
	assert.NoError(t, err)

	lenient, _ := newTestService(t, Options{})
	_, err = lenient.AddFactWithConflictDetection(ctx, mrr(subject, "1", "crunchbase", nil))
	assert.NoError(t, err)
}

func TestAddFact_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, Options{})
	in := mrr(model.PersonSubject(uuid.New()), "Partner", "fireflies", ptr(0.6))

	for i := 0; i < 5; i++ {
		_, err := svc.AddFactWithConflictDetection(ctx, in)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, historyLen(t, store, in.Slot()))
}

func TestAddFact_RaceResolvedByRetry(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, Options{})
	subject := model.OrganizationSubject(uuid.New())

	// Another writer lands the same value between detection and insert.
	store.InsertHook = func(model.Slot) {
		store.InsertHook = nil
		_, err := store.InsertFact(ctx, mrr(subject, "200000", "attio", nil))
		require.NoError(t, err)
	}

	res, err := svc.AddFactWithConflictDetection(ctx, mrr(subject, "200000", "manual", nil))
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationDuplicate, res.Classification)
	assert.Equal(t, 1, historyLen(t, store, mrr(subject, "", "", nil).Slot()))
}

func TestAddFact_RaceRetriedAsUpdate(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, Options{})
	subject := model.OrganizationSubject(uuid.New())
	_, err := store.InsertFact(ctx, mrr(subject, "100", "manual", nil))
	require.NoError(t, err)

	// The fact we detected is superseded by the same source before our write.
	store.InsertHook = func(slot model.Slot) {
		store.InsertHook = nil
		cur, err := store.GetCurrentFact(ctx, slot)
		require.NoError(t, err)
		_, err = store.SupersedeFact(ctx, cur.ID, mrr(subject, "150", "manual", nil))
		require.NoError(t, err)
	}

	res, err := svc.AddFactWithConflictDetection(ctx, mrr(subject, "200", "manual", nil))
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationUpdate, res.Classification)

	history, err := store.GetHistory(ctx, mrr(subject, "", "", nil).Slot())
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "200", history[0].Value)
	assert.Equal(t, "150", history[1].Value)
	assert.Equal(t, *res.SupersededID, history[1].ID)
}

func TestAddFact_PersistentRaceEscalates(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, Options{})
	subject := model.OrganizationSubject(uuid.New())
	_, err := store.InsertFact(ctx, mrr(subject, "0", "manual", nil))
	require.NoError(t, err)

	// Every write attempt loses to a competing same-source update.
	var competing int
	var hook func(model.Slot)
	hook = func(slot model.Slot) {
		store.InsertHook = nil
		defer func() { store.InsertHook = hook }()
		competing++
		cur, err := store.GetCurrentFact(ctx, slot)
		require.NoError(t, err)
		_, err = store.SupersedeFact(ctx, cur.ID, mrr(subject, fmt.Sprintf("competing-%d", competing), "manual", nil))
		require.NoError(t, err)
	}
	store.InsertHook = hook

	res, err := svc.AddFactWithConflictDetection(ctx, mrr(subject, "mine", "manual", nil))
	store.InsertHook = nil
	require.NoError(t, err)
	assert.True(t, res.RequiresManualReview)
	assert.Equal(t, model.ResolutionEscalated, res.Resolution)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, model.ReasonConcurrentWrite, res.Conflict.Reason)
	require.NotNil(t, res.Conflict.Existing)
	assert.Equal(t, "competing-2", res.Conflict.Existing.Value)
	assert.Equal(t, 2, competing)

	cur, err := store.GetCurrentFact(ctx, res.Conflict.Slot)
	require.NoError(t, err)
	assert.Equal(t, "competing-2", cur.Value)
}

func TestAddFact_ConcurrentWritersKeepOneCurrent(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, Options{})
	subject := model.OrganizationSubject(uuid.New())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddFactWithConflictDetection(ctx, mrr(subject, fmt.Sprint(i), "manual", nil))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	current, err := store.ListFacts(ctx, model.FactQuery{Subject: subject})
	require.NoError(t, err)
	assert.Len(t, current, 1)
}

type failingStore struct {
	*memstore.Store
}

func (failingStore) InsertFact(context.Context, model.FactInput) (model.Fact, error) {
	return model.Fact{}, errors.New("disk full")
}

func TestAddFact_StorageError(t *testing.T) {
	svc := New(failingStore{memstore.New()}, testutil.TestLogger(), Options{})
	_, err := svc.AddFactWithConflictDetection(context.Background(),
		mrr(model.OrganizationSubject(uuid.New()), "1", "manual", nil))
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrValidation)
	assert.ErrorContains(t, err, "disk full")
}

func TestAddFact_NotificationsAndHooks(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{err: errors.New("listener gone")}
	hook := &recordingHook{}
	svc, _ := newTestService(t, Options{Notifier: notifier, Hooks: []Hook{hook}})
	subject := model.OrganizationSubject(uuid.New())

	_, err := svc.AddFactWithConflictDetection(ctx, mrr(subject, "1", "manual", nil))
	require.NoError(t, err, "notify failures must not fail ingestion")
	_, err = svc.AddFactWithConflictDetection(ctx, mrr(subject, "1", "manual", nil))
	require.NoError(t, err)
	_, err = svc.AddFactWithConflictDetection(ctx, mrr(subject, "2", "attio", ptr(0.5)))
	require.NoError(t, err)
	svc.WaitHooks()

	sent := notifier.all()
	require.Len(t, sent, 2, "duplicates are not published")
	assert.Equal(t, storage.ChannelFacts, sent[0].channel)
	assert.Equal(t, model.ResolutionNew, sent[0].event.Resolution)
	assert.Equal(t, storage.ChannelConflicts, sent[1].channel)
	require.NotNil(t, sent[1].event.Conflict)
	assert.Equal(t, "2", sent[1].event.Conflict.IncomingValue)

	hook.mu.Lock()
	defer hook.mu.Unlock()
	require.Len(t, hook.recorded, 1)
	assert.Equal(t, "1", hook.recorded[0].Value)
	require.Len(t, hook.escalated, 1)
}

func TestHooksOutliveRequestContext(t *testing.T) {
	hook := &recordingHook{}
	svc, _ := newTestService(t, Options{Hooks: []Hook{hook}})

	ctx, cancel := context.WithCancel(ctxutil.WithRequestID(context.Background(), "req-42"))
	_, err := svc.AddFactWithConflictDetection(ctx, mrr(model.OrganizationSubject(uuid.New()), "1", "manual", nil))
	require.NoError(t, err)
	cancel()
	svc.WaitHooks()

	hook.mu.Lock()
	defer hook.mu.Unlock()
	require.Len(t, hook.recorded, 1)
	assert.Equal(t, []string{"req-42"}, hook.requestIDs)
	assert.NoError(t, hook.ctxErrs[0], "hooks run on a context detached from the request")
}

func TestGetFacts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Options{})
	subject := model.OrganizationSubject(uuid.New())

	for _, in := range []model.FactInput{
		mrr(subject, "100", "manual", nil),
		mrr(subject, "200", "manual", nil),
		{Subject: subject, FactType: "NOTE", Key: "intro", Value: "met at demo day", SourceType: "gmail"},
		{Subject: subject, FactType: "note", Key: "intro", Value: "warm intro", SourceType: "attio"},
	} {
		_, err := svc.AddFactWithConflictDetection(ctx, in)
		require.NoError(t, err)
	}

	current, err := svc.GetFacts(ctx, model.FactQuery{Subject: subject})
	require.NoError(t, err)
	require.Len(t, current["metric"]["MRR"], 1)
	assert.Equal(t, "200", current["metric"]["MRR"][0].Value)
	assert.Len(t, current["NOTE"]["intro"], 1)
	assert.Len(t, current["note"]["intro"], 1)

	all, err := svc.GetFacts(ctx, model.FactQuery{Subject: subject, IncludeHistorical: true})
	require.NoError(t, err)
	require.Len(t, all["metric"]["MRR"], 2)
	assert.Equal(t, "200", all["metric"]["MRR"][0].Value)

	_, err = svc.GetFacts(ctx, model.FactQuery{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestHistoryValidation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	_, err := svc.History(context.Background(), model.Slot{Subject: model.DealSubject(uuid.New()), FactType: "metric"})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "key", ve.Field)
}

func TestRetire(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, Options{})
	res, err := svc.AddFactWithConflictDetection(ctx, mrr(model.OrganizationSubject(uuid.New()), "1", "manual", nil))
	require.NoError(t, err)

	require.NoError(t, svc.Retire(ctx, *res.FactID))
	cur, err := store.GetCurrentFact(ctx, res.Fact.Slot())
	require.NoError(t, err)
	assert.Nil(t, cur)

	assert.ErrorIs(t, svc.Retire(ctx, *res.FactID), storage.ErrFactNotCurrent)
}

func ptr[T any](v T) *T { return &v }

func TestAddFact_OversizedConflictEventIsTruncated(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc, _ := newTestService(t, Options{Notifier: notifier})
	subject := model.OrganizationSubject(uuid.New())

	long := func(c string) string { return strings.Repeat(c, storage.MaxNotifyPayload) }
	_, err := svc.AddFactWithConflictDetection(ctx, mrr(subject, long("a"), "manual", nil))
	require.NoError(t, err)
	res, err := svc.AddFactWithConflictDetection(ctx, mrr(subject, long("b"), "attio", ptr(0.5)))
	require.NoError(t, err)
	require.Equal(t, model.ClassificationConflict, res.Classification)

	sent := notifier.all()
	require.Len(t, sent, 2)
	assert.False(t, sent[0].event.Truncated)
	assert.Equal(t, storage.ChannelConflicts, sent[1].channel)
	assert.True(t, sent[1].event.Truncated)
	assert.Nil(t, sent[1].event.Conflict)
	assert.Equal(t, model.ResolutionEscalated, sent[1].event.Resolution)
}
