package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/BeatsChainApp/moments-sub000/internal/models"
)

type fakeSink struct {
	mu       sync.Mutex
	started  []uint
	finished []uint
}

func (s *fakeSink) BroadcastStarted(ctx context.Context, b *models.Broadcast, momentSlug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, b.ID)
}

func (s *fakeSink) BroadcastFinished(ctx context.Context, b *models.Broadcast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, b.ID)
}

func testCoordinator(st Store, sender *fakeSender, sink EventSink) *Coordinator {
	cfg := DefaultConfig()
	cfg.BatchSize = 50
	cfg.DefaultBlastRadius = 200
	cfg.RecipientRate = 100000
	cfg.RetryBase = time.Millisecond
	cfg.PublicBaseURL = "https://moments.example"
	return NewCoordinator(st, sender, sink, cfg, testLogger())
}

func seedNairobiMoment(st *fakeStore, id uint, subscribers int) *models.Moment {
	st.addSubscribers(phoneList(subscribers), "Nairobi")
	return st.addMoment(models.Moment{
		Model:    gorm.Model{ID: id},
		Title:    "Scheduled Maintenance",
		Body:     "Power maintenance in Kilimani from 9am to noon.",
		Region:   "Nairobi",
		Category: "utilities",
		Status:   models.MomentStatusScheduled,
	})
}

func TestTriggerPreparesBroadcast(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	seedNairobiMoment(st, 1, 150)

	res, err := testCoordinator(st, sender, nil).Trigger(context.Background(), 1)
	require.NoError(t, err)

	assert.False(t, res.Suppressed)
	assert.Equal(t, 150, res.RecipientCount)
	assert.Equal(t, 3, res.BatchCount)

	// Preparation performs no sends; delivery is a separate phase.
	assert.Zero(t, sender.totalTexts())

	b, err := st.GetBroadcast(context.Background(), res.BroadcastID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusProcessing, b.Status)
	assert.Equal(t, 150, b.RecipientCount)
	assert.Equal(t, 3, b.BatchesTotal)
	assert.Zero(t, b.BatchesCompleted)
}

func TestTriggerThenDeliverCompletes(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	sender.perCallDelay = 2 * time.Millisecond
	sink := &fakeSink{}
	seedNairobiMoment(st, 1, 150)

	coord := testCoordinator(st, sender, sink)

	res, err := coord.Trigger(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, coord.Deliver(context.Background(), res.BroadcastID))

	assert.Equal(t, 150, sender.totalTexts())

	// Batches ran concurrently, not one after another.
	assert.GreaterOrEqual(t, sender.peakConcurrency(), 2)

	b, err := st.GetBroadcast(context.Background(), res.BroadcastID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusCompleted, b.Status)
	assert.Equal(t, 150, b.SuccessCount)
	assert.Zero(t, b.FailureCount)
	assert.Equal(t, b.BatchesTotal, b.BatchesCompleted)
	require.NotNil(t, b.CompletedAt)

	moment, err := st.GetMoment(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.MomentStatusBroadcasted, moment.Status)
	require.NotNil(t, moment.BroadcastedAt)

	assert.Equal(t, []uint{res.BroadcastID}, sink.started)
	assert.Equal(t, []uint{res.BroadcastID}, sink.finished)
}

func TestDeliverAggregatesMixedOutcomes(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	seedNairobiMoment(st, 1, 150)

	recipients := phoneList(150)
	sender.failNext(recipients[3], permanentErr())
	sender.failNext(recipients[77], transientErr(), transientErr(), transientErr())

	coord := testCoordinator(st, sender, nil)
	res, err := coord.Trigger(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, coord.Deliver(context.Background(), res.BroadcastID))

	b, err := st.GetBroadcast(context.Background(), res.BroadcastID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusCompleted, b.Status)
	assert.Equal(t, 148, b.SuccessCount)
	assert.Equal(t, 2, b.FailureCount)
	assert.Equal(t, b.RecipientCount, b.SuccessCount+b.FailureCount)
}

func TestTriggerDuplicateSuppressed(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	seedNairobiMoment(st, 1, 60)

	coord := testCoordinator(st, sender, nil)
	res, err := coord.Trigger(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, coord.Deliver(context.Background(), res.BroadcastID))
	sent := sender.totalTexts()

	dup, err := coord.Trigger(context.Background(), 1)
	assert.ErrorIs(t, err, ErrDuplicateBroadcast)
	assert.True(t, dup.Suppressed)

	// The suppressed trigger created nothing and sent nothing.
	assert.Equal(t, sent, sender.totalTexts())
	st.mu.Lock()
	assert.Len(t, st.broadcasts, 1)
	st.mu.Unlock()
}

func TestTriggerSuppressedWhileProcessing(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	seedNairobiMoment(st, 1, 60)

	coord := testCoordinator(st, sender, nil)
	_, err := coord.Trigger(context.Background(), 1)
	require.NoError(t, err)

	// Delivery has not run yet; the broadcast sits in processing.
	dup, err := coord.Trigger(context.Background(), 1)
	assert.ErrorIs(t, err, ErrDuplicateBroadcast)
	assert.True(t, dup.Suppressed)
}

// gateStore delays HasActiveBroadcast until every concurrent trigger has
// passed the friendly pre-check, forcing the race onto the claim itself.
type gateStore struct {
	Store
	gate *sync.WaitGroup
}

func (s *gateStore) HasActiveBroadcast(ctx context.Context, momentID uint) (bool, error) {
	active, err := s.Store.HasActiveBroadcast(ctx, momentID)
	s.gate.Done()
	s.gate.Wait()
	return active, err
}

func TestTriggerConcurrentTriggersDeliverOnce(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	seedNairobiMoment(st, 1, 60)

	gate := &sync.WaitGroup{}
	gate.Add(2)
	coord := testCoordinator(&gateStore{Store: st, gate: gate}, sender, nil)

	var mu sync.Mutex
	var winner *TriggerResult
	suppressed := 0

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := coord.Trigger(context.Background(), 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winner = res
			case errors.Is(err, ErrDuplicateBroadcast):
				suppressed++
			default:
				t.Errorf("unexpected trigger error: %v", err)
			}
		}()
	}
	wg.Wait()

	// Both triggers passed the read-side guard, but the moment-level
	// claim admits exactly one.
	require.NotNil(t, winner)
	assert.Equal(t, 1, suppressed)

	st.mu.Lock()
	inProcessing := 0
	for _, b := range st.broadcasts {
		if b.Status == models.BroadcastStatusProcessing {
			inProcessing++
		}
	}
	st.mu.Unlock()
	assert.Equal(t, 1, inProcessing)

	// The loser's row reached a terminal state; nothing lingers for the
	// sweeper.
	stale, err := st.StaleBroadcasts(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, winner.BroadcastID, stale[0].ID)

	// Delivering the winner reaches the audience exactly once.
	require.NoError(t, coord.Deliver(context.Background(), winner.BroadcastID))
	assert.Equal(t, 60, sender.totalTexts())
}

func TestTriggerEmptyAudienceCompletesImmediately(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	moment := st.addMoment(models.Moment{
		Model:  gorm.Model{ID: 2},
		Title:  "Quiet Notice",
		Body:   "Nothing urgent.",
		Region: "Kisumu",
	})

	res, err := testCoordinator(st, sender, nil).Trigger(context.Background(), moment.ID)
	require.NoError(t, err)

	assert.Zero(t, res.RecipientCount)
	assert.Zero(t, res.BatchCount)

	b, err := st.GetBroadcast(context.Background(), res.BroadcastID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusCompleted, b.Status)

	m, err := st.GetMoment(context.Background(), moment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MomentStatusBroadcasted, m.Status)
}

func TestTriggerCompositionFailureLeavesNoBatches(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	st.addSubscribers(phoneList(20), "Nairobi")
	st.addMoment(models.Moment{
		Model:  gorm.Model{ID: 3},
		Title:  "Empty",
		Body:   "   ",
		Region: "Nairobi",
	})

	_, err := testCoordinator(st, sender, nil).Trigger(context.Background(), 3)
	assert.ErrorIs(t, err, ErrComposition)
	assert.Zero(t, sender.totalTexts())

	st.mu.Lock()
	assert.Empty(t, st.batches)
	failed := st.broadcasts[1]
	st.mu.Unlock()
	require.NotNil(t, failed)
	assert.Equal(t, models.BroadcastStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.ErrorMessage)

	m, err := st.GetMoment(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, models.MomentStatusFailed, m.Status)
}

func TestTriggerResolutionFailureFailsBroadcast(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	seedNairobiMoment(st, 4, 20)
	st.audienceErr = errors.New("db gone away")

	_, err := testCoordinator(st, sender, nil).Trigger(context.Background(), 4)
	assert.ErrorIs(t, err, ErrAudienceResolution)

	st.mu.Lock()
	failed := st.broadcasts[1]
	st.mu.Unlock()
	require.NotNil(t, failed)
	assert.Equal(t, models.BroadcastStatusFailed, failed.Status)
}

func TestTriggerUnknownMoment(t *testing.T) {
	st := newFakeStore()
	_, err := testCoordinator(st, newFakeSender(), nil).Trigger(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeliverSkipsTerminalBroadcast(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	seedNairobiMoment(st, 1, 60)

	coord := testCoordinator(st, sender, nil)
	res, err := coord.Trigger(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, coord.Deliver(context.Background(), res.BroadcastID))
	sent := sender.totalTexts()

	// Re-delivery of a completed broadcast is a no-op.
	require.NoError(t, coord.Deliver(context.Background(), res.BroadcastID))
	assert.Equal(t, sent, sender.totalTexts())
}

func TestDeliverResumesOnlyOpenBatches(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	seedNairobiMoment(st, 1, 150)

	coord := testCoordinator(st, sender, nil)
	res, err := coord.Trigger(context.Background(), 1)
	require.NoError(t, err)

	// A previous worker crashed after finishing the first batch.
	require.NoError(t, st.CompleteBatch(context.Background(), 1, res.BroadcastID, 50, 0))

	require.NoError(t, coord.Deliver(context.Background(), res.BroadcastID))

	// Only the two unfinished batches were dispatched.
	assert.Equal(t, 100, sender.totalTexts())

	b, err := st.GetBroadcast(context.Background(), res.BroadcastID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusCompleted, b.Status)
	assert.Equal(t, 150, b.SuccessCount)
}

func TestDeliverBatchWriteFailureCountsBatchFailed(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	seedNairobiMoment(st, 1, 150)

	coord := testCoordinator(st, sender, nil)
	res, err := coord.Trigger(context.Background(), 1)
	require.NoError(t, err)

	// One batch's result write fails; the conservative full-failure
	// write that follows succeeds.
	st.mu.Lock()
	st.completeBatchFailures = 1
	st.mu.Unlock()

	require.NoError(t, coord.Deliver(context.Background(), res.BroadcastID))

	b, err := st.GetBroadcast(context.Background(), res.BroadcastID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusCompleted, b.Status)
	assert.Equal(t, 100, b.SuccessCount)
	assert.Equal(t, 50, b.FailureCount)
	assert.Equal(t, b.RecipientCount, b.SuccessCount+b.FailureCount)
}

func TestDeliverBatchWriteFailureLeavesBatchOpenForSweep(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	seedNairobiMoment(st, 1, 50)

	coord := testCoordinator(st, sender, nil)
	res, err := coord.Trigger(context.Background(), 1)
	require.NoError(t, err)

	// Both the result write and the fallback failure write fail.
	st.mu.Lock()
	st.completeBatchFailures = 2
	st.mu.Unlock()

	require.NoError(t, coord.Deliver(context.Background(), res.BroadcastID))

	// The broadcast stays in processing for the sweeper to re-enqueue.
	b, err := st.GetBroadcast(context.Background(), res.BroadcastID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusProcessing, b.Status)
	assert.Zero(t, b.BatchesCompleted)

	open, err := st.OpenBatches(context.Background(), res.BroadcastID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.BatchStatusProcessing, open[0].Status)

	// The sweeper's re-enqueued delivery pass re-claims the open batch
	// and the broadcast converges once the write goes through.
	require.NoError(t, coord.Deliver(context.Background(), res.BroadcastID))

	b, err = st.GetBroadcast(context.Background(), res.BroadcastID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusCompleted, b.Status)
	assert.Equal(t, b.BatchesTotal, b.BatchesCompleted)
	assert.Equal(t, b.RecipientCount, b.SuccessCount+b.FailureCount)
}

func TestDeliverSkipsPendingBroadcast(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	b := &models.Broadcast{MomentID: 1, Status: models.BroadcastStatusPending}
	require.NoError(t, st.CreateBroadcast(context.Background(), b))

	require.NoError(t, testCoordinator(st, sender, nil).Deliver(context.Background(), b.ID))
	assert.Zero(t, sender.totalTexts())
}

func TestProgressReturnsPersistedState(t *testing.T) {
	st := newFakeStore()
	sender := newFakeSender()
	seedNairobiMoment(st, 1, 60)

	coord := testCoordinator(st, sender, nil)
	res, err := coord.Trigger(context.Background(), 1)
	require.NoError(t, err)

	b, err := coord.Progress(context.Background(), res.BroadcastID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusProcessing, b.Status)

	_, err = coord.Progress(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "duplicate suppressed", DescribeError(ErrDuplicateBroadcast))
	assert.Equal(t, "audience resolution failed (retryable)", DescribeError(resolutionError(errors.New("x"))))
	assert.Equal(t, "composition failed (content fix required)", DescribeError(compositionError("x")))
	assert.Equal(t, "persistence failure", DescribeError(persistenceError(errors.New("x"))))
}
