package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BeatsChainApp/moments-sub000/internal/models"
	"github.com/BeatsChainApp/moments-sub000/internal/whatsapp"
)

// EventSink receives broadcast lifecycle notifications. Implementations
// must be safe for concurrent use; a nil sink disables events.
type EventSink interface {
	BroadcastStarted(ctx context.Context, b *models.Broadcast, momentSlug string)
	BroadcastFinished(ctx context.Context, b *models.Broadcast)
}

// TriggerResult is what a trigger caller gets back: either the prepared
// broadcast's shape, or Suppressed when the duplicate guard fired.
type TriggerResult struct {
	BroadcastID    uint `json:"broadcast_id"`
	RecipientCount int  `json:"recipient_count"`
	BatchCount     int  `json:"batch_count"`
	Suppressed     bool `json:"suppressed"`
}

// Coordinator orchestrates the engine: it owns the broadcast state
// machine, enforces the duplicate-trigger guard, fans batches out to the
// dispatcher and aggregates their outcomes into a terminal status.
type Coordinator struct {
	store      Store
	resolver   *Resolver
	composer   *Composer
	dispatcher *Dispatcher
	events     EventSink
	cfg        Config
	log        *slog.Logger
}

func NewCoordinator(store Store, sender whatsapp.Sender, events EventSink, cfg Config, log *slog.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		store:      store,
		resolver:   NewResolver(store, cfg, log),
		composer:   NewComposer(store, cfg, log),
		dispatcher: NewDispatcher(sender, cfg, log),
		events:     events,
		cfg:        cfg,
		log:        log,
	}
}

// Trigger runs the preparation phase for a moment: duplicate guard,
// audience resolution, composition, partitioning, batch persistence and
// the pending -> processing claim. It performs no sends; delivery runs
// separately via Deliver so callers get recipient and batch counts
// without waiting on the channel.
//
// Structural failures (resolution, composition) mark the broadcast failed
// before any batch exists. A lost claim reports as suppressed.
func (c *Coordinator) Trigger(ctx context.Context, momentID uint) (*TriggerResult, error) {
	moment, err := c.store.GetMoment(ctx, momentID)
	if err != nil {
		return nil, err
	}

	// Friendly pre-check; the StartBroadcast claim below is the actual
	// correctness boundary.
	active, err := c.store.HasActiveBroadcast(ctx, momentID)
	if err != nil {
		return nil, persistenceError(err)
	}
	if active {
		c.log.Info("duplicate broadcast suppressed", slog.Uint64("moment_id", uint64(momentID)))
		return &TriggerResult{Suppressed: true}, ErrDuplicateBroadcast
	}

	b := &models.Broadcast{MomentID: momentID, Status: models.BroadcastStatusPending}
	if err := c.store.CreateBroadcast(ctx, b); err != nil {
		return nil, persistenceError(err)
	}

	profile, err := c.store.GetAuthority(ctx, moment.CreatorID)
	if err != nil {
		return nil, c.failBroadcast(ctx, b, moment, resolutionError(err))
	}

	audience, err := c.resolver.Resolve(ctx, moment, profile)
	if err != nil {
		return nil, c.failBroadcast(ctx, b, moment, err)
	}

	if len(audience.Recipients) == 0 {
		claimed, err := c.store.CompleteEmptyBroadcast(ctx, b.ID)
		if err != nil {
			return nil, persistenceError(err)
		}
		if !claimed {
			return c.suppressLostClaim(ctx, b)
		}
		if err := c.store.MarkMomentBroadcasted(ctx, moment.ID, time.Now()); err != nil {
			c.log.Error("failed to mark moment broadcasted", slog.Uint64("moment_id", uint64(moment.ID)), slog.Any("err", err))
		}
		c.log.Info("broadcast completed with empty audience", slog.Uint64("broadcast_id", uint64(b.ID)))
		return &TriggerResult{BroadcastID: b.ID}, nil
	}

	var sponsor *models.Sponsor
	if moment.SponsorID != nil {
		sponsor, err = c.store.GetSponsor(ctx, *moment.SponsorID)
		if err != nil {
			return nil, c.failBroadcast(ctx, b, moment, compositionError("loading sponsor %d: %v", *moment.SponsorID, err))
		}
	}

	// Compose before creating batches so composition failures leave zero
	// batches behind.
	if _, err := c.composer.Compose(ctx, moment, profile, sponsor); err != nil {
		return nil, c.failBroadcast(ctx, b, moment, err)
	}

	parts := Partition(audience.Recipients, c.cfg.BatchSize)
	batches := make([]models.BroadcastBatch, len(parts))
	for i, part := range parts {
		batches[i] = models.BroadcastBatch{
			BroadcastID: b.ID,
			Number:      i + 1,
			Recipients:  part,
			Status:      models.BatchStatusPending,
		}
	}
	if err := c.store.CreateBatches(ctx, batches); err != nil {
		return nil, c.failBroadcast(ctx, b, moment, persistenceError(err))
	}

	claimed, err := c.store.StartBroadcast(ctx, b.ID, len(audience.Recipients), len(batches))
	if err != nil {
		return nil, persistenceError(err)
	}
	if !claimed {
		return c.suppressLostClaim(ctx, b)
	}

	b.Status = models.BroadcastStatusProcessing
	b.RecipientCount = len(audience.Recipients)
	b.BatchesTotal = len(batches)
	if c.events != nil {
		c.events.BroadcastStarted(ctx, b, moment.Slug)
	}

	c.log.Info("broadcast prepared",
		slog.Uint64("broadcast_id", uint64(b.ID)),
		slog.Uint64("moment_id", uint64(momentID)),
		slog.Int("recipients", len(audience.Recipients)),
		slog.Int64("matched", audience.Matched),
		slog.Int("batches", len(batches)),
	)

	return &TriggerResult{
		BroadcastID:    b.ID,
		RecipientCount: len(audience.Recipients),
		BatchCount:     len(batches),
	}, nil
}

// Deliver runs the send phase: it recomposes the message (slug derivation
// is idempotent), claims every open batch, dispatches the claimed ones
// concurrently, waits for all of them, and finalizes the broadcast once
// batches_completed has reached batches_total. Safe to re-run: completed
// batches are never claimed again.
func (c *Coordinator) Deliver(ctx context.Context, broadcastID uint) error {
	b, err := c.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return err
	}
	if b.Terminal() {
		c.log.Info("broadcast already terminal, delivery skipped",
			slog.Uint64("broadcast_id", uint64(broadcastID)), slog.String("status", b.Status))
		return nil
	}
	if b.Status == models.BroadcastStatusPending {
		// Preparation never finished; the sweeper will fail it.
		c.log.Warn("broadcast still pending, delivery skipped", slog.Uint64("broadcast_id", uint64(broadcastID)))
		return nil
	}

	moment, err := c.store.GetMoment(ctx, b.MomentID)
	if err != nil {
		return err
	}
	profile, err := c.store.GetAuthority(ctx, moment.CreatorID)
	if err != nil {
		return resolutionError(err)
	}
	var sponsor *models.Sponsor
	if moment.SponsorID != nil {
		if sponsor, err = c.store.GetSponsor(ctx, *moment.SponsorID); err != nil {
			return compositionError("loading sponsor %d: %v", *moment.SponsorID, err)
		}
	}
	composed, err := c.composer.Compose(ctx, moment, profile, sponsor)
	if err != nil {
		return err
	}

	open, err := c.store.OpenBatches(ctx, broadcastID)
	if err != nil {
		return persistenceError(err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := range open {
		batch := open[i]
		claimed, err := c.store.ClaimBatch(ctx, batch.ID, batch.Status)
		if err != nil {
			c.log.Error("batch claim failed", slog.Uint64("batch_id", uint64(batch.ID)), slog.Any("err", err))
			continue
		}
		if !claimed {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runBatch(ctx, &batch, composed)
		}()
	}
	wg.Wait()

	final, err := c.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return persistenceError(err)
	}
	if final.BatchesCompleted < final.BatchesTotal {
		// Another worker still owns some batches, or a batch write
		// failed and the sweeper will pick it up.
		c.log.Warn("broadcast not yet complete after delivery pass",
			slog.Uint64("broadcast_id", uint64(broadcastID)),
			slog.Int("batches_completed", final.BatchesCompleted),
			slog.Int("batches_total", final.BatchesTotal),
		)
		return nil
	}

	claimed, err := c.store.CompleteBroadcast(ctx, broadcastID)
	if err != nil {
		return persistenceError(err)
	}
	if !claimed {
		// Lost the finalization to a concurrent delivery pass.
		return nil
	}
	if err := c.store.MarkMomentBroadcasted(ctx, moment.ID, time.Now()); err != nil {
		c.log.Error("failed to mark moment broadcasted", slog.Uint64("moment_id", uint64(moment.ID)), slog.Any("err", err))
	}

	final, err = c.store.GetBroadcast(ctx, broadcastID)
	if err == nil && c.events != nil {
		c.events.BroadcastFinished(ctx, final)
	}

	fields := []any{
		slog.Uint64("broadcast_id", uint64(broadcastID)),
		slog.Int("recipients", final.RecipientCount),
		slog.Int("success", final.SuccessCount),
		slog.Int("failure", final.FailureCount),
		slog.Duration("dur", time.Since(start)),
	}
	if final.FailureCount > 0 {
		c.log.Warn("broadcast completed with failures", fields...)
	} else {
		c.log.Info("broadcast completed", fields...)
	}
	return nil
}

// runBatch dispatches one claimed batch and records its outcome. A failed
// record write escalates to a conservative full-failure write; if even
// that fails the batch stays open for the sweeper.
func (c *Coordinator) runBatch(ctx context.Context, batch *models.BroadcastBatch, composed *Composed) {
	res := c.dispatcher.Dispatch(ctx, batch, composed)

	if err := c.store.CompleteBatch(ctx, batch.ID, batch.BroadcastID, res.Success, res.Failure); err != nil {
		c.log.Error("batch result write failed, recording full failure",
			slog.Uint64("batch_id", uint64(batch.ID)), slog.Any("err", err))
		if err := c.store.CompleteBatch(ctx, batch.ID, batch.BroadcastID, 0, len(batch.Recipients)); err != nil {
			c.log.Error("batch failure write failed, leaving batch open for sweep",
				slog.Uint64("batch_id", uint64(batch.ID)), slog.Any("err", persistenceError(err)))
		}
		return
	}

	c.log.Info("batch delivered",
		slog.Uint64("broadcast_id", uint64(batch.BroadcastID)),
		slog.Int("batch_number", batch.Number),
		slog.Int("success", res.Success),
		slog.Int("failure", res.Failure),
	)
}

// Progress returns the broadcast's current persisted state for the
// status query endpoint.
func (c *Coordinator) Progress(ctx context.Context, broadcastID uint) (*models.Broadcast, error) {
	return c.store.GetBroadcast(ctx, broadcastID)
}

// suppressLostClaim handles losing the moment-level claim to a concurrent
// trigger: the loser's own pending row is failed so it never lingers for
// the sweeper, and the caller sees a suppressed result.
func (c *Coordinator) suppressLostClaim(ctx context.Context, b *models.Broadcast) (*TriggerResult, error) {
	if _, err := c.store.FailBroadcast(ctx, b.ID, "lost claim to a concurrent broadcast"); err != nil {
		c.log.Error("failed to fail superseded broadcast", slog.Uint64("broadcast_id", uint64(b.ID)), slog.Any("err", err))
	}
	c.log.Info("broadcast claim lost, trigger suppressed", slog.Uint64("broadcast_id", uint64(b.ID)))
	return &TriggerResult{BroadcastID: b.ID, Suppressed: true}, ErrDuplicateBroadcast
}

// failBroadcast records a structural failure: broadcast failed with the
// reason, moment marked failed, no batches dispatched. Returns cause so
// callers can hand it straight back.
func (c *Coordinator) failBroadcast(ctx context.Context, b *models.Broadcast, moment *models.Moment, cause error) error {
	if _, err := c.store.FailBroadcast(ctx, b.ID, cause.Error()); err != nil {
		c.log.Error("failed to record broadcast failure", slog.Uint64("broadcast_id", uint64(b.ID)), slog.Any("err", err))
	}
	if err := c.store.MarkMomentFailed(ctx, moment.ID); err != nil {
		c.log.Error("failed to mark moment failed", slog.Uint64("moment_id", uint64(moment.ID)), slog.Any("err", err))
	}
	c.log.Warn("broadcast failed before dispatch",
		slog.Uint64("broadcast_id", uint64(b.ID)),
		slog.Uint64("moment_id", uint64(moment.ID)),
		slog.Any("err", cause),
	)
	return cause
}

// DescribeError maps engine errors onto the operator-facing summary used
// in API responses.
func DescribeError(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateBroadcast):
		return "duplicate suppressed"
	case errors.Is(err, ErrAudienceResolution):
		return "audience resolution failed (retryable)"
	case errors.Is(err, ErrComposition):
		return "composition failed (content fix required)"
	case errors.Is(err, ErrPersistence):
		return "persistence failure"
	default:
		return fmt.Sprintf("broadcast error: %v", err)
	}
}
