package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/BeatsChainApp/moments-sub000/internal/models"
)

// Enqueuer hands a broadcast to the delivery task queue. The worker
// package provides the production implementation.
type Enqueuer func(broadcastID uint) error

// Sweeper periodically detects broadcasts stuck in a non-terminal state
// and re-enters the coordinator for them. Double-delivery is prevented by
// the coordinator's batch claims, not by the sweeper itself.
type Sweeper struct {
	store   Store
	enqueue Enqueuer
	cfg     Config
	log     *slog.Logger
}

func NewSweeper(store Store, enqueue Enqueuer, cfg Config, log *slog.Logger) *Sweeper {
	return &Sweeper{store: store, enqueue: enqueue, cfg: cfg.withDefaults(), log: log}
}

// Sweep scans for broadcasts older than the staleness threshold that
// never reached a terminal state. Stuck processing broadcasts get their
// delivery re-enqueued; stuck pending ones had their preparation die
// mid-flight and are marked failed so a fresh trigger starts clean.
// Returns the number of broadcasts re-enqueued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.StaleAfter)
	stale, err := s.store.StaleBroadcasts(ctx, cutoff)
	if err != nil {
		return 0, persistenceError(err)
	}

	requeued := 0
	for i := range stale {
		b := &stale[i]
		switch b.Status {
		case models.BroadcastStatusPending:
			if _, err := s.store.FailBroadcast(ctx, b.ID, "stale: preparation never completed"); err != nil {
				s.log.Error("failed to fail stale pending broadcast",
					slog.Uint64("broadcast_id", uint64(b.ID)), slog.Any("err", err))
				continue
			}
			s.log.Warn("stale pending broadcast failed",
				slog.Uint64("broadcast_id", uint64(b.ID)),
				slog.Time("created_at", b.CreatedAt),
			)
		case models.BroadcastStatusProcessing:
			if err := s.enqueue(b.ID); err != nil {
				s.log.Error("failed to re-enqueue stale broadcast",
					slog.Uint64("broadcast_id", uint64(b.ID)), slog.Any("err", err))
				continue
			}
			requeued++
			s.log.Info("stale broadcast re-enqueued",
				slog.Uint64("broadcast_id", uint64(b.ID)),
				slog.Int("batches_completed", b.BatchesCompleted),
				slog.Int("batches_total", b.BatchesTotal),
			)
		}
	}

	if len(stale) > 0 {
		s.log.Info("sweep finished", slog.Int("stale", len(stale)), slog.Int("requeued", requeued))
	}
	return requeued, nil
}
