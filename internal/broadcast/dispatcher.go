package broadcast

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/BeatsChainApp/moments-sub000/internal/models"
	"github.com/BeatsChainApp/moments-sub000/internal/whatsapp"
)

// BatchResult is one batch's delivery outcome. Success + Failure always
// equals the batch's recipient count.
type BatchResult struct {
	Success int
	Failure int
}

// Dispatcher delivers one batch: strictly sequential sends inside the
// batch to respect channel rate limits, two messages per recipient
// (templated opener, then the composed text), bounded retry on transient
// failures. Per-recipient errors are counted, never propagated.
type Dispatcher struct {
	sender  whatsapp.Sender
	cfg     Config
	log     *slog.Logger
	limiter *rate.Limiter

	// sleep is swappable so tests can record the backoff schedule
	// instead of waiting it out.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(sender whatsapp.Sender, cfg Config, log *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		sender:  sender,
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RecipientRate), 1),
		sleep:   sleepCtx,
	}
}

// Dispatch sends the composed messages to every recipient of the batch in
// order and returns the per-batch counts. It only returns early when ctx
// is cancelled; remaining recipients then count as failures so the parent
// broadcast still converges to a terminal state.
func (d *Dispatcher) Dispatch(ctx context.Context, batch *models.BroadcastBatch, composed *Composed) BatchResult {
	var res BatchResult
	for i, recipient := range batch.Recipients {
		if ctx.Err() != nil {
			res.Failure += len(batch.Recipients) - i
			break
		}

		// Inter-recipient pacing, applied regardless of outcome.
		if err := d.limiter.Wait(ctx); err != nil {
			res.Failure += len(batch.Recipients) - i
			break
		}

		if err := d.sendOne(ctx, recipient, composed); err != nil {
			res.Failure++
			d.log.Warn("recipient delivery failed",
				slog.Uint64("batch_id", uint64(batch.ID)),
				slog.Int("batch_number", batch.Number),
				slog.String("recipient", recipient),
				slog.Any("err", err),
			)
			continue
		}
		res.Success++
	}
	return res
}

// sendOne performs the two-message delivery for a single recipient with
// retry on transient failures: up to cfg.MaxAttempts total attempts,
// exponential backoff doubling from cfg.RetryBase, plus jitter.
func (d *Dispatcher) sendOne(ctx context.Context, recipient string, composed *Composed) error {
	var last error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		last = d.sendPair(ctx, recipient, composed)
		if last == nil {
			return nil
		}
		if whatsapp.IsPermanent(last) || ctx.Err() != nil {
			return last
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(d.cfg.RetryBase, attempt)
		d.log.Debug("send retry scheduled",
			slog.String("recipient", recipient),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("err", last),
		)
		if err := d.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return last
}

func (d *Dispatcher) sendPair(ctx context.Context, recipient string, composed *Composed) error {
	if _, err := d.sender.SendTemplate(ctx, recipient, composed.Template); err != nil {
		return err
	}
	_, err := d.sender.SendText(ctx, recipient, composed.MessageText)
	return err
}

// backoffDelay doubles base per completed attempt and adds up to 50%
// random jitter so synchronized retries spread out.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
