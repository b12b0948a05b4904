package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/BeatsChainApp/moments-sub000/internal/broadcast"
	"github.com/BeatsChainApp/moments-sub000/internal/config"
)

// asynqLoggerAdapter wraps slog.Logger to implement asynq.Logger interface
type asynqLoggerAdapter struct {
	logger *slog.Logger
}

// Implement asynq.Logger interface methods
func (a *asynqLoggerAdapter) Debug(args ...interface{}) {
	a.logger.Debug(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Info(args ...interface{}) {
	a.logger.Info(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Warn(args ...interface{}) {
	a.logger.Warn(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Error(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}

// Run starts the Asynq worker server and blocks until shutdown signal.
// Use this for standalone worker mode.
func Run(cfg *config.Config, coord *broadcast.Coordinator, sweeper *broadcast.Sweeper) error {
	srv, mux, err := newServer(cfg, coord, sweeper)
	if err != nil {
		return err
	}

	// Note: the scheduler is started separately in main and deferred
	// there for shutdown coordination. Run blocks and handles its own
	// signal interception.
	return srv.Run(mux)
}

// Start starts the Asynq worker in non-blocking mode and returns a stop function.
// Use this for embedded mode so the caller can coordinate shutdown.
func Start(cfg *config.Config, coord *broadcast.Coordinator, sweeper *broadcast.Sweeper) (stop func(), err error) {
	srv, mux, err := newServer(cfg, coord, sweeper)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

func newServer(cfg *config.Config, coord *broadcast.Coordinator, sweeper *broadcast.Sweeper) (*asynq.Server, *asynq.ServeMux, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := NewLogger(cfg.LogLevel, cfg.LogFormat)

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     5,
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(logger)),
			Logger:          &asynqLoggerAdapter{logger: logger},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskDeliverBroadcast, handleDeliverBroadcast(logger, coord))
	mux.HandleFunc(TaskSweepBroadcasts, handleSweepBroadcasts(logger, sweeper))

	logger.Info("Worker starting", "concurrency", 5, "redis", cfg.RedisURL)
	return srv, mux, nil
}

// handleDeliverBroadcast runs the delivery phase for one prepared
// broadcast. Re-running after a partial failure is safe: completed
// batches are never re-claimed.
func handleDeliverBroadcast(logger *slog.Logger, coord *broadcast.Coordinator) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload struct {
			BroadcastID uint `json:"broadcast_id"`
		}
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			// Invalid payload - don't retry
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}

		logger.Info("Processing broadcast:deliver task", "broadcast_id", payload.BroadcastID)

		if err := coord.Deliver(ctx, payload.BroadcastID); err != nil {
			if errors.Is(err, broadcast.ErrNotFound) {
				logger.Error("Broadcast not found", "broadcast_id", payload.BroadcastID)
				return fmt.Errorf("broadcast not found: %w", asynq.SkipRetry)
			}
			if errors.Is(err, broadcast.ErrComposition) {
				// Needs a content fix, retrying cannot help
				logger.Error("Broadcast composition failed", "broadcast_id", payload.BroadcastID, "error", err.Error())
				return fmt.Errorf("composition failed: %w", asynq.SkipRetry)
			}
			// Infra error - retryable, delivery is claim-guarded
			return fmt.Errorf("broadcast delivery failed: %w", err)
		}

		logger.Info("Broadcast delivery pass finished", "broadcast_id", payload.BroadcastID)
		return nil
	}
}

// handleSweepBroadcasts runs one recovery sweep for stuck broadcasts.
func handleSweepBroadcasts(logger *slog.Logger, sweeper *broadcast.Sweeper) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		requeued, err := sweeper.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		if requeued > 0 {
			logger.Info("Sweep re-enqueued stale broadcasts", "count", requeued)
		}
		return nil
	}
}

// makeErrorHandler creates an error handler function with logger closure.
func makeErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		logger.Error(
			"Task execution failed",
			"task_type", task.Type(),
			"error", err.Error(),
			"retry_count", retried,
			"max_retry", maxRetry,
		)

		// Check if this is the final failure (task will move to dead letter queue)
		if retried >= maxRetry {
			logger.Error(
				"Task moved to dead letter queue (all retries exhausted)",
				"task_type", task.Type(),
				"payload", string(task.Payload()),
			)
		}
	}
}
