package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/BeatsChainApp/moments-sub000/internal/models"
)

// Publisher publishes broadcast lifecycle events to Redis Streams. It
// implements broadcast.EventSink.
type Publisher struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewPublisher creates a new Publisher instance
func NewPublisher(redisURL string, log *slog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &Publisher{rdb: redis.NewClient(opts), log: log}, nil
}

// BroadcastStarted records the transition into processing.
func (p *Publisher) BroadcastStarted(ctx context.Context, b *models.Broadcast, momentSlug string) {
	p.publish(ctx, BroadcastEvent{
		EventID:        uuid.New().String(),
		Kind:           KindBroadcastStarted,
		BroadcastID:    b.ID,
		MomentID:       b.MomentID,
		MomentSlug:     momentSlug,
		Status:         b.Status,
		RecipientCount: b.RecipientCount,
		BatchesTotal:   b.BatchesTotal,
	})
}

// BroadcastFinished records a terminal state with its final counts.
func (p *Publisher) BroadcastFinished(ctx context.Context, b *models.Broadcast) {
	p.publish(ctx, BroadcastEvent{
		EventID:          uuid.New().String(),
		Kind:             KindBroadcastFinished,
		BroadcastID:      b.ID,
		MomentID:         b.MomentID,
		Status:           b.Status,
		RecipientCount:   b.RecipientCount,
		SuccessCount:     b.SuccessCount,
		FailureCount:     b.FailureCount,
		BatchesTotal:     b.BatchesTotal,
		BatchesCompleted: b.BatchesCompleted,
	})
}

func (p *Publisher) publish(ctx context.Context, ev BroadcastEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("failed to marshal broadcast event", slog.Any("err", err))
		return
	}

	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamBroadcastEvents,
		MaxLen: 10000,
		Approx: true,
		ID:     "*", // auto-generate ID
		Values: map[string]interface{}{
			"payload":        string(payload),
			"published_at":   time.Now().Unix(),
			"schema_version": SchemaVersionV1,
		},
	}).Err()
	if err != nil {
		// Best-effort: log and move on, delivery must not depend on the
		// event stream being reachable.
		p.log.Error("failed to publish broadcast event",
			slog.String("kind", ev.Kind),
			slog.Uint64("broadcast_id", uint64(ev.BroadcastID)),
			slog.Any("err", err),
		)
	}
}

// Close closes the Redis client connection
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
