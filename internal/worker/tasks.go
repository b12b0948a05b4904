package worker

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	TaskDeliverBroadcast = "broadcast:deliver"
	TaskSweepBroadcasts  = "broadcast:sweep"
)

// Package-level Asynq client (singleton)
var client *asynq.Client

// InitClient initializes the global Asynq client for task enqueueing.
// Must be called before any EnqueueX functions.
func InitClient(redisURL string) error {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return err
	}

	client = asynq.NewClient(opt)
	return nil
}

// CloseClient closes the Asynq client connection gracefully.
func CloseClient() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// EnqueueDeliverBroadcast enqueues the delivery phase for a prepared
// broadcast. The task retries on infrastructure failures; delivery itself
// is idempotent through batch claims, so a retried task never re-sends a
// completed batch.
func EnqueueDeliverBroadcast(broadcastID uint) error {
	payload, err := json.Marshal(map[string]uint{
		"broadcast_id": broadcastID,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(
		TaskDeliverBroadcast,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour),
	)

	_, err = client.Enqueue(task)
	return err
}
