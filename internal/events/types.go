// Package events publishes broadcast lifecycle events to a Redis Stream
// for the analytics/audit consumers. Publishing is best-effort: a lost
// event never blocks or fails a delivery.
package events

// Stream name constants
const (
	StreamBroadcastEvents = "broadcast:events"
)

// Schema version constant
const (
	SchemaVersionV1 = "v1"
)

// Event kinds
const (
	KindBroadcastStarted  = "broadcast.started"
	KindBroadcastFinished = "broadcast.finished"
)

// BroadcastEvent is one lifecycle record for a broadcast run.
type BroadcastEvent struct {
	EventID          string `json:"event_id"`
	Kind             string `json:"kind"`
	BroadcastID      uint   `json:"broadcast_id"`
	MomentID         uint   `json:"moment_id"`
	MomentSlug       string `json:"moment_slug,omitempty"`
	Status           string `json:"status"`
	RecipientCount   int    `json:"recipient_count"`
	SuccessCount     int    `json:"success_count"`
	FailureCount     int    `json:"failure_count"`
	BatchesTotal     int    `json:"batches_total"`
	BatchesCompleted int    `json:"batches_completed"`
}
