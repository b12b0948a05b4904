// Package moments exposes the broadcast engine's three operations over
// HTTP: trigger a broadcast for a moment, query broadcast progress, and
// run a recovery sweep.
package moments

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/BeatsChainApp/moments-sub000/internal/broadcast"
	"github.com/BeatsChainApp/moments-sub000/internal/models"
)

// Broadcaster is the coordinator surface the handlers need; tests
// substitute fakes.
type Broadcaster interface {
	Trigger(ctx context.Context, momentID uint) (*broadcast.TriggerResult, error)
	Progress(ctx context.Context, broadcastID uint) (*models.Broadcast, error)
}

// SweepRunner runs one recovery sweep on demand.
type SweepRunner interface {
	Sweep(ctx context.Context) (int, error)
}

// TriggerBroadcastHandler prepares a broadcast for the moment and
// schedules its delivery. Duplicate triggers are reported as suppressed,
// not as failures.
func TriggerBroadcastHandler(b Broadcaster, enqueue broadcast.Enqueuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		momentID, ok := parseID(c, "id")
		if !ok {
			return
		}

		res, err := b.Trigger(c.Request.Context(), momentID)
		if err != nil {
			switch {
			case errors.Is(err, broadcast.ErrDuplicateBroadcast):
				c.JSON(http.StatusConflict, gin.H{"result": broadcast.DescribeError(err)})
			case errors.Is(err, broadcast.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "moment not found"})
			case errors.Is(err, broadcast.ErrComposition):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": broadcast.DescribeError(err)})
			case errors.Is(err, broadcast.ErrAudienceResolution):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": broadcast.DescribeError(err)})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": broadcast.DescribeError(err)})
			}
			return
		}

		// An empty-audience broadcast completed during preparation and
		// has nothing to deliver.
		scheduled := false
		if res.BatchCount > 0 {
			if err := enqueue(res.BroadcastID); err != nil {
				// The broadcast is prepared; the sweeper re-enqueues it
				// once it goes stale. Surface the degraded path anyway.
				c.JSON(http.StatusAccepted, gin.H{
					"broadcast_id":    res.BroadcastID,
					"recipient_count": res.RecipientCount,
					"batch_count":     res.BatchCount,
					"delivery":        "enqueue failed, will be swept",
				})
				return
			}
			scheduled = true
		}

		c.JSON(http.StatusAccepted, gin.H{
			"broadcast_id":       res.BroadcastID,
			"recipient_count":    res.RecipientCount,
			"batch_count":        res.BatchCount,
			"delivery_scheduled": scheduled,
		})
	}
}

// GetBroadcastStatusHandler returns the persisted progress of a broadcast.
func GetBroadcastStatusHandler(b Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		broadcastID, ok := parseID(c, "id")
		if !ok {
			return
		}

		bc, err := b.Progress(c.Request.Context(), broadcastID)
		if err != nil {
			if errors.Is(err, broadcast.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "broadcast not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load broadcast"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"broadcast_id":      bc.ID,
			"moment_id":         bc.MomentID,
			"status":            bc.Status,
			"recipient_count":   bc.RecipientCount,
			"success_count":     bc.SuccessCount,
			"failure_count":     bc.FailureCount,
			"batches_total":     bc.BatchesTotal,
			"batches_completed": bc.BatchesCompleted,
			"started_at":        bc.StartedAt,
			"completed_at":      bc.CompletedAt,
		})
	}
}

// SweepHandler runs a recovery sweep on demand (the scheduled sweep covers
// the steady state; this is the operator's manual lever).
func SweepHandler(s SweepRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		requeued, err := s.Sweep(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requeued": requeued})
	}
}

func parseID(c *gin.Context, param string) (uint, bool) {
	raw := c.Param(param)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}
