package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BeatsChainApp/moments-sub000/internal/models"
	"github.com/BeatsChainApp/moments-sub000/internal/whatsapp"
)

// Audience is the bounded, deduplicated recipient list for one broadcast.
type Audience struct {
	// Recipients is the capped, ordered list actually dispatched to.
	Recipients []string
	// Matched is the pre-cap match count, kept for compliance logging.
	Matched int64
}

// Resolver turns a moment plus its creator's trust context into a bounded
// recipient list.
type Resolver struct {
	store Store
	cfg   Config
	log   *slog.Logger
}

func NewResolver(store Store, cfg Config, log *slog.Logger) *Resolver {
	return &Resolver{store: store, cfg: cfg.withDefaults(), log: log}
}

// Resolve queries opted-in subscribers for the moment's region and applies
// the blast-radius cap: the creator's when a valid authority profile is
// present, the conservative default otherwise. It never partially
// resolves; any store failure or malformed recipient fails the whole
// resolution before a single send.
func (r *Resolver) Resolve(ctx context.Context, moment *models.Moment, profile *models.AuthorityProfile) (*Audience, error) {
	radius := r.cfg.DefaultBlastRadius
	if profile != nil && profile.ActiveAt(time.Now()) && profile.BlastRadius > 0 {
		radius = profile.BlastRadius
	}

	phones, matched, err := r.store.ListAudience(ctx, moment.Region, radius)
	if err != nil {
		return nil, resolutionError(err)
	}

	for _, phone := range phones {
		if !whatsapp.ValidPhone(phone) {
			return nil, resolutionError(fmt.Errorf("malformed recipient %q in audience", phone))
		}
	}

	r.log.Info("audience resolved",
		slog.Uint64("moment_id", uint64(moment.ID)),
		slog.String("region", moment.Region),
		slog.Int64("matched", matched),
		slog.Int("capped", len(phones)),
		slog.Int("blast_radius", radius),
		slog.Bool("authority", profile != nil),
	)

	return &Audience{Recipients: phones, Matched: matched}, nil
}
