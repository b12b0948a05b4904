package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BeatsChainApp/moments-sub000/internal/models"
	"github.com/BeatsChainApp/moments-sub000/internal/whatsapp"
)

// Composed is the final outbound payload for one broadcast: a templated
// opener plus the fully composed free-form message. The two-message
// pattern keeps channel-level template approval decoupled from the
// per-moment dynamic content.
type Composed struct {
	Variant      Variant
	Template     whatsapp.TemplateMessage
	MessageText  string
	Slug         string
	CanonicalURL string
}

// Composer builds the outbound text and selects the template variant from
// the moment, its creator's trust context and an optional sponsor.
type Composer struct {
	store Store
	cfg   Config
	log   *slog.Logger
}

func NewComposer(store Store, cfg Config, log *slog.Logger) *Composer {
	return &Composer{store: store, cfg: cfg.withDefaults(), log: log}
}

// Compose validates the moment body, ensures its canonical slug, renders
// the attribution block and footer, and picks the template variant. It
// fails before any send is attempted.
func (c *Composer) Compose(ctx context.Context, moment *models.Moment, profile *models.AuthorityProfile, sponsor *models.Sponsor) (*Composed, error) {
	body := strings.TrimSpace(moment.Body)
	if body == "" {
		return nil, compositionError("moment %d has no body text", moment.ID)
	}

	slug, err := c.ensureSlug(ctx, moment)
	if err != nil {
		return nil, err
	}
	canonicalURL := fmt.Sprintf("%s/moments/%s", strings.TrimRight(c.cfg.PublicBaseURL, "/"), slug)

	// A profile outside its validity window gives no trust context.
	if profile != nil && !profile.ActiveAt(time.Now()) {
		profile = nil
	}

	role := RoleCommunityMember
	level := 0
	if profile != nil {
		role = ParseRole(profile.Role)
		level = profile.Level
	}

	var sections []string
	if attribution := attributionBlock(role, sponsor); attribution != "" {
		sections = append(sections, attribution)
	}
	sections = append(sections, body)
	sections = append(sections, footer(canonicalURL, sponsor))

	variant := selectVariant(level, c.cfg.HighAuthorityLevel, profile != nil, sponsor != nil)

	return &Composed{
		Variant:      variant,
		Template:     variant.Template(moment.Region, moment.Category),
		MessageText:  strings.Join(sections, "\n\n"),
		Slug:         slug,
		CanonicalURL: canonicalURL,
	}, nil
}

// ensureSlug returns the moment's canonical slug, deriving and persisting
// it exactly once if absent. Derivation is deterministic, so losing the
// persistence race to a concurrent composer is fine as long as the stored
// slug matches what we derived.
func (c *Composer) ensureSlug(ctx context.Context, moment *models.Moment) (string, error) {
	if moment.Slug != "" {
		return moment.Slug, nil
	}

	slug := CanonicalSlug(moment.ID, moment.Title)
	claimed, err := c.store.SetMomentSlug(ctx, moment.ID, slug)
	if err != nil {
		return "", compositionError("persisting slug for moment %d: %v", moment.ID, err)
	}
	if claimed {
		c.log.Info("slug generated", slog.Uint64("moment_id", uint64(moment.ID)), slog.String("slug", slug))
		return slug, nil
	}

	// Someone else wrote a slug between our read and our write.
	current, err := c.store.GetMoment(ctx, moment.ID)
	if err != nil {
		return "", compositionError("re-reading moment %d after slug race: %v", moment.ID, err)
	}
	if current.Slug == "" {
		return "", compositionError("slug for moment %d neither persisted nor present", moment.ID)
	}
	return current.Slug, nil
}

// attributionBlock renders the trust header: sponsorship disclosure wins
// over role badges; anonymous community content gets none.
func attributionBlock(role Role, sponsor *models.Sponsor) string {
	if sponsor != nil {
		return fmt.Sprintf("Sponsored by %s | Shared by a %s", sponsor.Name, role.Label())
	}
	switch role.Trust() {
	case TrustInstitutional:
		return fmt.Sprintf("✅ Official notice: %s", role.Label())
	case TrustLimited:
		return fmt.Sprintf("☑️ Verified: %s", role.Label())
	default:
		return ""
	}
}

func footer(canonicalURL string, sponsor *models.Sponsor) string {
	lines := []string{"Read more: " + canonicalURL}
	if sponsor != nil && sponsor.Website != "" {
		lines = append(lines, fmt.Sprintf("Learn more about %s: %s", sponsor.Name, sponsor.Website))
	}
	return strings.Join(lines, "\n")
}

// selectVariant is the closed variant dispatch: high authority beats
// sponsorship beats plain verification.
func selectVariant(level, highLevel int, hasAuthority, hasSponsor bool) Variant {
	switch {
	case hasAuthority && level >= highLevel:
		return VariantOfficial
	case hasSponsor:
		return VariantSponsored
	case hasAuthority:
		return VariantVerified
	default:
		return VariantCommunity
	}
}
