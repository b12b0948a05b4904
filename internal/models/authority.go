package models

import (
	"time"

	"gorm.io/gorm"
)

// AuthorityProfile approval mode constants
const (
	ApprovalModeAuto   = "auto"
	ApprovalModeManual = "manual"
)

// AuthorityProfile captures the verified trust context of a content
// creator: how far their broadcasts may reach (blast radius), how high
// their authority ordinal is, and during which window the profile is
// valid. Owned by the verification surface; read-only here.
type AuthorityProfile struct {
	gorm.Model
	CreatorID    string `gorm:"not null;uniqueIndex:idx_authority_profiles_creator,where:deleted_at IS NULL"`
	Level        int    `gorm:"not null;default:0"` // authority ordinal, higher is more official
	Role         string `gorm:"not null"`           // e.g. "government-official", "community-leader"
	ScopeID      string `gorm:"not null;default:''"`
	BlastRadius  int    `gorm:"not null;default:100"` // max recipients per broadcast
	ApprovalMode string `gorm:"not null;default:'manual'"`
	ValidFrom    *time.Time
	ValidUntil   *time.Time
}

// ActiveAt reports whether the profile's validity window covers t.
// A nil bound is open-ended.
func (p *AuthorityProfile) ActiveAt(t time.Time) bool {
	if p.ValidFrom != nil && t.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && t.After(*p.ValidUntil) {
		return false
	}
	return true
}
