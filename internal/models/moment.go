package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Moment status constants
const (
	MomentStatusDraft       = "draft"
	MomentStatusScheduled   = "scheduled"
	MomentStatusBroadcasted = "broadcasted"
	MomentStatusFailed      = "failed"
)

// RegionNational is the universal region: moments tagged with it reach
// every opted-in subscriber regardless of their region interests.
const RegionNational = "National"

// Moment represents one unit of community or official content eligible
// for broadcast. The broadcast engine only reads moments and writes back
// Status, BroadcastedAt and (once) Slug; everything else is owned by the
// content-management surface.
type Moment struct {
	gorm.Model
	Title         string         `gorm:"not null"`
	Body          string         `gorm:"type:text;not null"`
	Region        string         `gorm:"not null;default:'National';index"`
	Category      string         `gorm:"not null;default:'general'"`
	Media         datatypes.JSON `gorm:"type:jsonb"` // optional list of media references
	Status        string         `gorm:"not null;default:'draft';index"`
	Slug          string         `gorm:"index"` // stable once set, never rewritten
	SponsorID     *uint          `gorm:"index"`
	Sponsor       *Sponsor
	CreatorID     string `gorm:"index"` // submitter identifier; empty for anonymous submissions
	BroadcastedAt *time.Time
}
