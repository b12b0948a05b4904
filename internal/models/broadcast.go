package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Broadcast status constants
const (
	BroadcastStatusPending    = "pending"
	BroadcastStatusProcessing = "processing"
	BroadcastStatusCompleted  = "completed"
	BroadcastStatusFailed     = "failed"
)

// Batch status constants
const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
)

// Broadcast is one dispatch run of a Moment to its resolved audience.
// Created once per trigger; mutated only by the coordinator; never
// deleted while a run is active.
//
// Invariant: SuccessCount + FailureCount <= RecipientCount at all times,
// with equality once Status is terminal.
type Broadcast struct {
	gorm.Model
	MomentID         uint   `gorm:"not null;index"`
	Moment           Moment `gorm:"constraint:OnDelete:CASCADE;"`
	RecipientCount   int    `gorm:"not null;default:0"`
	SuccessCount     int    `gorm:"not null;default:0"`
	FailureCount     int    `gorm:"not null;default:0"`
	Status           string `gorm:"not null;default:'pending';index"`
	BatchesTotal     int    `gorm:"not null;default:0"`
	BatchesCompleted int    `gorm:"not null;default:0"`
	ErrorMessage     string `gorm:"column:error_message;type:text"`
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// Terminal reports whether the broadcast has reached a final status.
func (b *Broadcast) Terminal() bool {
	return b.Status == BroadcastStatusCompleted || b.Status == BroadcastStatusFailed
}

// BroadcastBatch is one fixed-size partition slice of a broadcast's
// recipient list, dispatched as a single sequential unit of work. The
// batches of a broadcast partition its resolved audience exactly: in
// order, disjoint, no omissions.
type BroadcastBatch struct {
	gorm.Model
	BroadcastID  uint           `gorm:"not null;index"`
	Number       int            `gorm:"not null"` // 1-based ordinal within the broadcast
	Recipients   pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	Status       string         `gorm:"not null;default:'pending';index"`
	SuccessCount int            `gorm:"not null;default:0"`
	FailureCount int            `gorm:"not null;default:0"`
}
