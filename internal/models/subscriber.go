package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Subscriber is an opted-in phone-number recipient with region/category
// interest sets. Opt-in/opt-out mutation happens in the inbound command
// handlers; the broadcast engine only queries.
type Subscriber struct {
	gorm.Model
	PhoneNumber string         `gorm:"not null;uniqueIndex:idx_subscribers_phone,where:deleted_at IS NULL"`
	OptedIn     bool           `gorm:"not null;default:true;index"`
	Regions     pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	Categories  pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	LastSeenAt  *time.Time
}
