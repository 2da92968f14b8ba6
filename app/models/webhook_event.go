package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is an append-only audit row for a verified Stripe delivery.
// StripeEventID is intentionally not unique: redeliveries get their own row and
// this table is never consulted to skip processing.
type WebhookEvent struct {
	ID              uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	StripeEventID   string     `gorm:"type:varchar(191);not null;default:'';index" json:"stripe_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
