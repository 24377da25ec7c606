package models

import "time"

// WebhookEvent is the idempotency record for one processor-assigned event id.
// A row is created on first sight of the id; ProcessedAt flips from null to a
// timestamp exactly once, inside the transaction that applied the event.
// Rows are never deleted in normal operation.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	EventID         string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_event_id" json:"event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
