package models

import (
	"time"

	"github.com/uptrace/bun"
)

// WebhookEvent records one delivery of a payment provider event. EventID is the
// deduplication key.
type WebhookEvent struct {
	bun.BaseModel `bun:"table:webhook_events"`

	EventID            string     `bun:"event_id,pk" json:"event_id"`
	EventType          string     `bun:"event_type,notnull" json:"event_type"`
	BookingID          *string    `bun:"booking_id" json:"booking_id,omitempty"`
	PaymentIntentID    *string    `bun:"payment_intent_id" json:"payment_intent_id,omitempty"`
	Processed          bool       `bun:"processed,notnull" json:"processed"`
	ProcessingAttempts int        `bun:"processing_attempts,notnull" json:"processing_attempts"`
	LastError          *string    `bun:"last_error" json:"last_error,omitempty"`
	Payload            string     `bun:"payload,nullzero" json:"-"`
	CreatedAt          time.Time  `bun:"created_at,notnull" json:"created_at"`
	ProcessedAt        *time.Time `bun:"processed_at" json:"processed_at,omitempty"`
	LastAttemptAt      *time.Time `bun:"last_attempt_at" json:"last_attempt_at,omitempty"`
}
