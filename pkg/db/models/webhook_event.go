package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEvent is the dedup log for gateway deliveries, keyed by (reference, event type).
type WebhookEvent struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	GatewayReference string          `gorm:"column:gateway_reference;not null;uniqueIndex:ux_webhook_events_ref_type"`
	EventType        string          `gorm:"column:event_type;not null;uniqueIndex:ux_webhook_events_ref_type"`
	RawPayload       json.RawMessage `gorm:"column:raw_payload;type:jsonb;not null"`
	IsProcessed      bool            `gorm:"column:is_processed;not null;default:false"`
	ProcessingNote   *string         `gorm:"column:processing_note"`
	DeliveryCount    int             `gorm:"column:delivery_count;not null;default:1"`
	ReceivedAt       time.Time       `gorm:"column:received_at;autoCreateTime"`
	ProcessedAt      *time.Time      `gorm:"column:processed_at"`
}

func (e *WebhookEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
