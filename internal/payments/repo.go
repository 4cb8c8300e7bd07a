package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Repository persists the webhook dedup log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Record(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, note string, at time.Time) error
	SetNote(ctx context.Context, id uuid.UUID, note string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Record inserts the delivery unless (reference, event type) is already
// logged, bumps the delivery counter on repeats, and returns the stored row.
func (r *repository) Record(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if err := r.db.WithContext(ctx).
			Model(&models.WebhookEvent{}).
			Where("gateway_reference = ? AND event_type = ?", event.GatewayReference, event.EventType).
			UpdateColumn("delivery_count", gorm.Expr("delivery_count + 1")).Error; err != nil {
			return nil, err
		}
	}
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("gateway_reference = ? AND event_type = ?", event.GatewayReference, event.EventType).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, note string, at time.Time) error {
	updates := map[string]any{
		"is_processed": true,
		"processed_at": at,
	}
	if note != "" {
		updates["processing_note"] = note
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) SetNote(ctx context.Context, id uuid.UUID, note string) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("processing_note", note).Error
}
