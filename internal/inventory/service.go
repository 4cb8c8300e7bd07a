package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

const (
	defaultMovementLimit = 50
	maxMovementLimit     = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// AdjustInput is a manual stock correction made by staff.
type AdjustInput struct {
	VariantID uuid.UUID
	Delta     int
	ActorID   uuid.UUID
	Note      string
}

// Service exposes the admin side of the ledger plus read helpers.
type Service struct {
	db     *gorm.DB
	tx     txRunner
	outbox outboxPublisher
}

// NewService builds the inventory admin service.
func NewService(db *gorm.DB, tx txRunner, outbox outboxPublisher) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Service{db: db, tx: tx, outbox: outbox}, nil
}

// Adjust changes on-hand stock by delta. Stock can never drop below what is
// currently reserved for open orders.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (*models.Variant, error) {
	if input.VariantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must be non-zero")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor required")
	}

	var result *models.Variant
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).Model(&models.Variant{}).
			Where("id = ? AND stock + ? >= reserved", input.VariantID, input.Delta).
			Updates(map[string]any{
				"stock":   gorm.Expr("stock + ?", input.Delta),
				"version": gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "adjust stock")
		}

		var variant models.Variant
		if err := tx.WithContext(ctx).Where("id = ?", input.VariantID).First(&variant).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load variant")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict,
				fmt.Sprintf("stock cannot drop below %d reserved units", variant.Reserved))
		}

		actor := input.ActorID
		movement := models.StockMovement{
			VariantID:         variant.ID,
			Type:              enums.StockMovementManual,
			QuantityDelta:     input.Delta,
			ResultingStock:    variant.Stock,
			ResultingReserved: variant.Reserved,
			ActorID:           &actor,
		}
		note := strings.TrimSpace(input.Note)
		if note != "" {
			movement.Note = &note
		}
		if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record stock movement")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockAdjusted,
			AggregateType: enums.AggregateVariant,
			AggregateID:   variant.ID,
			Actor:         &outbox.ActorRef{UserID: &actor, Role: string(enums.RoleAdmin)},
			Data: outbox.StockAdjusted{
				VariantID:      variant.ID,
				SKU:            variant.SKU,
				Delta:          input.Delta,
				ResultingStock: variant.Stock,
				Note:           note,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit stock adjusted")
		}
		result = &variant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Movements lists the most recent ledger entries for a variant, newest first.
func (s *Service) Movements(ctx context.Context, variantID uuid.UUID, limit int) ([]models.StockMovement, error) {
	if variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	if limit <= 0 {
		limit = defaultMovementLimit
	}
	if limit > maxMovementLimit {
		limit = maxMovementLimit
	}
	var rows []models.StockMovement
	err := s.db.WithContext(ctx).
		Where("variant_id = ?", variantID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stock movements")
	}
	return rows, nil
}

// Availability loads the variants for ids. Missing ids are absent from the map.
func (s *Service) Availability(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Variant, error) {
	out := make(map[uuid.UUID]models.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	conn := s.db
	if tx != nil {
		conn = tx
	}
	var rows []models.Variant
	if err := conn.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load variants")
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}
