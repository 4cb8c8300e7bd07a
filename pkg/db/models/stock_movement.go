package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// StockMovement is an append-only audit entry for every ledger write.
type StockMovement struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	VariantID         uuid.UUID               `gorm:"column:variant_id;type:uuid;not null;index"`
	OrderID           *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	Type              enums.StockMovementType `gorm:"column:type;type:varchar(16);not null"`
	QuantityDelta     int                     `gorm:"column:quantity_delta;not null"`
	ResultingStock    int                     `gorm:"column:resulting_stock;not null"`
	ResultingReserved int                     `gorm:"column:resulting_reserved;not null"`
	ActorID           *uuid.UUID              `gorm:"column:actor_id;type:uuid"`
	Note              *string                 `gorm:"column:note"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (m *StockMovement) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
