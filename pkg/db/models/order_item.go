package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderItem is an immutable snapshot of a purchased line.
type OrderItem struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID             uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	VariantID           uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
	ProductNameSnapshot string    `gorm:"column:product_name_snapshot;not null"`
	SKUSnapshot         string    `gorm:"column:sku_snapshot;not null"`
	Quantity            int       `gorm:"column:quantity;not null"`
	UnitPriceCents      int64     `gorm:"column:unit_price_cents;not null"`
	SubtotalCents       int64     `gorm:"column:subtotal_cents;not null"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

func (i *OrderItem) BeforeUpdate(*gorm.DB) error {
	return ErrImmutableOrderItem
}
