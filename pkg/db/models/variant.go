package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Variant is a purchasable SKU. Stock and Reserved are owned by the stock ledger.
type Variant struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID   uuid.UUID `gorm:"column:product_id;type:uuid;not null;index"`
	SKU         string    `gorm:"column:sku;not null;uniqueIndex:ux_variants_sku"`
	ProductName string    `gorm:"column:product_name;not null"`
	Name        string    `gorm:"column:name;not null;default:''"`
	PriceCents  int64     `gorm:"column:price_cents;not null"`
	Stock       int       `gorm:"column:stock;not null;default:0"`
	Reserved    int       `gorm:"column:reserved;not null;default:0"`
	IsActive    bool      `gorm:"column:is_active;not null;default:true"`
	Version     int       `gorm:"column:version;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *Variant) BeforeCreate(*gorm.DB) error {
	assignID(&v.ID)
	return nil
}

// Sellable is stock minus reserved.
func (v Variant) Sellable() int {
	return v.Stock - v.Reserved
}

// DisplayName combines product and variant names for order snapshots.
func (v Variant) DisplayName() string {
	if v.Name == "" {
		return v.ProductName
	}
	return v.ProductName + " - " + v.Name
}
