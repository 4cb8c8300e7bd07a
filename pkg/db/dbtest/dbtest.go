// Package dbtest opens isolated sqlite databases carrying the storefront schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Open returns a fresh in-memory database migrated with every model. The pool
// is pinned to one connection so concurrent test transactions queue instead
// of failing with sqlite table locks.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:storefront_%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), db.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// Client wraps Open in a db.Client for services that need WithTx.
func Client(t *testing.T) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewFromConn(conn), conn
}

// SeedVariant inserts an active variant with the given stock.
func SeedVariant(t *testing.T, conn *gorm.DB, sku string, priceCents int64, stock int) models.Variant {
	t.Helper()
	v := models.Variant{
		ProductID:   uuid.New(),
		SKU:         sku,
		ProductName: "Product " + sku,
		PriceCents:  priceCents,
		Stock:       stock,
		IsActive:    true,
	}
	if err := conn.Create(&v).Error; err != nil {
		t.Fatalf("seed variant %s: %v", sku, err)
	}
	return v
}
