package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func reload(t *testing.T, conn *gorm.DB, id uuid.UUID) models.Variant {
	t.Helper()
	var v models.Variant
	require.NoError(t, conn.First(&v, "id = ?", id).Error)
	return v
}

func TestReserveReleaseCommitRestock(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	ledger := NewLedger()
	variant := dbtest.SeedVariant(t, conn, "TEE-M", 2500, 5)
	orderID := uuid.New()
	ref := Ref{OrderID: &orderID}

	require.NoError(t, ledger.Reserve(ctx, conn, variant.ID, 3, ref))
	v := reload(t, conn, variant.ID)
	assert.Equal(t, 5, v.Stock)
	assert.Equal(t, 3, v.Reserved)

	require.NoError(t, ledger.Release(ctx, conn, variant.ID, 1, ref))
	require.NoError(t, ledger.Commit(ctx, conn, variant.ID, 2, ref))
	v = reload(t, conn, variant.ID)
	assert.Equal(t, 3, v.Stock)
	assert.Equal(t, 0, v.Reserved)

	require.NoError(t, ledger.Restock(ctx, conn, variant.ID, 2, ref))
	v = reload(t, conn, variant.ID)
	assert.Equal(t, 5, v.Stock)
	assert.Equal(t, 4, v.Version)

	var movements []models.StockMovement
	require.NoError(t, conn.Where("variant_id = ?", variant.ID).Order("created_at ASC").Find(&movements).Error)
	require.Len(t, movements, 4)
	kinds := []enums.StockMovementType{}
	for _, m := range movements {
		kinds = append(kinds, m.Type)
		require.NotNil(t, m.OrderID)
		assert.Equal(t, orderID, *m.OrderID)
	}
	assert.ElementsMatch(t, []enums.StockMovementType{
		enums.StockMovementReserve,
		enums.StockMovementRelease,
		enums.StockMovementCommit,
		enums.StockMovementRestock,
	}, kinds)
}

func TestReserveOutOfStockLeavesRowUntouched(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	ledger := NewLedger()
	variant := dbtest.SeedVariant(t, conn, "MUG", 900, 2)

	err := ledger.Reserve(ctx, conn, variant.ID, 3, Ref{})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeOutOfStock, typed.Code())
	details, ok := typed.Details().([]Unavailable)
	require.True(t, ok)
	assert.Equal(t, Unavailable{VariantID: variant.ID, SKU: "MUG", Requested: 3, Available: 2}, details[0])

	v := reload(t, conn, variant.ID)
	assert.Equal(t, 0, v.Reserved)
	assert.Equal(t, 0, v.Version)

	var count int64
	require.NoError(t, conn.Model(&models.StockMovement{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestReserveInactiveVariant(t *testing.T) {
	conn := dbtest.Open(t)
	variant := dbtest.SeedVariant(t, conn, "OLD", 900, 10)
	require.NoError(t, conn.Model(&models.Variant{}).Where("id = ?", variant.ID).Update("is_active", false).Error)

	err := NewLedger().Reserve(context.Background(), conn, variant.ID, 1, Ref{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock))
}

func TestReleaseMoreThanReservedConflicts(t *testing.T) {
	conn := dbtest.Open(t)
	variant := dbtest.SeedVariant(t, conn, "CAP", 1200, 4)

	err := NewLedger().Release(context.Background(), conn, variant.ID, 1, Ref{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	conn := dbtest.Open(t)
	variant := dbtest.SeedVariant(t, conn, "SOCK", 300, 4)

	err := NewLedger().Reserve(context.Background(), conn, variant.ID, 0, Ref{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReserveUnknownVariant(t *testing.T) {
	conn := dbtest.Open(t)
	err := NewLedger().Reserve(context.Background(), conn, uuid.New(), 1, Ref{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReserveAllReportsEveryShortLine(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	ledger := NewLedger()
	plenty := dbtest.SeedVariant(t, conn, "A", 100, 10)
	short := dbtest.SeedVariant(t, conn, "B", 100, 1)
	empty := dbtest.SeedVariant(t, conn, "C", 100, 0)

	err := conn.Transaction(func(tx *gorm.DB) error {
		return ledger.ReserveAll(ctx, tx, []Line{
			{VariantID: plenty.ID, Quantity: 2},
			{VariantID: short.ID, Quantity: 1},
			{VariantID: short.ID, Quantity: 1},
			{VariantID: empty.ID, Quantity: 1},
		}, Ref{})
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details := typed.Details().([]Unavailable)
	require.Len(t, details, 2)
	skus := []string{details[0].SKU, details[1].SKU}
	assert.ElementsMatch(t, []string{"B", "C"}, skus)

	assert.Equal(t, 0, reload(t, conn, plenty.ID).Reserved, "rollback must undo the partial reservation")
}

// Two checkouts race for the last units: exactly one wins. The sqlite pool
// holds one connection, so transactions queue rather than interleave; this
// covers the conditional UPDATE, not row-lock contention on postgres.
func TestConcurrentReservationsNeverOversell(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	ledger := NewLedger()
	variant := dbtest.SeedVariant(t, conn, "LAST", 5000, 5)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := conn.Transaction(func(tx *gorm.DB) error {
				return ledger.ReserveAll(ctx, tx, []Line{{VariantID: variant.ID, Quantity: 3}}, Ref{})
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, rejected)
	v := reload(t, conn, variant.ID)
	assert.Equal(t, 3, v.Reserved)
	assert.LessOrEqual(t, v.Reserved, v.Stock)
}
