package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Ref links a ledger write to the order or admin that caused it.
type Ref struct {
	OrderID *uuid.UUID
	ActorID *uuid.UUID
	Note    string
}

// Line is one variant quantity to reserve, release, commit or restock.
type Line struct {
	VariantID uuid.UUID
	Quantity  int
}

// Unavailable describes a line that could not be reserved.
type Unavailable struct {
	VariantID uuid.UUID `json:"variant_id"`
	SKU       string    `json:"sku"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// Ledger owns every write to variants.stock and variants.reserved. Each write
// is a single conditional UPDATE so concurrent callers can never oversell.
type Ledger struct{}

// NewLedger builds a stock ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve moves qty from sellable into reserved.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int, ref Ref) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	affected, err := l.apply(ctx, tx, variantID,
		"is_active = ? AND stock - reserved >= ?", []any{true, qty},
		map[string]any{"reserved": gorm.Expr("reserved + ?", qty)},
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		variant, err := l.load(ctx, tx, variantID)
		if err != nil {
			return err
		}
		return outOfStock([]Unavailable{unavailableFor(*variant, qty)})
	}
	return l.record(ctx, tx, variantID, enums.StockMovementReserve, qty, ref)
}

// Release returns a reservation to sellable stock.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int, ref Ref) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	affected, err := l.apply(ctx, tx, variantID,
		"reserved >= ?", []any{qty},
		map[string]any{"reserved": gorm.Expr("reserved - ?", qty)},
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		return l.notHeld(ctx, tx, variantID, qty)
	}
	return l.record(ctx, tx, variantID, enums.StockMovementRelease, -qty, ref)
}

// Commit turns a reservation into a sale by removing it from both stock and reserved.
func (l *Ledger) Commit(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int, ref Ref) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	affected, err := l.apply(ctx, tx, variantID,
		"reserved >= ? AND stock >= ?", []any{qty, qty},
		map[string]any{
			"stock":    gorm.Expr("stock - ?", qty),
			"reserved": gorm.Expr("reserved - ?", qty),
		},
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		return l.notHeld(ctx, tx, variantID, qty)
	}
	return l.record(ctx, tx, variantID, enums.StockMovementCommit, -qty, ref)
}

// Restock adds previously sold units back to stock.
func (l *Ledger) Restock(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int, ref Ref) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	affected, err := l.apply(ctx, tx, variantID, "", nil,
		map[string]any{"stock": gorm.Expr("stock + ?", qty)},
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
	}
	return l.record(ctx, tx, variantID, enums.StockMovementRestock, qty, ref)
}

// ReserveAll reserves every line or none. Lines are merged per variant and
// taken in id order so concurrent checkouts acquire row locks consistently.
// On OUT_OF_STOCK the caller must roll back tx to undo the partial work.
func (l *Ledger) ReserveAll(ctx context.Context, tx *gorm.DB, lines []Line, ref Ref) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}
	var missing []Unavailable
	for _, line := range merged {
		err := l.Reserve(ctx, tx, line.VariantID, line.Quantity, ref)
		if err == nil {
			continue
		}
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeOutOfStock {
			return err
		}
		if details, ok := typed.Details().([]Unavailable); ok {
			missing = append(missing, details...)
		}
	}
	if len(missing) > 0 {
		return outOfStock(missing)
	}
	return nil
}

// ReleaseAll releases every line in id order.
func (l *Ledger) ReleaseAll(ctx context.Context, tx *gorm.DB, lines []Line, ref Ref) error {
	return l.each(ctx, tx, lines, ref, l.Release)
}

// CommitAll commits every line in id order.
func (l *Ledger) CommitAll(ctx context.Context, tx *gorm.DB, lines []Line, ref Ref) error {
	return l.each(ctx, tx, lines, ref, l.Commit)
}

// RestockAll restocks every line in id order.
func (l *Ledger) RestockAll(ctx context.Context, tx *gorm.DB, lines []Line, ref Ref) error {
	return l.each(ctx, tx, lines, ref, l.Restock)
}

type lineOp func(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int, ref Ref) error

func (l *Ledger) each(ctx context.Context, tx *gorm.DB, lines []Line, ref Ref, op lineOp) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}
	for _, line := range merged {
		if err := op(ctx, tx, line.VariantID, line.Quantity, ref); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) apply(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, cond string, args []any, updates map[string]any) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	query := tx.WithContext(ctx).Model(&models.Variant{}).Where("id = ?", variantID)
	if cond != "" {
		query = query.Where(cond, args...)
	}
	updates["version"] = gorm.Expr("version + 1")
	res := query.Updates(updates)
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update stock")
	}
	return res.RowsAffected, nil
}

func (l *Ledger) load(ctx context.Context, tx *gorm.DB, variantID uuid.UUID) (*models.Variant, error) {
	var variant models.Variant
	if err := tx.WithContext(ctx).Where("id = ?", variantID).First(&variant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load variant")
	}
	return &variant, nil
}

func (l *Ledger) notHeld(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) error {
	variant, err := l.load(ctx, tx, variantID)
	if err != nil {
		return err
	}
	return pkgerrors.New(pkgerrors.CodeConflict,
		fmt.Sprintf("variant %s holds %d reserved units, cannot settle %d", variant.SKU, variant.Reserved, qty))
}

func (l *Ledger) record(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, kind enums.StockMovementType, delta int, ref Ref) error {
	variant, err := l.load(ctx, tx, variantID)
	if err != nil {
		return err
	}
	movement := models.StockMovement{
		VariantID:         variantID,
		OrderID:           ref.OrderID,
		Type:              kind,
		QuantityDelta:     delta,
		ResultingStock:    variant.Stock,
		ResultingReserved: variant.Reserved,
		ActorID:           ref.ActorID,
	}
	if note := strings.TrimSpace(ref.Note); note != "" {
		movement.Note = &note
	}
	if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record stock movement")
	}
	return nil
}

func mergeLines(lines []Line) ([]Line, error) {
	totals := make(map[uuid.UUID]int, len(lines))
	for _, line := range lines {
		if line.VariantID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
		}
		if err := validateQty(line.Quantity); err != nil {
			return nil, err
		}
		totals[line.VariantID] += line.Quantity
	}
	merged := make([]Line, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, Line{VariantID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].VariantID.String() < merged[j].VariantID.String()
	})
	return merged, nil
}

func validateQty(qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}

func unavailableFor(v models.Variant, requested int) Unavailable {
	available := v.Sellable()
	if !v.IsActive || available < 0 {
		available = 0
	}
	return Unavailable{VariantID: v.ID, SKU: v.SKU, Requested: requested, Available: available}
}

func outOfStock(lines []Unavailable) error {
	return pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock").WithDetails(lines)
}
