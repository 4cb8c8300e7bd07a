package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// CorrectionKind explains why a cart line changed during validation.
type CorrectionKind string

const (
	CorrectionQuantityReduced    CorrectionKind = "quantity_reduced"
	CorrectionRemovedUnavailable CorrectionKind = "removed_unavailable"
	CorrectionRemovedOutOfStock  CorrectionKind = "removed_out_of_stock"
	CorrectionPriceChanged       CorrectionKind = "price_changed"
)

// Correction is a notice shown to the shopper after the cart was adjusted.
type Correction struct {
	VariantID          uuid.UUID      `json:"variant_id"`
	SKU                string         `json:"sku,omitempty"`
	Kind               CorrectionKind `json:"kind"`
	PreviousQuantity   int            `json:"previous_quantity"`
	Quantity           int            `json:"quantity"`
	PreviousPriceCents int64          `json:"previous_price_cents,omitempty"`
	PriceCents         int64          `json:"price_cents,omitempty"`
}

// CheckoutLine is a cart line confirmed purchasable at the current price.
type CheckoutLine struct {
	Variant        models.Variant
	Quantity       int
	UnitPriceCents int64
	SubtotalCents  int64
}

// Validator re-reads catalog state for cart lines.
type Validator struct {
	repo     Repository
	variants VariantReader
}

// NewValidator builds a cart validator.
func NewValidator(repo Repository, variants VariantReader) (*Validator, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if variants == nil {
		return nil, fmt.Errorf("variant reader required")
	}
	return &Validator{repo: repo, variants: variants}, nil
}

// Validate clamps the cart to what can currently be bought. Lines that cannot
// be bought at all are dropped, quantities above sellable stock are reduced
// and stale prices refreshed. Changes are persisted and cart.Items updated.
func (v *Validator) Validate(ctx context.Context, tx *gorm.DB, cart *models.Cart) ([]Correction, error) {
	if cart == nil || len(cart.Items) == 0 {
		return nil, nil
	}
	variants, err := v.variants.Availability(ctx, tx, variantIDs(cart.Items))
	if err != nil {
		return nil, err
	}
	repo := v.repo.WithTx(tx)

	var corrections []Correction
	kept := make([]models.CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		variant, ok := variants[item.VariantID]
		switch {
		case !ok || !variant.IsActive:
			corrections = append(corrections, Correction{
				VariantID:        item.VariantID,
				SKU:              variant.SKU,
				Kind:             CorrectionRemovedUnavailable,
				PreviousQuantity: item.Quantity,
			})
			if _, err := repo.DeleteItem(ctx, cart.ID, item.VariantID); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "drop cart line")
			}
			continue
		case variant.Sellable() <= 0:
			corrections = append(corrections, Correction{
				VariantID:        item.VariantID,
				SKU:              variant.SKU,
				Kind:             CorrectionRemovedOutOfStock,
				PreviousQuantity: item.Quantity,
			})
			if _, err := repo.DeleteItem(ctx, cart.ID, item.VariantID); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "drop cart line")
			}
			continue
		}

		changed := false
		if item.Quantity > variant.Sellable() {
			corrections = append(corrections, Correction{
				VariantID:        item.VariantID,
				SKU:              variant.SKU,
				Kind:             CorrectionQuantityReduced,
				PreviousQuantity: item.Quantity,
				Quantity:         variant.Sellable(),
			})
			item.Quantity = variant.Sellable()
			changed = true
		}
		if item.UnitPriceCents != variant.PriceCents {
			corrections = append(corrections, Correction{
				VariantID:          item.VariantID,
				SKU:                variant.SKU,
				Kind:               CorrectionPriceChanged,
				PreviousQuantity:   item.Quantity,
				Quantity:           item.Quantity,
				PreviousPriceCents: item.UnitPriceCents,
				PriceCents:         variant.PriceCents,
			})
			item.UnitPriceCents = variant.PriceCents
			changed = true
		}
		if changed {
			if err := repo.SaveItem(ctx, &item); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update cart line")
			}
		}
		kept = append(kept, item)
	}
	cart.Items = kept
	return corrections, nil
}

// ValidateCheckout is the strict gate before order creation. Any line that is
// inactive or short on stock fails the whole cart with OUT_OF_STOCK.
func (v *Validator) ValidateCheckout(ctx context.Context, tx *gorm.DB, cart *models.Cart) ([]CheckoutLine, error) {
	if cart == nil || len(cart.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	variants, err := v.variants.Availability(ctx, tx, variantIDs(cart.Items))
	if err != nil {
		return nil, err
	}

	lines := make([]CheckoutLine, 0, len(cart.Items))
	var missing []inventory.Unavailable
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart line quantity must be positive")
		}
		variant, ok := variants[item.VariantID]
		if !ok || !variant.IsActive || variant.Sellable() < item.Quantity {
			available := 0
			if ok && variant.IsActive && variant.Sellable() > 0 {
				available = variant.Sellable()
			}
			missing = append(missing, inventory.Unavailable{
				VariantID: item.VariantID,
				SKU:       variant.SKU,
				Requested: item.Quantity,
				Available: available,
			})
			continue
		}
		lines = append(lines, CheckoutLine{
			Variant:        variant,
			Quantity:       item.Quantity,
			UnitPriceCents: variant.PriceCents,
			SubtotalCents:  variant.PriceCents * int64(item.Quantity),
		})
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeOutOfStock, "some items are no longer available").WithDetails(missing)
	}
	return lines, nil
}

func variantIDs(items []models.CartItem) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.VariantID)
	}
	return ids
}
