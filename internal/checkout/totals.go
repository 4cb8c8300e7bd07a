package checkout

import (
	"context"
	"strings"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Totals is the priced breakdown of an order, all in minor units.
type Totals struct {
	Subtotal int64
	Discount int64
	Tax      int64
	Shipping int64
	Total    int64
}

func (s *service) price(ctx context.Context, input Input, lines []cart.CheckoutLine) (Totals, error) {
	var t Totals
	for _, line := range lines {
		t.Subtotal += line.SubtotalCents
	}
	if input.DiscountCode != nil && strings.TrimSpace(*input.DiscountCode) != "" {
		discount, err := s.discounts.Evaluate(ctx, strings.TrimSpace(*input.DiscountCode), lines, t.Subtotal)
		if err != nil {
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeValidation, err, "discount code rejected")
			}
			return Totals{}, err
		}
		t.Discount = clamp(discount, 0, t.Subtotal)
	}
	taxable := t.Subtotal - t.Discount
	t.Tax = types.ApplyBasisPoints(taxable, s.pricing.TaxBasisPoints)
	if s.pricing.ShippingFlatCents > 0 {
		t.Shipping = s.pricing.ShippingFlatCents
	}
	t.Total = taxable + t.Tax + t.Shipping
	if t.Total <= 0 {
		return Totals{}, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}
	return t, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
