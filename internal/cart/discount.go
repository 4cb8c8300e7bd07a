package cart

import "context"

// DiscountEvaluator prices a discount code against validated lines. It must
// not have side effects; redemption bookkeeping belongs to the caller.
type DiscountEvaluator interface {
	Evaluate(ctx context.Context, code string, lines []CheckoutLine, subtotalCents int64) (int64, error)
}

// NoDiscount applies nothing. Used until a promotions service is wired.
type NoDiscount struct{}

func (NoDiscount) Evaluate(context.Context, string, []CheckoutLine, int64) (int64, error) {
	return 0, nil
}
