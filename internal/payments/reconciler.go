package payments

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Verifier pulls the gateway's view of a charge.
type Verifier interface {
	Verify(ctx context.Context, reference string) (*gateway.Transaction, error)
}

// Verification is the result of one pull. Result is nil when the gateway
// still reports the charge as pending.
type Verification struct {
	Outcome       enums.PaymentOutcome
	GatewayStatus string
	Result        *orders.PaymentResult
}

// Reconciler is the pull path: it asks the gateway and feeds the answer
// through the same transition as the webhook.
type Reconciler struct {
	tx       txRunner
	verifier Verifier
	orders   PaymentApplier
	logg     *logger.Logger
}

func NewReconciler(tx txRunner, verifier Verifier, applier PaymentApplier, logg *logger.Logger) (*Reconciler, error) {
	if tx == nil || verifier == nil || applier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler dependencies required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Reconciler{tx: tx, verifier: verifier, orders: applier, logg: logg}, nil
}

// VerifyAndApply verifies reference and applies a terminal outcome. A
// reference the gateway has never seen counts as pending.
func (r *Reconciler) VerifyAndApply(ctx context.Context, reference string, source enums.PaymentSource) (*Verification, error) {
	txn, err := r.verifier.Verify(ctx, reference)
	if err != nil {
		if errors.Is(err, gateway.ErrTransactionNotFound) {
			return &Verification{Outcome: enums.PaymentOutcomePending, GatewayStatus: "not_found"}, nil
		}
		return nil, err
	}
	out := &Verification{Outcome: txn.Outcome(), GatewayStatus: txn.Status}
	if out.Outcome == enums.PaymentOutcomePending {
		return out, nil
	}
	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := r.orders.ApplyPaymentOutcome(ctx, tx, orders.PaymentOutcomeInput{
			Reference:   reference,
			Outcome:     out.Outcome,
			AmountMinor: txn.AmountMinor,
			Source:      source,
			PaidAt:      txn.PaidAt,
		})
		if err != nil {
			return err
		}
		out.Result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Result.Applied() {
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"gateway_reference": reference,
			"source":            source,
			"outcome":           out.Outcome,
		}), "payment reconciled")
	}
	return out, nil
}
