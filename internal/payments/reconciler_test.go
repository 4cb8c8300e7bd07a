package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

func TestVerifyAndApplySuccess(t *testing.T) {
	e := newEnv(t)
	order, variant := e.seedOrder(t, 2, 6, e.now())
	verifier := &stubVerifier{txn: &gateway.Transaction{Status: gateway.StatusSuccess, AmountMinor: order.TotalCents}}
	r, err := NewReconciler(e.client, verifier, e.orders, logger.Nop())
	require.NoError(t, err)

	v, err := r.VerifyAndApply(context.Background(), order.GatewayReference, enums.PaymentSourceReconcile)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeSuccess, v.Outcome)
	require.NotNil(t, v.Result)
	assert.True(t, v.Result.Applied())
	assert.Equal(t, enums.PaymentStatusPaid, e.order(t, order.ID).PaymentStatus)
	assert.Equal(t, 4, e.variant(t, variant.ID).Stock)

	// a webhook arriving afterwards is a no-op
	again, err := r.VerifyAndApply(context.Background(), order.GatewayReference, enums.PaymentSourceReconcile)
	require.NoError(t, err)
	assert.False(t, again.Result.Applied())
	assert.Equal(t, 4, e.variant(t, variant.ID).Stock)
}

func TestVerifyAndApplyPendingAndNotFound(t *testing.T) {
	e := newEnv(t)
	order, variant := e.seedOrder(t, 1, 3, e.now())

	verifier := &stubVerifier{txn: &gateway.Transaction{Status: gateway.StatusAbandoned}}
	r, err := NewReconciler(e.client, verifier, e.orders, nil)
	require.NoError(t, err)
	v, err := r.VerifyAndApply(context.Background(), order.GatewayReference, enums.PaymentSourceManual)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomePending, v.Outcome)
	assert.Nil(t, v.Result)

	verifier.err = gateway.ErrTransactionNotFound
	v, err = r.VerifyAndApply(context.Background(), order.GatewayReference, enums.PaymentSourceManual)
	require.NoError(t, err)
	assert.Equal(t, "not_found", v.GatewayStatus)

	verifier.err = pkgerrors.New(pkgerrors.CodeGateway, "breaker open")
	_, err = r.VerifyAndApply(context.Background(), order.GatewayReference, enums.PaymentSourceManual)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	assert.Equal(t, enums.PaymentStatusPending, e.order(t, order.ID).PaymentStatus)
	assert.Equal(t, 1, e.variant(t, variant.ID).Reserved)
}

func TestVerifyAndApplyFailure(t *testing.T) {
	e := newEnv(t)
	order, variant := e.seedOrder(t, 2, 6, e.now())
	verifier := &stubVerifier{txn: &gateway.Transaction{Status: gateway.StatusFailed}}
	r, err := NewReconciler(e.client, verifier, e.orders, nil)
	require.NoError(t, err)

	v, err := r.VerifyAndApply(context.Background(), order.GatewayReference, enums.PaymentSourceReconcile)
	require.NoError(t, err)
	assert.True(t, v.Result.Applied())
	assert.Equal(t, enums.PaymentStatusFailed, e.order(t, order.ID).PaymentStatus)
	assert.Equal(t, 0, e.variant(t, variant.ID).Reserved)
}
