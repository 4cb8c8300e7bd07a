package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func TestLookupAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	mine, _ := f.seedOrder(t, seedOpts{userID: &owner})
	guest, _ := f.seedOrder(t, seedOpts{email: "guest@example.com"})

	_, err := f.svc.Lookup(ctx, mine.OrderNumber, Actor{UserID: &owner, Role: enums.RoleCustomer})
	assert.NoError(t, err)

	stranger := uuid.New()
	_, err = f.svc.Lookup(ctx, mine.OrderNumber, Actor{UserID: &stranger, Role: enums.RoleCustomer})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	// email alone never opens an account order
	_, err = f.svc.Lookup(ctx, mine.OrderNumber, Actor{Email: "buyer@example.com"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Lookup(ctx, guest.OrderNumber, Actor{Email: " GUEST@example.com"})
	assert.NoError(t, err)
	_, err = f.svc.Lookup(ctx, guest.OrderNumber, Actor{Email: "other@example.com"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Lookup(ctx, guest.OrderNumber, admin())
	assert.NoError(t, err)

	_, err = f.svc.Lookup(ctx, "ORD-20260314-ZZZZZZ", admin())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCancelReleasesStock(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	order, variant := f.seedOrder(t, seedOpts{userID: &owner, quantity: 4})

	cancelled, err := f.svc.Cancel(context.Background(), order.OrderNumber, Actor{UserID: &owner, Role: enums.RoleCustomer}, "")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "cancelled by customer", *cancelled.CancelReason)

	assert.Equal(t, 0, f.variant(t, variant.ID).Reserved)
	assert.Contains(t, f.eventTypes(t, order.ID), enums.EventOrderCancelled)

	_, err = f.svc.Cancel(context.Background(), order.OrderNumber, Actor{UserID: &owner, Role: enums.RoleCustomer}, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestCancelAfterFailedPaymentDoesNotReleaseTwice(t *testing.T) {
	f := newFixture(t)
	order, variant := f.seedOrder(t, seedOpts{quantity: 2})
	f.applyOutcome(t, order.GatewayReference, enums.PaymentOutcomeFailed, 0)

	cancelled, err := f.svc.Cancel(context.Background(), order.OrderNumber, admin(), "customer asked")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, cancelled.PaymentStatus)
	v := f.variant(t, variant.ID)
	assert.Equal(t, 10, v.Stock)
	assert.Equal(t, 0, v.Reserved)
}

func TestCancelPaidOrderConflicts(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t, seedOpts{})
	f.pay(t, order)

	_, err := f.svc.Cancel(context.Background(), order.OrderNumber, admin(), "")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, enums.OrderStatusProcessing, details["status"])
}

func TestRefundOnlyOnce(t *testing.T) {
	f := newFixture(t)
	order, variant := f.seedOrder(t, seedOpts{quantity: 2, stock: 10})
	f.pay(t, order)
	require.Equal(t, 8, f.variant(t, variant.ID).Stock)

	refunded, err := f.svc.Refund(context.Background(), order.OrderNumber, 0, admin())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, refunded.Status)
	assert.Equal(t, enums.PaymentStatusRefunded, refunded.PaymentStatus)
	assert.Equal(t, order.TotalCents, refunded.RefundedCents)

	v := f.variant(t, variant.ID)
	assert.Equal(t, 10, v.Stock)
	assert.Equal(t, 0, v.Reserved)

	_, err = f.svc.Refund(context.Background(), order.OrderNumber, 0, admin())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Len(t, f.gateway.refunds, 1)
	assert.Equal(t, 10, f.variant(t, variant.ID).Stock)
	assert.Contains(t, f.eventTypes(t, order.ID), enums.EventOrderRefunded)
}

func TestRefundGatewayFailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t, seedOpts{})
	f.pay(t, order)
	f.gateway.refundErr = errGatewayDown

	_, err := f.svc.Refund(context.Background(), order.OrderNumber, 0, admin())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway), "got %v", err)
	stored := f.reload(t, order.ID)
	assert.Nil(t, stored.RefundRequestedAt)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)

	f.gateway.refundErr = nil
	_, err = f.svc.Refund(context.Background(), order.OrderNumber, 1000, admin())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), f.reload(t, order.ID).RefundedCents)
}

func TestRefundGuards(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	order, _ := f.seedOrder(t, seedOpts{userID: &owner})

	_, err := f.svc.Refund(context.Background(), order.OrderNumber, 0, Actor{UserID: &owner, Role: enums.RoleCustomer})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Refund(context.Background(), order.OrderNumber, 0, admin())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "unpaid order cannot be refunded")

	f.pay(t, order)
	_, err = f.svc.Refund(context.Background(), order.OrderNumber, order.TotalCents+1, admin())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, f.gateway.refunds)
}

func TestShipAndDeliver(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t, seedOpts{})
	ctx := context.Background()

	_, err := f.svc.Ship(ctx, order.OrderNumber, admin())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	f.pay(t, order)
	_, err = f.svc.Deliver(ctx, order.OrderNumber, admin())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	shipped, err := f.svc.Ship(ctx, order.OrderNumber, admin())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, shipped.Status)
	assert.NotNil(t, shipped.ShippedAt)

	delivered, err := f.svc.Deliver(ctx, order.OrderNumber, admin())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, delivered.Status)
	assert.Equal(t, enums.PaymentStatusPaid, delivered.PaymentStatus)

	_, err = f.svc.Ship(ctx, order.OrderNumber, Actor{Email: "buyer@example.com"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	types := f.eventTypes(t, order.ID)
	assert.Contains(t, types, enums.EventOrderShipped)
	assert.Contains(t, types, enums.EventOrderDelivered)
}

func TestRetryPaymentReservesAgain(t *testing.T) {
	f := newFixture(t)
	order, variant := f.seedOrder(t, seedOpts{quantity: 3})
	f.applyOutcome(t, order.GatewayReference, enums.PaymentOutcomeFailed, 0)
	require.Equal(t, 0, f.variant(t, variant.ID).Reserved)

	retried, err := f.svc.RetryPayment(context.Background(), order.OrderNumber, Actor{Email: "buyer@example.com"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, retried.PaymentStatus)
	assert.NotEqual(t, order.GatewayReference, retried.GatewayReference)
	assert.Equal(t, "https://pay.example.test/"+retried.GatewayReference, retried.GatewayRedirectURL)
	assert.Equal(t, 3, f.variant(t, variant.ID).Reserved)

	// the old reference no longer resolves
	stored := f.reload(t, order.ID)
	assert.Equal(t, retried.GatewayReference, stored.GatewayReference)

	_, err = f.svc.RetryPayment(context.Background(), order.OrderNumber, Actor{Email: "buyer@example.com"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestRetryPaymentRollsBackOnGatewayError(t *testing.T) {
	f := newFixture(t)
	order, variant := f.seedOrder(t, seedOpts{})
	f.applyOutcome(t, order.GatewayReference, enums.PaymentOutcomeFailed, 0)
	f.gateway.initErr = errGatewayDown

	_, err := f.svc.RetryPayment(context.Background(), order.OrderNumber, admin())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	stored := f.reload(t, order.ID)
	assert.Equal(t, enums.PaymentStatusFailed, stored.PaymentStatus)
	assert.Equal(t, order.GatewayReference, stored.GatewayReference)
	assert.Equal(t, 0, f.variant(t, variant.ID).Reserved)
}

func TestExpireIsNoopForPaidOrder(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t, seedOpts{})
	f.pay(t, order)
	paid := f.reload(t, order.ID)

	moved, err := f.svc.Expire(context.Background(), f.conn, &paid)
	require.NoError(t, err)
	assert.False(t, moved)
}
