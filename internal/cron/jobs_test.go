package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type unusedGateway struct{}

func (unusedGateway) Initialize(context.Context, gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	return nil, errors.New("unused")
}

func (unusedGateway) Refund(context.Context, gateway.RefundRequest) (*gateway.RefundResult, error) {
	return nil, errors.New("unused")
}

// scriptedVerifier answers Verify per reference; unknown references are not found.
type scriptedVerifier struct {
	statuses map[string]string
	amounts  map[string]int64
	errs     map[string]error
	calls    int
}

func (s *scriptedVerifier) Verify(_ context.Context, reference string) (*gateway.Transaction, error) {
	s.calls++
	if err := s.errs[reference]; err != nil {
		return nil, err
	}
	status, ok := s.statuses[reference]
	if !ok {
		return nil, gateway.ErrTransactionNotFound
	}
	return &gateway.Transaction{Reference: reference, Status: status, AmountMinor: s.amounts[reference]}, nil
}

type jobEnv struct {
	client   *db.Client
	conn     *gorm.DB
	repo     orders.Repository
	orders   orders.Service
	verifier *scriptedVerifier
	recon    *payments.Reconciler
	now      time.Time
}

func newJobEnv(t *testing.T) *jobEnv {
	t.Helper()
	client, conn := dbtest.Client(t)
	repo := orders.NewRepository(conn)
	svc, err := orders.NewService(orders.ServiceParams{
		Repo:    repo,
		Tx:      client,
		Ledger:  inventory.NewLedger(),
		Outbox:  outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Gateway: unusedGateway{},
	})
	require.NoError(t, err)
	verifier := &scriptedVerifier{statuses: map[string]string{}, amounts: map[string]int64{}, errs: map[string]error{}}
	recon, err := payments.NewReconciler(client, verifier, svc, logger.Nop())
	require.NoError(t, err)
	return &jobEnv{
		client:   client,
		conn:     conn,
		repo:     repo,
		orders:   svc,
		verifier: verifier,
		recon:    recon,
		now:      time.Now().UTC(),
	}
}

func (e *jobEnv) seedOrder(t *testing.T, age time.Duration, qty int) (*models.Order, models.Variant) {
	t.Helper()
	createdAt := e.now.Add(-age)
	variant := dbtest.SeedVariant(t, e.conn, "SKU-"+uuid.NewString()[:8], 1000, 10)
	number, err := orders.NewOrderNumber(createdAt)
	require.NoError(t, err)
	total := int64(qty) * 1000
	order := &models.Order{
		OrderNumber:      number,
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.PaymentStatusPending,
		GatewayReference: orders.NewGatewayReference(),
		Currency:         "NGN",
		SubtotalCents:    total,
		TotalCents:       total,
		CustomerEmail:    "buyer@example.com",
		CustomerPhone:    "+2348000000000",
		ShippingAddress:  types.Address{FullName: "Ada", Line1: "1 Road", City: "Lagos", State: "LA", Country: "NG"},
		CreatedAt:        createdAt,
		Items: []models.OrderItem{{
			VariantID:           variant.ID,
			ProductNameSnapshot: variant.DisplayName(),
			SKUSnapshot:         variant.SKU,
			Quantity:            qty,
			UnitPriceCents:      1000,
			SubtotalCents:       total,
		}},
	}
	require.NoError(t, e.conn.Create(order).Error)
	id := order.ID
	require.NoError(t, e.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return inventory.NewLedger().ReserveAll(context.Background(), tx,
			[]inventory.Line{{VariantID: variant.ID, Quantity: qty}},
			inventory.Ref{OrderID: &id, Note: "checkout"})
	}))
	return order, variant
}

func (e *jobEnv) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, e.conn.First(&o, "id = ?", id).Error)
	return o
}

func (e *jobEnv) variant(t *testing.T, id uuid.UUID) models.Variant {
	t.Helper()
	var v models.Variant
	require.NoError(t, e.conn.First(&v, "id = ?", id).Error)
	return v
}

func (e *jobEnv) expiryJob(t *testing.T) *orderExpiryJob {
	t.Helper()
	job, err := NewOrderExpiryJob(OrderExpiryJobParams{
		Logger:   logger.Nop(),
		DB:       e.client,
		Repo:     e.repo,
		Orders:   e.orders,
		Verifier: e.recon,
	})
	require.NoError(t, err)
	j := job.(*orderExpiryJob)
	j.now = func() time.Time { return e.now }
	return j
}

func (e *jobEnv) reconcileJob(t *testing.T) *paymentReconcileJob {
	t.Helper()
	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:   logger.Nop(),
		Orders:   e.repo,
		Verifier: e.recon,
	})
	require.NoError(t, err)
	j := job.(*paymentReconcileJob)
	j.now = func() time.Time { return e.now }
	return j
}

// An order nobody paid for is cancelled after 35 minutes and its stock returns to sale.
func TestOrderExpiryCancelsStaleUnpaidOrder(t *testing.T) {
	e := newJobEnv(t)
	stale, variant := e.seedOrder(t, 35*time.Minute, 2)
	fresh, freshVariant := e.seedOrder(t, 5*time.Minute, 1)
	require.Equal(t, 2, e.variant(t, variant.ID).Reserved)

	require.NoError(t, e.expiryJob(t).Run(context.Background()))

	stored := e.order(t, stale.ID)
	assert.Equal(t, enums.OrderStatusCancelled, stored.Status)
	assert.NotNil(t, stored.CancelledAt)
	v := e.variant(t, variant.ID)
	assert.Equal(t, 10, v.Stock)
	assert.Equal(t, 0, v.Reserved)

	var events []models.OutboxEvent
	require.NoError(t, e.conn.Where("aggregate_id = ?", stale.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderExpired, events[0].EventType)

	assert.Equal(t, enums.OrderStatusPending, e.order(t, fresh.ID).Status)
	assert.Equal(t, 1, e.variant(t, freshVariant.ID).Reserved)

	// running again changes nothing
	require.NoError(t, e.expiryJob(t).Run(context.Background()))
	assert.Equal(t, 0, e.variant(t, variant.ID).Reserved)
	assert.Equal(t, 10, e.variant(t, variant.ID).Stock)
}

func TestOrderExpiryLetsLatePaymentWin(t *testing.T) {
	e := newJobEnv(t)
	order, variant := e.seedOrder(t, 40*time.Minute, 3)
	e.verifier.statuses[order.GatewayReference] = gateway.StatusSuccess

	require.NoError(t, e.expiryJob(t).Run(context.Background()))

	stored := e.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusProcessing, stored.Status)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	v := e.variant(t, variant.ID)
	assert.Equal(t, 7, v.Stock)
	assert.Equal(t, 0, v.Reserved)
}

func TestOrderExpiryCancelsConfirmedChargeWithWrongAmount(t *testing.T) {
	e := newJobEnv(t)
	order, variant := e.seedOrder(t, 3*time.Hour, 2)
	e.verifier.statuses[order.GatewayReference] = gateway.StatusSuccess
	e.verifier.amounts[order.GatewayReference] = 1

	for i := 0; i < 3; i++ {
		require.NoError(t, e.expiryJob(t).Run(context.Background()))
	}

	stored := e.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusCancelled, stored.Status)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
	v := e.variant(t, variant.ID)
	assert.Equal(t, 10, v.Stock)
	assert.Equal(t, 0, v.Reserved)

	var count int64
	require.NoError(t, e.conn.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", order.ID, enums.EventOrderExpired).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOrderExpirySkipsWhenGatewayUnreachable(t *testing.T) {
	e := newJobEnv(t)
	order, variant := e.seedOrder(t, 40*time.Minute, 1)
	e.verifier.errs[order.GatewayReference] = pkgerrors.New(pkgerrors.CodeGateway, "circuit open")

	require.NoError(t, e.expiryJob(t).Run(context.Background()))
	assert.Equal(t, enums.OrderStatusPending, e.order(t, order.ID).Status)
	assert.Equal(t, 1, e.variant(t, variant.ID).Reserved)
}

func TestOrderExpiryCancelsFailedPaymentWithoutVerify(t *testing.T) {
	e := newJobEnv(t)
	order, variant := e.seedOrder(t, 45*time.Minute, 2)
	e.verifier.statuses[order.GatewayReference] = gateway.StatusFailed
	v, err := e.recon.VerifyAndApply(context.Background(), order.GatewayReference, enums.PaymentSourceManual)
	require.NoError(t, err)
	require.True(t, v.Result.Applied())
	calls := e.verifier.calls

	require.NoError(t, e.expiryJob(t).Run(context.Background()))
	stored := e.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusCancelled, stored.Status)
	assert.Equal(t, enums.PaymentStatusFailed, stored.PaymentStatus)
	assert.Equal(t, calls, e.verifier.calls)
	assert.Equal(t, 0, e.variant(t, variant.ID).Reserved)
	assert.Equal(t, 10, e.variant(t, variant.ID).Stock)
}

func TestPaymentReconcileAppliesDroppedWebhook(t *testing.T) {
	e := newJobEnv(t)
	paid, paidVariant := e.seedOrder(t, 12*time.Minute, 2)
	failed, failedVariant := e.seedOrder(t, 12*time.Minute, 1)
	inFlight, _ := e.seedOrder(t, 2*time.Minute, 1)
	broken, _ := e.seedOrder(t, 15*time.Minute, 1)
	e.verifier.statuses[paid.GatewayReference] = gateway.StatusSuccess
	e.verifier.statuses[failed.GatewayReference] = gateway.StatusFailed
	e.verifier.statuses[inFlight.GatewayReference] = gateway.StatusSuccess
	e.verifier.errs[broken.GatewayReference] = pkgerrors.New(pkgerrors.CodeGateway, "timeout")

	err := e.reconcileJob(t).Run(context.Background())
	require.Error(t, err, "gateway errors are aggregated")
	assert.Contains(t, err.Error(), broken.OrderNumber)

	assert.Equal(t, enums.PaymentStatusPaid, e.order(t, paid.ID).PaymentStatus)
	assert.Equal(t, 8, e.variant(t, paidVariant.ID).Stock)
	assert.Equal(t, enums.PaymentStatusFailed, e.order(t, failed.ID).PaymentStatus)
	assert.Equal(t, 0, e.variant(t, failedVariant.ID).Reserved)
	assert.Equal(t, enums.PaymentStatusPending, e.order(t, inFlight.ID).PaymentStatus, "inside the grace window")
	assert.Equal(t, enums.PaymentStatusPending, e.order(t, broken.ID).PaymentStatus)
}

func TestPaymentReconcilePagesPastStillPendingOrders(t *testing.T) {
	e := newJobEnv(t)
	var stuck []*models.Order
	for i := 0; i < 4; i++ {
		o, _ := e.seedOrder(t, time.Duration(60-i)*time.Minute, 1)
		stuck = append(stuck, o)
	}
	newest, variant := e.seedOrder(t, 20*time.Minute, 1)
	e.verifier.statuses[newest.GatewayReference] = gateway.StatusSuccess

	job := e.reconcileJob(t)
	job.batchSize = 2
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, enums.PaymentStatusPaid, e.order(t, newest.ID).PaymentStatus)
	assert.Equal(t, 9, e.variant(t, variant.ID).Stock)
	for _, o := range stuck {
		assert.Equal(t, enums.PaymentStatusPending, e.order(t, o.ID).PaymentStatus)
	}
	assert.Equal(t, 5, e.verifier.calls, "each order verified once")
}
