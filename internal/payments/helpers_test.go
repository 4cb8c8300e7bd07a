package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/idempotency"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

const testSecret = "whsec_test"

type memoryStore struct {
	data map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return v, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.data[key]
	return ok, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "sf:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type noGateway struct{}

func (noGateway) Initialize(context.Context, gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	return nil, errors.New("not used")
}

func (noGateway) Refund(context.Context, gateway.RefundRequest) (*gateway.RefundResult, error) {
	return nil, errors.New("not used")
}

type stubVerifier struct {
	txn   *gateway.Transaction
	err   error
	calls int
}

func (s *stubVerifier) Verify(_ context.Context, reference string) (*gateway.Transaction, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	txn := *s.txn
	txn.Reference = reference
	return &txn, nil
}

type env struct {
	client *db.Client
	conn   *gorm.DB
	orders orders.Service
	store  *memoryStore
	cache  *idempotency.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	client, conn := dbtest.Client(t)
	svc, err := orders.NewService(orders.ServiceParams{
		Repo:    orders.NewRepository(conn),
		Tx:      client,
		Ledger:  inventory.NewLedger(),
		Outbox:  outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Gateway: noGateway{},
	})
	require.NoError(t, err)
	store := &memoryStore{data: map[string]string{}}
	cache, err := idempotency.NewManager(store, time.Hour)
	require.NoError(t, err)
	return &env{client: client, conn: conn, orders: svc, store: store, cache: cache}
}

func (e *env) ingestor(t *testing.T) *Ingestor {
	t.Helper()
	ing, err := NewIngestor(IngestorParams{
		Repo:   NewRepository(e.conn),
		Tx:     e.client,
		Orders: e.orders,
		Cache:  e.cache,
		Secret: testSecret,
	})
	require.NoError(t, err)
	return ing
}

// seedOrder creates a pending order holding a reservation of qty units.
func (e *env) seedOrder(t *testing.T, qty, stock int, createdAt time.Time) (*models.Order, models.Variant) {
	t.Helper()
	variant := dbtest.SeedVariant(t, e.conn, "SKU-"+uuid.NewString()[:8], 1500, stock)
	number, err := orders.NewOrderNumber(createdAt)
	require.NoError(t, err)
	total := int64(qty) * 1500
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
			UnitPriceCents:      1500,
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

func (e *env) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, e.conn.First(&o, "id = ?", id).Error)
	return o
}

func (e *env) variant(t *testing.T, id uuid.UUID) models.Variant {
	t.Helper()
	var v models.Variant
	require.NoError(t, e.conn.First(&v, "id = ?", id).Error)
	return v
}

func chargeBody(event, reference string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"data":{"reference":%q,"status":"success","amount":%d,"currency":"NGN"}}`, event, reference, amount))
}

func (e *env) now() time.Time {
	return time.Now().UTC()
}
