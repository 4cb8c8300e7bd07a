package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type fakeGateway struct {
	initErr   error
	refundErr error
	inits     []gateway.InitializeRequest
	refunds   []gateway.RefundRequest
}

func (f *fakeGateway) Initialize(_ context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	f.inits = append(f.inits, req)
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &gateway.InitializeResult{Reference: req.Reference, AuthorizationURL: "https://pay.example.test/" + req.Reference}, nil
}

func (f *fakeGateway) Refund(_ context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	f.refunds = append(f.refunds, req)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &gateway.RefundResult{ID: "rf_1", Status: "processed", AmountMinor: req.AmountMinor}, nil
}

type fixture struct {
	svc     Service
	client  *db.Client
	conn    *gorm.DB
	gateway *fakeGateway
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	gw := &fakeGateway{}
	svc, err := NewService(ServiceParams{
		Repo:    NewRepository(conn),
		Tx:      client,
		Ledger:  inventory.NewLedger(),
		Outbox:  outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Gateway: gw,
	})
	require.NoError(t, err)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	svc.(*service).now = func() time.Time { return now }
	return &fixture{svc: svc, client: client, conn: conn, gateway: gw, now: now}
}

type seedOpts struct {
	userID   *uuid.UUID
	email    string
	quantity int
	stock    int
	price    int64
}

// seedOrder inserts a pending order for one variant and reserves its stock
// the way checkout does.
func (f *fixture) seedOrder(t *testing.T, opts seedOpts) (*models.Order, models.Variant) {
	t.Helper()
	if opts.quantity == 0 {
		opts.quantity = 2
	}
	if opts.stock == 0 {
		opts.stock = 10
	}
	if opts.price == 0 {
		opts.price = 2500
	}
	if opts.email == "" {
		opts.email = "buyer@example.com"
	}
	variant := dbtest.SeedVariant(t, f.conn, "SKU-"+uuid.NewString()[:8], opts.price, opts.stock)
	number, err := NewOrderNumber(f.now)
	require.NoError(t, err)
	total := opts.price * int64(opts.quantity)
	order := &models.Order{
		OrderNumber:      number,
		UserID:           opts.userID,
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.PaymentStatusPending,
		GatewayReference: NewGatewayReference(),
		Currency:         "NGN",
		SubtotalCents:    total,
		TotalCents:       total,
		CustomerEmail:    opts.email,
		CustomerPhone:    "+2348000000000",
		ShippingAddress:  types.Address{FullName: "Ada", Line1: "1 Road", City: "Lagos", State: "LA", Country: "NG"},
		Items: []models.OrderItem{{
			VariantID:           variant.ID,
			ProductNameSnapshot: variant.DisplayName(),
			SKUSnapshot:         variant.SKU,
			Quantity:            opts.quantity,
			UnitPriceCents:      opts.price,
			SubtotalCents:       total,
		}},
	}
	require.NoError(t, f.conn.Create(order).Error)
	id := order.ID
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return inventory.NewLedger().ReserveAll(context.Background(), tx,
			[]inventory.Line{{VariantID: variant.ID, Quantity: opts.quantity}},
			inventory.Ref{OrderID: &id, Note: "checkout"})
	}))
	return order, variant
}

func (f *fixture) pay(t *testing.T, order *models.Order) {
	t.Helper()
	f.applyOutcome(t, order.GatewayReference, enums.PaymentOutcomeSuccess, order.TotalCents)
}

func (f *fixture) applyOutcome(t *testing.T, reference string, outcome enums.PaymentOutcome, amount int64) *PaymentResult {
	t.Helper()
	var result *PaymentResult
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		result, err = f.svc.ApplyPaymentOutcome(context.Background(), tx, PaymentOutcomeInput{
			Reference:   reference,
			Outcome:     outcome,
			AmountMinor: amount,
			Source:      enums.PaymentSourceWebhook,
		})
		return err
	}))
	return result
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, f.conn.First(&order, "id = ?", id).Error)
	return order
}

func (f *fixture) variant(t *testing.T, id uuid.UUID) models.Variant {
	t.Helper()
	var v models.Variant
	require.NoError(t, f.conn.First(&v, "id = ?", id).Error)
	return v
}

func (f *fixture) eventTypes(t *testing.T, aggregateID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.conn.Where("aggregate_id = ?", aggregateID).Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func admin() Actor {
	id := uuid.New()
	return Actor{UserID: &id, Role: enums.RoleAdmin}
}

var errGatewayDown = errors.New("gateway down")
