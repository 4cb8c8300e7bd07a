package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type fakeGateway struct {
	mu       sync.Mutex
	err      error
	requests []gateway.InitializeRequest
}

func (f *fakeGateway) Initialize(_ context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.InitializeResult{
		Reference:        req.Reference,
		AuthorizationURL: "https://pay.example.test/" + req.Reference,
	}, nil
}

type fixedDiscount int64

func (d fixedDiscount) Evaluate(context.Context, string, []cart.CheckoutLine, int64) (int64, error) {
	return int64(d), nil
}

type stack struct {
	checkout Service
	carts    cart.Service
	conn     *gorm.DB
	gateway  *fakeGateway
}

func newStack(t *testing.T, pricing config.CheckoutConfig, discounts cart.DiscountEvaluator) *stack {
	t.Helper()
	client, conn := dbtest.Client(t)
	events := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	invSvc, err := inventory.NewService(conn, client, events)
	require.NoError(t, err)
	cartRepo := cart.NewRepository(conn)
	validator, err := cart.NewValidator(cartRepo, invSvc)
	require.NoError(t, err)
	carts, err := cart.NewService(cartRepo, client, invSvc, validator)
	require.NoError(t, err)
	gw := &fakeGateway{}

	svc, err := NewService(ServiceParams{
		Tx:        client,
		Carts:     carts,
		Validator: validator,
		Ledger:    inventory.NewLedger(),
		Orders:    orders.NewRepository(conn),
		Gateway:   gw,
		Outbox:    events,
		Discounts: discounts,
		Pricing:   pricing,
		Payments:  config.GatewayConfig{Currency: "ngn", CallbackURL: "https://shop.example.test/return"},
	})
	require.NoError(t, err)
	return &stack{checkout: svc, carts: carts, conn: conn, gateway: gw}
}

func validInput() Input {
	return Input{
		ShippingAddress: types.Address{
			FullName: " Ada Obi ",
			Line1:    "12 Marina Rd",
			City:     "Lagos",
			State:    "LA",
			Country:  "ng",
		},
		CustomerEmail: " Ada@Example.com ",
		CustomerPhone: "+2348000000000",
	}
}

func TestCreateReservesStockAndPersistsOrder(t *testing.T) {
	s := newStack(t, config.CheckoutConfig{TaxBasisPoints: 750, ShippingFlatCents: 1500}, fixedDiscount(1000))
	ctx := context.Background()
	variant := dbtest.SeedVariant(t, s.conn, "TEE-L", 10000, 5)
	userID := uuid.New()
	owner := cart.Owner{UserID: &userID}
	_, err := s.carts.AddItem(ctx, owner, variant.ID, 3)
	require.NoError(t, err)

	code := "WELCOME"
	input := validInput()
	input.DiscountCode = &code
	res, err := s.checkout.Create(ctx, owner, input)
	require.NoError(t, err)

	// subtotal 30000, discount 1000, tax 7.5% of 29000 = 2175, shipping 1500
	assert.Equal(t, int64(29000+2175+1500), res.TotalCents)
	assert.Equal(t, "NGN", res.Currency)
	assert.Regexp(t, `^ORD-\d{8}-[A-Z2-9]{6}$`, res.OrderNumber)
	assert.Equal(t, "https://pay.example.test/"+res.GatewayReference, res.GatewayRedirectURL)

	require.Len(t, s.gateway.requests, 1)
	assert.Equal(t, res.TotalCents, s.gateway.requests[0].AmountMinor)
	assert.Equal(t, "ada@example.com", s.gateway.requests[0].Email)

	var order models.Order
	require.NoError(t, s.conn.Preload("Items").First(&order, "order_number = ?", res.OrderNumber).Error)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, "NG", order.ShippingAddress.Country)
	require.NotNil(t, order.DiscountCode)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "TEE-L", order.Items[0].SKUSnapshot)
	assert.Equal(t, int64(30000), order.Items[0].SubtotalCents)

	var v models.Variant
	require.NoError(t, s.conn.First(&v, "id = ?", variant.ID).Error)
	assert.Equal(t, 3, v.Reserved)

	view, err := s.carts.Get(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	var events []models.OutboxEvent
	require.NoError(t, s.conn.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderCreated, events[0].EventType)
}

func TestCreateRollsBackOnGatewayFailure(t *testing.T) {
	s := newStack(t, config.CheckoutConfig{}, nil)
	s.gateway.err = pkgerrors.Wrap(pkgerrors.CodeGateway, errors.New("connection refused"), "initialize transaction")
	ctx := context.Background()
	variant := dbtest.SeedVariant(t, s.conn, "MUG", 2000, 4)
	view, err := s.carts.AddItem(ctx, cart.Owner{}, variant.ID, 2)
	require.NoError(t, err)
	guest := cart.Owner{SessionToken: view.SessionToken}

	_, err = s.checkout.Create(ctx, guest, validInput())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway), "got %v", err)

	var orderCount, movementCount, eventCount int64
	require.NoError(t, s.conn.Model(&models.Order{}).Count(&orderCount).Error)
	require.NoError(t, s.conn.Model(&models.StockMovement{}).Count(&movementCount).Error)
	require.NoError(t, s.conn.Model(&models.OutboxEvent{}).Count(&eventCount).Error)
	assert.Zero(t, orderCount)
	assert.Zero(t, movementCount)
	assert.Zero(t, eventCount)

	var v models.Variant
	require.NoError(t, s.conn.First(&v, "id = ?", variant.ID).Error)
	assert.Equal(t, 0, v.Reserved)

	view, err = s.carts.Get(ctx, guest)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1, "cart survives a failed checkout")
}

// Two shoppers want 3 of the last 5 units: the second checkout is refused.
func TestSecondCheckoutForSameStockIsOutOfStock(t *testing.T) {
	s := newStack(t, config.CheckoutConfig{}, nil)
	ctx := context.Background()
	variant := dbtest.SeedVariant(t, s.conn, "LIMITED", 5000, 5)

	first, err := s.carts.AddItem(ctx, cart.Owner{}, variant.ID, 3)
	require.NoError(t, err)
	second, err := s.carts.AddItem(ctx, cart.Owner{}, variant.ID, 3)
	require.NoError(t, err)

	_, err = s.checkout.Create(ctx, cart.Owner{SessionToken: first.SessionToken}, validInput())
	require.NoError(t, err)
	_, err = s.checkout.Create(ctx, cart.Owner{SessionToken: second.SessionToken}, validInput())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock), "got %v", err)

	var v models.Variant
	require.NoError(t, s.conn.First(&v, "id = ?", variant.ID).Error)
	assert.Equal(t, 3, v.Reserved)
	assert.Len(t, s.gateway.requests, 1)
}

// Shoppers check out in parallel for more than the shelf holds: one order is
// created and the rest are refused. Transactions queue on the single sqlite
// connection, so this checks the outcome, not postgres lock behavior.
func TestParallelCheckoutsCreateExactlyOneOrder(t *testing.T) {
	s := newStack(t, config.CheckoutConfig{}, nil)
	ctx := context.Background()
	variant := dbtest.SeedVariant(t, s.conn, "LAST-FIVE", 5000, 5)

	const shoppers = 4
	owners := make([]cart.Owner, 0, shoppers)
	for i := 0; i < shoppers; i++ {
		view, err := s.carts.AddItem(ctx, cart.Owner{}, variant.ID, 3)
		require.NoError(t, err)
		owners = append(owners, cart.Owner{SessionToken: view.SessionToken})
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		outOfStock int
	)
	for _, owner := range owners {
		wg.Add(1)
		go func(owner cart.Owner) {
			defer wg.Done()
			_, err := s.checkout.Create(ctx, owner, validInput())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock):
				outOfStock++
			default:
				t.Errorf("unexpected checkout error: %v", err)
			}
		}(owner)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, shoppers-1, outOfStock)
	var orderCount int64
	require.NoError(t, s.conn.Model(&models.Order{}).Count(&orderCount).Error)
	assert.Equal(t, int64(1), orderCount)
	var v models.Variant
	require.NoError(t, s.conn.First(&v, "id = ?", variant.ID).Error)
	assert.Equal(t, 3, v.Reserved)
	assert.Equal(t, 5, v.Stock)
}

func TestCreateRequiresCartAndContact(t *testing.T) {
	s := newStack(t, config.CheckoutConfig{}, nil)
	userID := uuid.New()

	_, err := s.checkout.Create(context.Background(), cart.Owner{UserID: &userID}, validInput())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	input := validInput()
	input.CustomerPhone = " "
	_, err = s.checkout.Create(context.Background(), cart.Owner{UserID: &userID}, input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
