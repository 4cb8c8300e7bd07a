package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgdb "github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

const (
	orderNumberAttempts   = 3
	orderNumberSavepoint  = "order_number"
	orderNumberConstraint = "ux_orders_order_number"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type cartStore interface {
	Resolve(ctx context.Context, tx *gorm.DB, owner cart.Owner) (*models.Cart, error)
	Clear(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error
}

type checkoutValidator interface {
	ValidateCheckout(ctx context.Context, tx *gorm.DB, c *models.Cart) ([]cart.CheckoutLine, error)
}

type stockReserver interface {
	ReserveAll(ctx context.Context, tx *gorm.DB, lines []inventory.Line, ref inventory.Ref) error
}

type paymentInitializer interface {
	Initialize(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Input is what the shopper submits at checkout.
type Input struct {
	ShippingAddress types.Address
	BillingAddress  *types.Address
	CustomerEmail   string
	CustomerPhone   string
	Notes           *string
	DiscountCode    *string
}

// Result tells the client where to send the shopper to pay.
type Result struct {
	OrderNumber        string `json:"order_number"`
	GatewayReference   string `json:"gateway_reference"`
	GatewayRedirectURL string `json:"gateway_redirect_url"`
	TotalCents         int64  `json:"total_cents"`
	Currency           string `json:"currency"`
}

// Service turns a cart into an order.
type Service interface {
	Create(ctx context.Context, owner cart.Owner, input Input) (*Result, error)
}

// ServiceParams groups the checkout dependencies.
type ServiceParams struct {
	Tx        txRunner
	Carts     cartStore
	Validator checkoutValidator
	Ledger    stockReserver
	Orders    orders.Repository
	Gateway   paymentInitializer
	Outbox    outboxPublisher
	Discounts cart.DiscountEvaluator
	Pricing   config.CheckoutConfig
	Payments  config.GatewayConfig
	Logger    *logger.Logger
}

type service struct {
	tx        txRunner
	carts     cartStore
	validator checkoutValidator
	ledger    stockReserver
	orders    orders.Repository
	gateway   paymentInitializer
	outbox    outboxPublisher
	discounts cart.DiscountEvaluator
	pricing   config.CheckoutConfig
	payments  config.GatewayConfig
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the checkout service.
func NewService(p ServiceParams) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Carts == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if p.Validator == nil {
		return nil, fmt.Errorf("cart validator required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Discounts == nil {
		p.Discounts = cart.NoDiscount{}
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &service{
		tx:        p.Tx,
		carts:     p.Carts,
		validator: p.Validator,
		ledger:    p.Ledger,
		orders:    p.Orders,
		gateway:   p.Gateway,
		outbox:    p.Outbox,
		discounts: p.Discounts,
		pricing:   p.Pricing,
		payments:  p.Payments,
		logg:      p.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create runs the whole checkout in one transaction. Stock is reserved for
// every line or none, and the gateway reference is stored before commit, so a
// gateway failure leaves no order and no reservation behind.
func (s *service) Create(ctx context.Context, owner cart.Owner, input Input) (*Result, error) {
	input.CustomerEmail = strings.ToLower(strings.TrimSpace(input.CustomerEmail))
	input.CustomerPhone = strings.TrimSpace(input.CustomerPhone)
	if input.CustomerEmail == "" || input.CustomerPhone == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email and phone are required")
	}
	if owner.UserID == nil && strings.TrimSpace(owner.SessionToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	input.ShippingAddress = input.ShippingAddress.Normalize()
	if input.BillingAddress != nil {
		billing := input.BillingAddress.Normalize()
		input.BillingAddress = &billing
	}

	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		c, err := s.carts.Resolve(ctx, tx, owner)
		if err != nil {
			return err
		}
		if c == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}
		lines, err := s.validator.ValidateCheckout(ctx, tx, c)
		if err != nil {
			return err
		}

		order, err := s.buildOrder(ctx, owner, input, lines)
		if err != nil {
			return err
		}
		if err := s.persist(ctx, tx, order); err != nil {
			return err
		}
		orderID := order.ID
		if err := s.ledger.ReserveAll(ctx, tx, ledgerLines(lines), inventory.Ref{OrderID: &orderID, Note: "checkout"}); err != nil {
			return err
		}

		session, err := s.gateway.Initialize(ctx, gateway.InitializeRequest{
			Reference:   order.GatewayReference,
			Email:       order.CustomerEmail,
			AmountMinor: order.TotalCents,
			Currency:    order.Currency,
			CallbackURL: s.payments.CallbackURL,
			Metadata:    map[string]string{"order_number": order.OrderNumber},
		})
		if err != nil {
			s.logg.Error(s.logg.WithOrderNumber(ctx, order.OrderNumber), "gateway initialize failed, rolling back checkout", err)
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeGateway, err, "initialize payment")
			}
			return err
		}
		if err := s.orders.WithTx(tx).Update(ctx, order.ID, map[string]any{
			"gateway_redirect_url": session.AuthorizationURL,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store redirect url")
		}
		order.GatewayRedirectURL = session.AuthorizationURL

		if err := s.carts.Clear(ctx, tx, c.ID); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorFor(owner),
			Data: outbox.OrderNotification{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				CustomerEmail: order.CustomerEmail,
				Status:        order.Status,
				PaymentStatus: order.PaymentStatus,
				TotalCents:    order.TotalCents,
				Currency:      order.Currency,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue order created")
		}

		result = &Result{
			OrderNumber:        order.OrderNumber,
			GatewayReference:   order.GatewayReference,
			GatewayRedirectURL: order.GatewayRedirectURL,
			TotalCents:         order.TotalCents,
			Currency:           order.Currency,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithOrderNumber(ctx, result.OrderNumber), "order created")
	return result, nil
}

func (s *service) buildOrder(ctx context.Context, owner cart.Owner, input Input, lines []cart.CheckoutLine) (*models.Order, error) {
	totals, err := s.price(ctx, input, lines)
	if err != nil {
		return nil, err
	}
	order := &models.Order{
		ID:               uuid.New(),
		UserID:           owner.UserID,
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.PaymentStatusPending,
		GatewayReference: orders.NewGatewayReference(),
		Currency:         strings.ToUpper(s.payments.Currency),
		SubtotalCents:    totals.Subtotal,
		DiscountCents:    totals.Discount,
		TaxCents:         totals.Tax,
		ShippingCents:    totals.Shipping,
		TotalCents:       totals.Total,
		CustomerEmail:    input.CustomerEmail,
		CustomerPhone:    input.CustomerPhone,
		ShippingAddress:  input.ShippingAddress,
		BillingAddress:   input.BillingAddress,
		Notes:            trimmed(input.Notes),
		Items:            make([]models.OrderItem, 0, len(lines)),
	}
	if totals.Discount > 0 {
		order.DiscountCode = trimmed(input.DiscountCode)
	}
	for _, line := range lines {
		order.Items = append(order.Items, models.OrderItem{
			VariantID:           line.Variant.ID,
			ProductNameSnapshot: line.Variant.DisplayName(),
			SKUSnapshot:         line.Variant.SKU,
			Quantity:            line.Quantity,
			UnitPriceCents:      line.UnitPriceCents,
			SubtotalCents:       line.SubtotalCents,
		})
	}
	return order, nil
}

// persist inserts the order, drawing a new number if the random suffix collides.
func (s *service) persist(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	repo := s.orders.WithTx(tx)
	for attempt := 1; attempt <= orderNumberAttempts; attempt++ {
		number, err := orders.NewOrderNumber(s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
		}
		order.OrderNumber = number
		if err := tx.SavePoint(orderNumberSavepoint).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "savepoint")
		}
		err = repo.Create(ctx, order)
		if err == nil {
			return nil
		}
		if !pkgdb.IsUniqueViolation(err, orderNumberConstraint) || attempt == orderNumberAttempts {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}
		if rbErr := tx.RollbackTo(orderNumberSavepoint).Error; rbErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, rbErr, "rollback to savepoint")
		}
	}
	return nil
}

func ledgerLines(lines []cart.CheckoutLine) []inventory.Line {
	out := make([]inventory.Line, 0, len(lines))
	for _, line := range lines {
		out = append(out, inventory.Line{VariantID: line.Variant.ID, Quantity: line.Quantity})
	}
	return out
}

func actorFor(owner cart.Owner) *outbox.ActorRef {
	if owner.UserID == nil {
		return &outbox.ActorRef{Role: "guest", Source: "checkout"}
	}
	return &outbox.ActorRef{UserID: owner.UserID, Role: string(enums.RoleCustomer), Source: "checkout"}
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
