package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

// Actor is whoever asks for an order operation. Guests carry only the email
// they supplied at checkout.
type Actor struct {
	UserID *uuid.UUID
	Role   enums.Role
	Email  string
}

// IsAdmin reports whether the actor has staff privileges.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.RoleAdmin && a.UserID != nil
}

func (a Actor) ref(source string) *outbox.ActorRef {
	ref := &outbox.ActorRef{UserID: a.UserID, Role: string(a.Role), Source: source}
	if ref.Role == "" {
		ref.Role = "guest"
	}
	return ref
}

// Service defines order lifecycle operations.
type Service interface {
	Lookup(ctx context.Context, orderNumber string, actor Actor) (*models.Order, error)
	Cancel(ctx context.Context, orderNumber string, actor Actor, reason string) (*models.Order, error)
	Expire(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error)
	Refund(ctx context.Context, orderNumber string, amountCents int64, actor Actor) (*models.Order, error)
	Ship(ctx context.Context, orderNumber string, actor Actor) (*models.Order, error)
	Deliver(ctx context.Context, orderNumber string, actor Actor) (*models.Order, error)
	RetryPayment(ctx context.Context, orderNumber string, actor Actor) (*models.Order, error)
	ApplyPaymentOutcome(ctx context.Context, tx *gorm.DB, input PaymentOutcomeInput) (*PaymentResult, error)
}

// ServiceParams groups the order service dependencies.
type ServiceParams struct {
	Repo        Repository
	Tx          txRunner
	Ledger      StockLedger
	Outbox      outboxPublisher
	Gateway     PaymentGateway
	Metrics     *metrics.PaymentMetrics
	Logger      *logger.Logger
	CallbackURL string
}

type service struct {
	repo        Repository
	tx          txRunner
	ledger      StockLedger
	outbox      outboxPublisher
	gateway     PaymentGateway
	metrics     *metrics.PaymentMetrics
	logg        *logger.Logger
	callbackURL string
	now         func() time.Time
}

// NewService builds the order lifecycle service.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:        p.Repo,
		tx:          p.Tx,
		ledger:      p.Ledger,
		outbox:      p.Outbox,
		gateway:     p.Gateway,
		metrics:     p.Metrics,
		logg:        logg,
		callbackURL: p.CallbackURL,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Lookup returns an order the actor may see. Orders the actor cannot see are
// reported as not found so order numbers cannot be probed.
func (s *service) Lookup(ctx context.Context, orderNumber string, actor Actor) (*models.Order, error) {
	order, err := s.load(ctx, s.repo, orderNumber)
	if err != nil {
		return nil, err
	}
	if err := authorize(order, actor); err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel stops an unpaid order and returns its reserved stock.
func (s *service) Cancel(ctx context.Context, orderNumber string, actor Actor, reason string) (*models.Order, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, orderNumber)
		if err != nil {
			return err
		}
		if err := authorize(order, actor); err != nil {
			return err
		}
		if !TransitionCancel.Allows(order.Status, order.PaymentStatus) {
			return illegal(order, "cancel")
		}
		if strings.TrimSpace(reason) == "" {
			reason = "cancelled by customer"
			if actor.IsAdmin() {
				reason = "cancelled by staff"
			}
		}
		moved, err := s.cancelTx(ctx, tx, order, enums.EventOrderCancelled, reason, actor.ref("api"))
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed while cancelling, retry")
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Expire cancels an order whose payment window lapsed. It is a no-op when
// the order is no longer cancellable.
func (s *service) Expire(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	if !TransitionCancel.Allows(order.Status, order.PaymentStatus) {
		return false, nil
	}
	return s.cancelTx(ctx, tx, order, enums.EventOrderExpired, "payment window expired", &outbox.ActorRef{Role: "system", Source: "cron"})
}

func (s *service) cancelTx(ctx context.Context, tx *gorm.DB, order *models.Order, event enums.OutboxEventType, reason string, actor *outbox.ActorRef) (bool, error) {
	now := s.now()
	moved, err := s.repo.WithTx(tx).ApplyTransition(ctx, order, TransitionCancel, map[string]any{
		"cancelled_at":  now,
		"cancel_reason": reason,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel order")
	}
	if !moved {
		return false, nil
	}
	// A failed payment already released the reservation.
	if order.PaymentStatus == enums.PaymentStatusPending {
		if err := s.ledger.ReleaseAll(ctx, tx, orderLines(order), orderRef(order, reason)); err != nil {
			return false, err
		}
	}
	applyLocal(order, TransitionCancel, func(o *models.Order) {
		o.CancelledAt = &now
		o.CancelReason = &reason
	})
	if err := s.emit(ctx, tx, order, event, actor, reason, 0); err != nil {
		return false, err
	}
	return true, nil
}

// Refund returns money for a paid order and puts the sold units back on the
// shelf. The gateway call happens between a claim and the state write so a
// second refund can never reach the gateway.
func (s *service) Refund(ctx context.Context, orderNumber string, amountCents int64, actor Actor) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "refunds require staff access")
	}
	order, err := s.load(ctx, s.repo, orderNumber)
	if err != nil {
		return nil, err
	}
	if !TransitionRefund.Allows(order.Status, order.PaymentStatus) {
		return nil, illegal(order, "refund")
	}
	if amountCents == 0 {
		amountCents = order.TotalCents
	}
	if amountCents < 0 || amountCents > order.TotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be between 1 and the order total")
	}

	claimed, err := s.repo.ClaimRefund(ctx, order.ID, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim refund")
	}
	if !claimed {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund for this order is already in progress or complete")
	}

	ctx = s.logg.WithOrderNumber(ctx, order.OrderNumber)
	if _, err := s.gateway.Refund(ctx, gateway.RefundRequest{
		Reference:   order.GatewayReference,
		AmountMinor: amountCents,
		Reason:      "refund " + order.OrderNumber,
	}); err != nil {
		if releaseErr := s.repo.ReleaseRefundClaim(ctx, order.ID); releaseErr != nil {
			s.logg.Error(ctx, "failed to release refund claim", releaseErr)
		}
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeGateway, err, "refund request failed")
		}
		return nil, err
	}

	var result *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, orderNumber)
		if err != nil {
			return err
		}
		now := s.now()
		moved, err := repo.ApplyTransition(ctx, current, TransitionRefund, map[string]any{
			"refunded_at":    now,
			"refunded_cents": amountCents,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order refunded")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed while refunding")
		}
		if err := s.ledger.RestockAll(ctx, tx, orderLines(current), orderRef(current, "refund")); err != nil {
			return err
		}
		applyLocal(current, TransitionRefund, func(o *models.Order) {
			o.RefundedAt = &now
			o.RefundedCents = amountCents
		})
		if err := s.emit(ctx, tx, current, enums.EventOrderRefunded, actor.ref("admin"), "", amountCents); err != nil {
			return err
		}
		result = current
		return nil
	})
	if err != nil {
		// Money already left through the gateway; the claim stays so nobody refunds twice.
		s.logg.Error(ctx, "refund accepted by gateway but order update failed", err)
		return nil, err
	}
	return result, nil
}

func (s *service) Ship(ctx context.Context, orderNumber string, actor Actor) (*models.Order, error) {
	return s.fulfil(ctx, orderNumber, actor, TransitionShip, enums.EventOrderShipped, "shipped_at", func(o *models.Order, at time.Time) {
		o.ShippedAt = &at
	})
}

func (s *service) Deliver(ctx context.Context, orderNumber string, actor Actor) (*models.Order, error) {
	return s.fulfil(ctx, orderNumber, actor, TransitionDeliver, enums.EventOrderDelivered, "delivered_at", func(o *models.Order, at time.Time) {
		o.DeliveredAt = &at
	})
}

func (s *service) fulfil(ctx context.Context, orderNumber string, actor Actor, t Transition, event enums.OutboxEventType, column string, mutate func(*models.Order, time.Time)) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "fulfilment requires staff access")
	}
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, orderNumber)
		if err != nil {
			return err
		}
		if !t.Allows(order.Status, order.PaymentStatus) {
			return illegal(order, t.Name)
		}
		now := s.now()
		moved, err := repo.ApplyTransition(ctx, order, t, map[string]any{column: now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, t.Name+" order")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently, retry")
		}
		applyLocal(order, t, func(o *models.Order) { mutate(o, now) })
		if err := s.emit(ctx, tx, order, event, actor.ref("admin"), "", 0); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RetryPayment reopens a failed payment with a fresh gateway reference. Stock
// is reserved again because the failure released it.
func (s *service) RetryPayment(ctx context.Context, orderNumber string, actor Actor) (*models.Order, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, orderNumber)
		if err != nil {
			return err
		}
		if err := authorize(order, actor); err != nil {
			return err
		}
		if !TransitionRetryPayment.Allows(order.Status, order.PaymentStatus) {
			return illegal(order, "retry payment")
		}

		reference := NewGatewayReference()
		moved, err := repo.ApplyTransition(ctx, order, TransitionRetryPayment, map[string]any{
			"gateway_reference": reference,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reopen payment")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently, retry")
		}
		if err := s.ledger.ReserveAll(ctx, tx, orderLines(order), orderRef(order, "payment retry")); err != nil {
			return err
		}

		session, err := s.gateway.Initialize(ctx, gateway.InitializeRequest{
			Reference:   reference,
			Email:       order.CustomerEmail,
			AmountMinor: order.TotalCents,
			Currency:    order.Currency,
			CallbackURL: s.callbackURL,
			Metadata:    map[string]string{"order_number": order.OrderNumber},
		})
		if err != nil {
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeGateway, err, "initialize payment")
			}
			return err
		}
		if err := repo.Update(ctx, order.ID, map[string]any{"gateway_redirect_url": session.AuthorizationURL}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store redirect url")
		}
		applyLocal(order, TransitionRetryPayment, func(o *models.Order) {
			o.GatewayReference = reference
			o.GatewayRedirectURL = session.AuthorizationURL
		})
		if err := s.emit(ctx, tx, order, enums.EventOrderRetried, actor.ref("api"), "", 0); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) load(ctx context.Context, repo Repository, orderNumber string) (*models.Order, error) {
	if strings.TrimSpace(orderNumber) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	order, err := repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

// authorize lets staff see everything and owners see their orders. Guest
// orders are opened with the email used at checkout.
func authorize(order *models.Order, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	if order.UserID != nil && actor.UserID != nil && *order.UserID == *actor.UserID {
		return nil
	}
	email := strings.TrimSpace(actor.Email)
	if order.UserID == nil && email != "" && strings.EqualFold(email, order.CustomerEmail) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func illegal(order *models.Order, action string) error {
	return pkgerrors.New(pkgerrors.CodeConflict,
		fmt.Sprintf("cannot %s an order that is %s with payment %s", action, order.Status, order.PaymentStatus)).
		WithDetails(map[string]any{
			"status":         order.Status,
			"payment_status": order.PaymentStatus,
		})
}
