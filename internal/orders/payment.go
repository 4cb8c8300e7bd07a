package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

// PaymentOutcomeInput is a payment result reported by the gateway, either
// pushed by webhook or pulled by verify.
type PaymentOutcomeInput struct {
	Reference   string
	Outcome     enums.PaymentOutcome
	AmountMinor int64
	Source      enums.PaymentSource
	PaidAt      *time.Time
}

// ApplyStatus tells callers whether the outcome changed the order.
type ApplyStatus string

const (
	ApplyStatusApplied ApplyStatus = "applied"
	ApplyStatusNoOp    ApplyStatus = "noop"
)

// PaymentResult is the outcome of ApplyPaymentOutcome.
type PaymentResult struct {
	Status ApplyStatus
	Order  *models.Order
	Note   string
}

// Applied reports whether the order moved.
func (r *PaymentResult) Applied() bool {
	return r != nil && r.Status == ApplyStatusApplied
}

// ApplyPaymentOutcome is the single path that moves an order to paid or
// failed. It runs inside the caller's transaction so the webhook dedup row,
// the order row and the stock ledger commit together. Outcomes that do not
// fit the order's current state are reported as no-ops, never as errors.
func (s *service) ApplyPaymentOutcome(ctx context.Context, tx *gorm.DB, input PaymentOutcomeInput) (*PaymentResult, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway reference required")
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for reference")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order by reference")
	}

	var result *PaymentResult
	switch input.Outcome {
	case enums.PaymentOutcomeSuccess:
		result, err = s.applySuccess(ctx, tx, order, input)
	case enums.PaymentOutcomeFailed:
		result, err = s.applyFailure(ctx, tx, order, input)
	default:
		result = noop(order, "payment still pending at gateway")
	}
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition(string(input.Source), string(input.Outcome), result.Applied())
	return result, nil
}

func (s *service) applySuccess(ctx context.Context, tx *gorm.DB, order *models.Order, input PaymentOutcomeInput) (*PaymentResult, error) {
	t := TransitionPaymentSucceeded
	if t.Reached(order.Status, order.PaymentStatus) || order.PaymentStatus == enums.PaymentStatusPaid {
		return noop(order, "order already paid"), nil
	}
	if !t.Allows(order.Status, order.PaymentStatus) {
		note := fmt.Sprintf("payment captured for %s/%s order, manual refund required", order.Status, order.PaymentStatus)
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"order_number": order.OrderNumber,
			"source":       input.Source,
		}), note)
		return noop(order, note), nil
	}
	if input.AmountMinor > 0 && input.AmountMinor != order.TotalCents {
		note := fmt.Sprintf("amount mismatch: gateway reported %d, order total %d", input.AmountMinor, order.TotalCents)
		s.logg.Warn(s.logg.WithOrderNumber(ctx, order.OrderNumber), note)
		return noop(order, note), nil
	}

	paidAt := time.Now().UTC()
	if input.PaidAt != nil && !input.PaidAt.IsZero() {
		paidAt = input.PaidAt.UTC()
	}
	moved, err := s.repo.WithTx(tx).ApplyTransition(ctx, order, t, map[string]any{"paid_at": paidAt})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order paid")
	}
	if !moved {
		return noop(order, "order changed concurrently"), nil
	}
	if err := s.ledger.CommitAll(ctx, tx, orderLines(order), orderRef(order, "payment confirmed")); err != nil {
		return nil, err
	}
	applyLocal(order, t, func(o *models.Order) { o.PaidAt = &paidAt })
	if err := s.emit(ctx, tx, order, enums.EventOrderPaid, nil, "", 0); err != nil {
		return nil, err
	}
	return &PaymentResult{Status: ApplyStatusApplied, Order: order}, nil
}

func (s *service) applyFailure(ctx context.Context, tx *gorm.DB, order *models.Order, input PaymentOutcomeInput) (*PaymentResult, error) {
	t := TransitionPaymentFailed
	if t.Reached(order.Status, order.PaymentStatus) {
		return noop(order, "order already marked failed"), nil
	}
	if !t.Allows(order.Status, order.PaymentStatus) {
		return noop(order, fmt.Sprintf("failure ignored for %s/%s order", order.Status, order.PaymentStatus)), nil
	}
	moved, err := s.repo.WithTx(tx).ApplyTransition(ctx, order, t, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark payment failed")
	}
	if !moved {
		return noop(order, "order changed concurrently"), nil
	}
	if err := s.ledger.ReleaseAll(ctx, tx, orderLines(order), orderRef(order, "payment failed")); err != nil {
		return nil, err
	}
	applyLocal(order, t, nil)
	if err := s.emit(ctx, tx, order, enums.EventOrderPaymentFailed, nil, "", 0); err != nil {
		return nil, err
	}
	return &PaymentResult{Status: ApplyStatusApplied, Order: order}, nil
}

func noop(order *models.Order, note string) *PaymentResult {
	return &PaymentResult{Status: ApplyStatusNoOp, Order: order, Note: note}
}

func applyLocal(order *models.Order, t Transition, mutate func(*models.Order)) {
	order.PaymentStatus = t.TargetPayment(order.PaymentStatus)
	order.Status = t.ToStatus
	order.Version++
	if mutate != nil {
		mutate(order)
	}
}

func orderLines(order *models.Order) []inventory.Line {
	lines := make([]inventory.Line, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, inventory.Line{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return lines
}

func orderRef(order *models.Order, note string) inventory.Ref {
	id := order.ID
	return inventory.Ref{OrderID: &id, Note: note}
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, order *models.Order, eventType enums.OutboxEventType, actor *outbox.ActorRef, reason string, amount int64) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: outbox.OrderNotification{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CustomerEmail: order.CustomerEmail,
			Status:        order.Status,
			PaymentStatus: order.PaymentStatus,
			TotalCents:    order.TotalCents,
			Currency:      order.Currency,
			Reason:        reason,
			AmountCents:   amount,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue order notification")
	}
	return nil
}
