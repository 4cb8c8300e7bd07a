package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const defaultExpiryAge = 30 * time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderExpirer interface {
	Expire(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error)
}

// OrderExpiryJobParams configure the unpaid-order expiry sweep.
type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Repo      orders.Repository
	Orders    orderExpirer
	Verifier  paymentVerifier
	Age       time.Duration
	BatchSize int
}

// NewOrderExpiryJob builds the job that cancels orders left unpaid past the
// payment window and returns their stock to sale.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if params.Verifier == nil {
		return nil, fmt.Errorf("payment verifier required")
	}
	if params.Age <= 0 {
		params.Age = defaultExpiryAge
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultBatchSize
	}
	return &orderExpiryJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repo,
		orders:    params.Orders,
		verifier:  params.Verifier,
		age:       params.Age,
		batchSize: params.BatchSize,
		now:       time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      orders.Repository
	orders    orderExpirer
	verifier  paymentVerifier
	age       time.Duration
	batchSize int
	now       func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.age)
	candidates, err := j.repo.ListExpirable(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("query expirable orders: %w", err)
	}
	var errs error
	expired, paid, skipped := 0, 0, 0
	for _, order := range candidates {
		orderCtx := j.logg.WithOrderNumber(ctx, order.OrderNumber)
		if order.PaymentStatus == enums.PaymentStatusPending {
			v, err := j.verifier.VerifyAndApply(orderCtx, order.GatewayReference, enums.PaymentSourceExpiry)
			if err != nil {
				j.logg.Warn(orderCtx, "gateway verify failed, expiry deferred to next sweep: "+err.Error())
				skipped++
				continue
			}
			if settled(v) {
				paid++
				continue
			}
			if v.Outcome == enums.PaymentOutcomeSuccess {
				note := "confirmed payment was not applied, expiring"
				if v.Result != nil && v.Result.Note != "" {
					note += ": " + v.Result.Note
				}
				j.logg.Warn(orderCtx, note)
			}
		}
		moved, err := j.expire(ctx, order.OrderNumber)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", order.OrderNumber, err))
			continue
		}
		if moved {
			expired++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"expired":    expired,
		"paid":       paid,
		"skipped":    skipped,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "order expiry sweep complete")
	return errs
}

// settled reports whether verify left the order paid. A confirmed charge
// the transition refused, such as an amount mismatch, still expires.
func settled(v *payments.Verification) bool {
	if v == nil || v.Result == nil || v.Outcome != enums.PaymentOutcomeSuccess {
		return false
	}
	if v.Result.Applied() {
		return true
	}
	o := v.Result.Order
	return o != nil && !(o.Status == enums.OrderStatusPending && o.PaymentStatus == enums.PaymentStatusPending)
}

// expire reloads the order inside the transaction so a payment applied by
// verify, or by a concurrent webhook, is seen before cancelling.
func (j *orderExpiryJob) expire(ctx context.Context, orderNumber string) (bool, error) {
	var moved bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := j.repo.WithTx(tx).FindByNumber(ctx, orderNumber)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		moved, err = j.orders.Expire(ctx, tx, current)
		return err
	})
	return moved, err
}
