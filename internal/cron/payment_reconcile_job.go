package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultVerifyGrace = 5 * time.Minute
	defaultBatchSize   = 100
	defaultMaxPages    = 50
)

type awaitingPaymentLister interface {
	ListAwaitingPayment(ctx context.Context, createdBefore time.Time, after *orders.Cursor, limit int) ([]models.Order, error)
}

type paymentVerifier interface {
	VerifyAndApply(ctx context.Context, reference string, source enums.PaymentSource) (*payments.Verification, error)
}

// PaymentReconcileJobParams configure the pull-side payment sweep.
type PaymentReconcileJobParams struct {
	Logger    *logger.Logger
	Orders    awaitingPaymentLister
	Verifier  paymentVerifier
	Grace     time.Duration
	BatchSize int
}

// NewPaymentReconcileJob builds the job that verifies unpaid orders whose
// webhook may have been dropped.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Verifier == nil {
		return nil, fmt.Errorf("payment verifier required")
	}
	if params.Grace <= 0 {
		params.Grace = defaultVerifyGrace
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultBatchSize
	}
	return &paymentReconcileJob{
		logg:      params.Logger,
		orders:    params.Orders,
		verifier:  params.Verifier,
		grace:     params.Grace,
		batchSize: params.BatchSize,
		maxPages:  defaultMaxPages,
		now:       time.Now,
	}, nil
}

type paymentReconcileJob struct {
	logg      *logger.Logger
	orders    awaitingPaymentLister
	verifier  paymentVerifier
	grace     time.Duration
	batchSize int
	maxPages  int
	now       func() time.Time
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

// Run walks every order awaiting payment past the grace window in keyset
// pages, so orders still pending after verify do not hide newer ones.
func (j *paymentReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	var errs error
	var after *orders.Cursor
	seen, applied, unchanged := 0, 0, 0
	for page := 0; page < j.maxPages; page++ {
		candidates, err := j.orders.ListAwaitingPayment(ctx, cutoff, after, j.batchSize)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("query orders awaiting payment: %w", err))
			break
		}
		for _, order := range candidates {
			seen++
			v, err := j.verifier.VerifyAndApply(ctx, order.GatewayReference, enums.PaymentSourceReconcile)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", order.OrderNumber, err))
				continue
			}
			if v.Result.Applied() {
				applied++
			} else {
				unchanged++
			}
		}
		if len(candidates) < j.batchSize || ctx.Err() != nil {
			break
		}
		after = orders.CursorAfter(candidates[len(candidates)-1])
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": seen,
		"applied":    applied,
		"unchanged":  unchanged,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "payment reconcile sweep complete")
	return errs
}
