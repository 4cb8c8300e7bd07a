package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

// WebhookConsumer scopes the processed-cache keys of gateway deliveries.
const WebhookConsumer = "gateway-webhook"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PaymentApplier is the shared transition used by push and pull paths.
type PaymentApplier interface {
	ApplyPaymentOutcome(ctx context.Context, tx *gorm.DB, input orders.PaymentOutcomeInput) (*orders.PaymentResult, error)
}

type processedCache interface {
	IsProcessed(ctx context.Context, consumer, key string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, key string) error
}

// IngestResult summarises what a delivery did.
type IngestResult struct {
	Outcome     string `json:"outcome"`
	Note        string `json:"note,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
}

type IngestorParams struct {
	Repo    Repository
	Tx      txRunner
	Orders  PaymentApplier
	Cache   processedCache
	Secret  string
	Metrics *metrics.PaymentMetrics
	Logger  *logger.Logger
}

// Ingestor applies signed gateway webhooks exactly once per (reference, event type).
type Ingestor struct {
	repo    Repository
	tx      txRunner
	orders  PaymentApplier
	cache   processedCache
	secret  string
	metrics *metrics.PaymentMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewIngestor(p IngestorParams) (*Ingestor, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook repository required")
	}
	if p.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if p.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment applier required")
	}
	if p.Secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Ingestor{
		repo:    p.Repo,
		tx:      p.Tx,
		orders:  p.Orders,
		cache:   p.Cache,
		secret:  p.Secret,
		metrics: p.Metrics,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle verifies and applies one delivery. Repeats of an already processed
// delivery succeed without touching order state.
func (i *Ingestor) Handle(ctx context.Context, body []byte, signature string) (*IngestResult, error) {
	if !gateway.VerifySignature(i.secret, body, signature) {
		i.metrics.IncWebhook("unknown", metrics.WebhookRejectedSignature)
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}
	event, err := gateway.ParseEvent(body)
	if err != nil {
		i.metrics.IncWebhook("unknown", metrics.WebhookFailed)
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	eventType := string(event.Type)
	key := event.Data.Reference + ":" + eventType
	ctx = i.logg.WithFields(ctx, map[string]any{
		"gateway_reference": event.Data.Reference,
		"event_type":        eventType,
	})

	if i.cache != nil {
		seen, err := i.cache.IsProcessed(ctx, WebhookConsumer, key)
		if err != nil {
			i.logg.Warn(ctx, "webhook processed-cache lookup failed: "+err.Error())
		} else if seen {
			i.metrics.IncWebhook(eventType, metrics.WebhookDuplicate)
			return &IngestResult{Outcome: metrics.WebhookDuplicate}, nil
		}
	}

	var result *IngestResult
	err = i.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = i.process(ctx, tx, event, body)
		return err
	})
	if err != nil {
		i.metrics.IncWebhook(eventType, metrics.WebhookFailed)
		i.logg.Error(ctx, "webhook processing failed", err)
		return nil, err
	}

	if result.Outcome != metrics.WebhookIgnored && i.cache != nil {
		if err := i.cache.MarkProcessed(ctx, WebhookConsumer, key); err != nil {
			i.logg.Warn(ctx, "webhook processed-cache write failed: "+err.Error())
		}
	}
	i.metrics.IncWebhook(eventType, result.Outcome)
	i.logg.Info(ctx, "webhook "+result.Outcome)
	return result, nil
}

func (i *Ingestor) process(ctx context.Context, tx *gorm.DB, event gateway.Event, body []byte) (*IngestResult, error) {
	repo := i.repo.WithTx(tx)
	row, err := repo.Record(ctx, &models.WebhookEvent{
		GatewayReference: event.Data.Reference,
		EventType:        string(event.Type),
		RawPayload:       json.RawMessage(body),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record webhook event")
	}
	if row.IsProcessed {
		return &IngestResult{Outcome: metrics.WebhookDuplicate}, nil
	}

	if !event.Type.IsPaymentOutcome() {
		note := fmt.Sprintf("event type %s not handled", event.Type)
		if err := repo.MarkProcessed(ctx, row.ID, note, i.now()); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark webhook processed")
		}
		return &IngestResult{Outcome: metrics.WebhookProcessed, Note: note}, nil
	}

	outcome := enums.PaymentOutcomeFailed
	if event.Type == enums.GatewayEventChargeSuccess {
		outcome = enums.PaymentOutcomeSuccess
	}
	applied, err := i.orders.ApplyPaymentOutcome(ctx, tx, orders.PaymentOutcomeInput{
		Reference:   event.Data.Reference,
		Outcome:     outcome,
		AmountMinor: event.Data.AmountMinor,
		Source:      enums.PaymentSourceWebhook,
		PaidAt:      event.Data.PaidAt,
	})
	if err != nil {
		// The order may not be committed yet; leave the row open for redelivery
		// and the reconcile sweep.
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			if err := repo.SetNote(ctx, row.ID, "no order for reference"); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "note webhook event")
			}
			return &IngestResult{Outcome: metrics.WebhookIgnored, Note: "no order for reference"}, nil
		}
		return nil, err
	}
	if err := repo.MarkProcessed(ctx, row.ID, applied.Note, i.now()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark webhook processed")
	}
	res := &IngestResult{Outcome: metrics.WebhookProcessed, Note: applied.Note}
	if applied.Order != nil {
		res.OrderNumber = applied.Order.OrderNumber
	}
	return res, nil
}
