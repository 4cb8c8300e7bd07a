package orders

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	internalorders "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// AdminService is the staff side of the order lifecycle.
type AdminService interface {
	Refund(ctx context.Context, orderNumber string, amountCents int64, actor internalorders.Actor) (*models.Order, error)
	Ship(ctx context.Context, orderNumber string, actor internalorders.Actor) (*models.Order, error)
	Deliver(ctx context.Context, orderNumber string, actor internalorders.Actor) (*models.Order, error)
}

type refundRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"min=0"`
}

// AdminRefund refunds a paid order. A zero or missing amount refunds the full total.
func AdminRefund(svc AdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		var payload refundRequest
		if err := decodeOptionalBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Refund(r.Context(), orderNumberParam(r), payload.AmountCents, actorFromRequest(r, ""))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// AdminShip marks a paid order as shipped.
func AdminShip(svc AdminService, logg *logger.Logger) http.HandlerFunc {
	return fulfilment(logg, svc, func(ctx context.Context, number string, actor internalorders.Actor) (*models.Order, error) {
		return svc.Ship(ctx, number, actor)
	})
}

// AdminDeliver marks a shipped order as delivered.
func AdminDeliver(svc AdminService, logg *logger.Logger) http.HandlerFunc {
	return fulfilment(logg, svc, func(ctx context.Context, number string, actor internalorders.Actor) (*models.Order, error) {
		return svc.Deliver(ctx, number, actor)
	})
}

func fulfilment(logg *logger.Logger, svc AdminService, step func(context.Context, string, internalorders.Actor) (*models.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		order, err := step(r.Context(), orderNumberParam(r), actorFromRequest(r, ""))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}
