package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultMovementPage = 50
	maxMovementPage     = 500
	maxAdjustNoteLen    = 280
)

// StockAdmin is the staff view of the stock ledger.
type StockAdmin interface {
	Adjust(ctx context.Context, input inventory.AdjustInput) (*models.Variant, error)
	Movements(ctx context.Context, variantID uuid.UUID, limit int) ([]models.StockMovement, error)
}

type adjustStockRequest struct {
	Delta int    `json:"delta" validate:"required"`
	Note  string `json:"note" validate:"required,max=280"`
}

type variantStockResponse struct {
	ID        uuid.UUID `json:"id"`
	SKU       string    `json:"sku"`
	Stock     int       `json:"stock"`
	Reserved  int       `json:"reserved"`
	Sellable  int       `json:"sellable"`
	UpdatedAt time.Time `json:"updated_at"`
}

type stockMovementResponse struct {
	ID                uuid.UUID  `json:"id"`
	Type              string     `json:"type"`
	QuantityDelta     int        `json:"quantity_delta"`
	ResultingStock    int        `json:"resulting_stock"`
	ResultingReserved int        `json:"resulting_reserved"`
	OrderID           *uuid.UUID `json:"order_id,omitempty"`
	ActorID           *uuid.UUID `json:"actor_id,omitempty"`
	Note              *string    `json:"note,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// AdminAdjustStock applies a manual stock correction.
func AdminAdjustStock(svc StockAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		variantID, err := ParseUUIDParam(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID := middleware.UserUUIDFromContext(r.Context())
		if actorID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		var payload adjustStockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		variant, err := svc.Adjust(r.Context(), inventory.AdjustInput{
			VariantID: variantID,
			Delta:     payload.Delta,
			ActorID:   *actorID,
			Note:      validators.SanitizeString(payload.Note, maxAdjustNoteLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, variantStockResponse{
			ID:        variant.ID,
			SKU:       variant.SKU,
			Stock:     variant.Stock,
			Reserved:  variant.Reserved,
			Sellable:  variant.Sellable(),
			UpdatedAt: variant.UpdatedAt,
		})
	}
}

// AdminStockMovements lists the newest ledger entries for a variant.
func AdminStockMovements(svc StockAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		variantID, err := ParseUUIDParam(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultMovementPage, 1, maxMovementPage)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.Movements(r.Context(), variantID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]stockMovementResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, stockMovementResponse{
				ID:                row.ID,
				Type:              string(row.Type),
				QuantityDelta:     row.QuantityDelta,
				ResultingStock:    row.ResultingStock,
				ResultingReserved: row.ResultingReserved,
				OrderID:           row.OrderID,
				ActorID:           row.ActorID,
				Note:              row.Note,
				CreatedAt:         row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
