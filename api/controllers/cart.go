package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// CartManager is the slice of the cart service the HTTP layer uses.
type CartManager interface {
	Get(ctx context.Context, owner cartsvc.Owner) (*cartsvc.View, error)
	AddItem(ctx context.Context, owner cartsvc.Owner, variantID uuid.UUID, qty int) (*cartsvc.View, error)
	UpdateItem(ctx context.Context, owner cartsvc.Owner, variantID uuid.UUID, qty int) (*cartsvc.View, error)
	RemoveItem(ctx context.Context, owner cartsvc.Owner, variantID uuid.UUID) (*cartsvc.View, error)
	MergeGuestCart(ctx context.Context, userID uuid.UUID, sessionToken string) error
}

type addCartItemRequest struct {
	VariantID uuid.UUID `json:"variant_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

// CartFetch returns the validated cart, with any corrections made since the last visit.
func CartFetch(svc CartManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		owner, err := cartOwner(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Get(r.Context(), owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, http.StatusOK, view)
	}
}

// CartAddItem adds a variant to the cart. Guests get a session token back on first use.
func CartAddItem(svc CartManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		var payload addCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		owner, err := cartOwner(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.AddItem(r.Context(), owner, payload.VariantID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, http.StatusCreated, view)
	}
}

// CartUpdateItem sets the quantity of a cart line. Zero removes the line.
func CartUpdateItem(svc CartManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		variantID, err := ParseUUIDParam(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload updateCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		owner, err := cartOwner(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var view *cartsvc.View
		if payload.Quantity == 0 {
			view, err = svc.RemoveItem(r.Context(), owner, variantID)
		} else {
			view, err = svc.UpdateItem(r.Context(), owner, variantID, payload.Quantity)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, http.StatusOK, view)
	}
}

// CartRemoveItem drops a line from the cart.
func CartRemoveItem(svc CartManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		variantID, err := ParseUUIDParam(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		owner, err := cartOwner(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.RemoveItem(r.Context(), owner, variantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, http.StatusOK, view)
	}
}

// cartOwner resolves whose cart the request addresses. A signed-in user who
// still carries a guest session has that cart folded into their own.
func cartOwner(r *http.Request, svc CartManager) (cartsvc.Owner, error) {
	owner := CartOwnerFromRequest(r)
	session := middleware.CartSessionFromContext(r.Context())
	if owner.UserID != nil && session != "" {
		if err := svc.MergeGuestCart(r.Context(), *owner.UserID, session); err != nil {
			return cartsvc.Owner{}, err
		}
	}
	return owner, nil
}

// CartOwnerFromRequest builds the cart owner from auth and session context.
func CartOwnerFromRequest(r *http.Request) cartsvc.Owner {
	owner := cartsvc.Owner{UserID: middleware.UserUUIDFromContext(r.Context())}
	if owner.UserID == nil {
		owner.SessionToken = middleware.CartSessionFromContext(r.Context())
	}
	return owner
}

func writeCart(w http.ResponseWriter, status int, view *cartsvc.View) {
	if view != nil && view.SessionToken != "" {
		w.Header().Set(middleware.CartSessionHeader, view.SessionToken)
	}
	responses.WriteSuccessStatus(w, status, view)
}

// ParseUUIDParam reads a UUID route parameter.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}
