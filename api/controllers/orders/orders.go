package orders

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	internalorders "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

const (
	maxNotesLen  = 500
	maxReasonLen = 280
)

// Creator turns the caller's cart into an order.
type Creator interface {
	Create(ctx context.Context, owner cart.Owner, input checkout.Input) (*checkout.Result, error)
}

// CustomerService is the shopper-facing part of the order lifecycle.
type CustomerService interface {
	Lookup(ctx context.Context, orderNumber string, actor internalorders.Actor) (*models.Order, error)
	Cancel(ctx context.Context, orderNumber string, actor internalorders.Actor, reason string) (*models.Order, error)
	RetryPayment(ctx context.Context, orderNumber string, actor internalorders.Actor) (*models.Order, error)
}

// PaymentVerifier pulls the gateway state for a reference and applies it.
type PaymentVerifier interface {
	VerifyAndApply(ctx context.Context, reference string, source enums.PaymentSource) (*payments.Verification, error)
}

type createOrderRequest struct {
	ShippingAddress types.Address  `json:"shipping_address" validate:"required"`
	BillingAddress  *types.Address `json:"billing_address,omitempty"`
	Email           string         `json:"email" validate:"required,email"`
	Phone           string         `json:"phone" validate:"required,max=32"`
	Notes           *string        `json:"notes,omitempty" validate:"omitempty,max=500"`
	DiscountCode    *string        `json:"discount_code,omitempty" validate:"omitempty,max=64"`
}

type guestActionRequest struct {
	Email  string `json:"email,omitempty" validate:"omitempty,email"`
	Reason string `json:"reason,omitempty" validate:"omitempty,max=280"`
}

type verifyResponse struct {
	Order         orderResponse `json:"order"`
	Outcome       string        `json:"outcome"`
	GatewayStatus string        `json:"gateway_status"`
	Applied       bool          `json:"applied"`
	Note          string        `json:"note,omitempty"`
}

// Create places an order from the current cart and returns the hosted payment page.
func Create(svc Creator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		owner := cart.Owner{UserID: middleware.UserUUIDFromContext(r.Context())}
		if owner.UserID == nil {
			owner.SessionToken = middleware.CartSessionFromContext(r.Context())
		}

		input := checkout.Input{
			ShippingAddress: payload.ShippingAddress,
			BillingAddress:  payload.BillingAddress,
			CustomerEmail:   payload.Email,
			CustomerPhone:   validators.SanitizeString(payload.Phone, 32),
			DiscountCode:    payload.DiscountCode,
		}
		if payload.Notes != nil {
			notes := validators.SanitizeString(*payload.Notes, maxNotesLen)
			input.Notes = &notes
		}

		result, err := svc.Create(r.Context(), owner, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Lookup returns an order to its owner, a guest holding the checkout email, or staff.
func Lookup(svc CustomerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		order, err := svc.Lookup(r.Context(), orderNumberParam(r), actorFromRequest(r, ""))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// Cancel cancels an unpaid order and releases its stock.
func Cancel(svc CustomerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		var payload guestActionRequest
		if err := decodeOptionalBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(payload.Reason, maxReasonLen)
		order, err := svc.Cancel(r.Context(), orderNumberParam(r), actorFromRequest(r, payload.Email), reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// RetryPayment opens a new payment attempt for an order whose payment failed.
func RetryPayment(svc CustomerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		var payload guestActionRequest
		if err := decodeOptionalBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.RetryPayment(r.Context(), orderNumberParam(r), actorFromRequest(r, payload.Email))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// Verify asks the gateway for the order's payment state and applies it. It
// lets a shopper back from the payment page see the result without waiting
// for the webhook.
func Verify(svc CustomerService, verifier PaymentVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || verifier == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment verification unavailable"))
			return
		}
		actor := actorFromRequest(r, "")
		if actor.UserID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		order, err := svc.Lookup(r.Context(), orderNumberParam(r), actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		verification, err := verifier.VerifyAndApply(r.Context(), order.GatewayReference, enums.PaymentSourceManual)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := verifyResponse{
			Outcome:       string(verification.Outcome),
			GatewayStatus: verification.GatewayStatus,
		}
		if verification.Result != nil {
			resp.Applied = verification.Result.Applied()
			resp.Note = verification.Result.Note
			if verification.Result.Order != nil {
				order = verification.Result.Order
			}
		}
		resp.Order = newOrderResponse(order)
		responses.WriteSuccess(w, resp)
	}
}

func orderNumberParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "orderNumber")))
}

// actorFromRequest builds the caller identity. Guests prove ownership with
// the checkout email, taken from the body when given, otherwise the query.
func actorFromRequest(r *http.Request, bodyEmail string) internalorders.Actor {
	ctx := r.Context()
	actor := internalorders.Actor{
		UserID: middleware.UserUUIDFromContext(ctx),
		Role:   enums.Role(middleware.RoleFromContext(ctx)),
		Email:  strings.TrimSpace(bodyEmail),
	}
	if actor.Email == "" {
		actor.Email = strings.TrimSpace(r.URL.Query().Get("email"))
	}
	if actor.Email == "" {
		actor.Email = middleware.EmailFromContext(ctx)
	}
	return actor
}

func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return validators.DecodeJSONBody(r, dest)
}
