package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type orderItemResponse struct {
	VariantID      uuid.UUID `json:"variant_id"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	SubtotalCents  int64     `json:"subtotal_cents"`
}

type orderResponse struct {
	OrderNumber        string              `json:"order_number"`
	Status             string              `json:"status"`
	PaymentStatus      string              `json:"payment_status"`
	GatewayReference   string              `json:"gateway_reference"`
	GatewayRedirectURL string              `json:"gateway_redirect_url,omitempty"`
	Currency           string              `json:"currency"`
	SubtotalCents      int64               `json:"subtotal_cents"`
	DiscountCents      int64               `json:"discount_cents"`
	TaxCents           int64               `json:"tax_cents"`
	ShippingCents      int64               `json:"shipping_cents"`
	TotalCents         int64               `json:"total_cents"`
	TotalDisplay       string              `json:"total_display"`
	RefundedCents      int64               `json:"refunded_cents"`
	DiscountCode       *string             `json:"discount_code,omitempty"`
	CustomerEmail      string              `json:"customer_email"`
	CustomerPhone      string              `json:"customer_phone"`
	ShippingAddress    types.Address       `json:"shipping_address"`
	BillingAddress     *types.Address      `json:"billing_address,omitempty"`
	Notes              *string             `json:"notes,omitempty"`
	CancelReason       *string             `json:"cancel_reason,omitempty"`
	Items              []orderItemResponse `json:"items"`
	CreatedAt          time.Time           `json:"created_at"`
	PaidAt             *time.Time          `json:"paid_at,omitempty"`
	ShippedAt          *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time          `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time          `json:"cancelled_at,omitempty"`
	RefundedAt         *time.Time          `json:"refunded_at,omitempty"`
}

func newOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			VariantID:      item.VariantID,
			Name:           item.ProductNameSnapshot,
			SKU:            item.SKUSnapshot,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			SubtotalCents:  item.SubtotalCents,
		})
	}

	return orderResponse{
		OrderNumber:        order.OrderNumber,
		Status:             string(order.Status),
		PaymentStatus:      string(order.PaymentStatus),
		GatewayReference:   order.GatewayReference,
		GatewayRedirectURL: order.GatewayRedirectURL,
		Currency:           order.Currency,
		SubtotalCents:      order.SubtotalCents,
		DiscountCents:      order.DiscountCents,
		TaxCents:           order.TaxCents,
		ShippingCents:      order.ShippingCents,
		TotalCents:         order.TotalCents,
		TotalDisplay:       types.FormatCents(order.TotalCents),
		RefundedCents:      order.RefundedCents,
		DiscountCode:       order.DiscountCode,
		CustomerEmail:      order.CustomerEmail,
		CustomerPhone:      order.CustomerPhone,
		ShippingAddress:    order.ShippingAddress,
		BillingAddress:     order.BillingAddress,
		Notes:              order.Notes,
		CancelReason:       order.CancelReason,
		Items:              items,
		CreatedAt:          order.CreatedAt,
		PaidAt:             order.PaidAt,
		ShippedAt:          order.ShippedAt,
		DeliveredAt:        order.DeliveredAt,
		CancelledAt:        order.CancelledAt,
		RefundedAt:         order.RefundedAt,
	}
}
