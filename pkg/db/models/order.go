package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Order is one checkout attempt. Status and PaymentStatus only move together
// through the transitions in internal/orders.
type Order struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber        string              `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	UserID             *uuid.UUID          `gorm:"column:user_id;type:uuid;index"`
	Status             enums.OrderStatus   `gorm:"column:status;type:varchar(16);not null;default:'pending'"`
	PaymentStatus      enums.PaymentStatus `gorm:"column:payment_status;type:varchar(16);not null;default:'pending'"`
	GatewayReference   string              `gorm:"column:gateway_reference;not null;uniqueIndex:ux_orders_gateway_reference"`
	GatewayRedirectURL string              `gorm:"column:gateway_redirect_url;not null;default:''"`
	Currency           string              `gorm:"column:currency;not null"`
	SubtotalCents      int64               `gorm:"column:subtotal_cents;not null"`
	DiscountCents      int64               `gorm:"column:discount_cents;not null;default:0"`
	TaxCents           int64               `gorm:"column:tax_cents;not null;default:0"`
	ShippingCents      int64               `gorm:"column:shipping_cents;not null;default:0"`
	TotalCents         int64               `gorm:"column:total_cents;not null"`
	DiscountCode       *string             `gorm:"column:discount_code"`
	CustomerEmail      string              `gorm:"column:customer_email;not null"`
	CustomerPhone      string              `gorm:"column:customer_phone;not null"`
	ShippingAddress    types.Address       `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	BillingAddress     *types.Address      `gorm:"column:billing_address;type:jsonb;serializer:json"`
	Notes              *string             `gorm:"column:notes"`
	Version            int                 `gorm:"column:version;not null;default:0"`
	RefundRequestedAt  *time.Time          `gorm:"column:refund_requested_at"`
	RefundedCents      int64               `gorm:"column:refunded_cents;not null;default:0"`
	CancelReason       *string             `gorm:"column:cancel_reason"`
	Items              []OrderItem         `gorm:"foreignKey:OrderID"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	PaidAt             *time.Time          `gorm:"column:paid_at"`
	ShippedAt          *time.Time          `gorm:"column:shipped_at"`
	DeliveredAt        *time.Time          `gorm:"column:delivered_at"`
	CancelledAt        *time.Time          `gorm:"column:cancelled_at"`
	RefundedAt         *time.Time          `gorm:"column:refunded_at"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// TotalQuantity sums item quantities.
func (o Order) TotalQuantity() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}
