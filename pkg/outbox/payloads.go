package outbox

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderNotification is the payload for every order lifecycle event. The
// notification service renders customer emails from it.
type OrderNotification struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	CustomerEmail string              `json:"customer_email"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	TotalCents    int64               `json:"total_cents"`
	Currency      string              `json:"currency"`
	Reason        string              `json:"reason,omitempty"`
	AmountCents   int64               `json:"amount_cents,omitempty"`
}

// StockAdjusted is emitted when an admin changes stock by hand.
type StockAdjusted struct {
	VariantID      uuid.UUID `json:"variant_id"`
	SKU            string    `json:"sku"`
	Delta          int       `json:"delta"`
	ResultingStock int       `json:"resulting_stock"`
	Note           string    `json:"note,omitempty"`
}
