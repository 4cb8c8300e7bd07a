package enums

// GatewayEventType is the event name carried by a payment gateway webhook.
type GatewayEventType string

const (
	GatewayEventChargeSuccess GatewayEventType = "charge.success"
	GatewayEventChargeFailed  GatewayEventType = "charge.failed"
	GatewayEventRefundDone    GatewayEventType = "refund.processed"
)

// IsPaymentOutcome reports whether the event drives a payment transition.
func (e GatewayEventType) IsPaymentOutcome() bool {
	return e == GatewayEventChargeSuccess || e == GatewayEventChargeFailed
}

// PaymentOutcome is the result of a charge as reported by push or pull.
type PaymentOutcome string

const (
	PaymentOutcomeSuccess PaymentOutcome = "success"
	PaymentOutcomeFailed  PaymentOutcome = "failed"
	PaymentOutcomePending PaymentOutcome = "pending"
)

// PaymentSource names which path produced a payment outcome.
type PaymentSource string

const (
	PaymentSourceWebhook   PaymentSource = "webhook"
	PaymentSourceReconcile PaymentSource = "reconcile"
	PaymentSourceExpiry    PaymentSource = "expiry"
	PaymentSourceManual    PaymentSource = "manual_verify"
)
