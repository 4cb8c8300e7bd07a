package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes.
const (
	WebhookProcessed         = "processed"
	WebhookDuplicate         = "duplicate"
	WebhookRejectedSignature = "rejected_signature"
	WebhookIgnored           = "ignored"
	WebhookFailed            = "failed"
)

// PaymentMetrics counts how payment outcomes reach the order state machine.
type PaymentMetrics struct {
	webhooks    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	gateway     *prometheus.HistogramVec
}

// NewPaymentMetrics registers the payment metrics on reg. A nil registerer
// yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_webhook_events_total",
		Help: "Gateway webhook deliveries by outcome.",
	}, []string{"event_type", "outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_payment_transitions_total",
		Help: "Payment transitions by source and result.",
	}, []string{"source", "outcome", "result"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_gateway_request_duration_seconds",
		Help:    "Latency of payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})
	reg.MustRegister(webhooks, transitions, gateway)
	return &PaymentMetrics{webhooks: webhooks, transitions: transitions, gateway: gateway}
}

// IncWebhook counts one webhook delivery.
func (m *PaymentMetrics) IncWebhook(eventType, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

// IncTransition counts one attempt to apply a payment outcome to an order.
func (m *PaymentMetrics) IncTransition(source, outcome string, applied bool) {
	if m == nil || m.transitions == nil {
		return
	}
	result := "noop"
	if applied {
		result = "applied"
	}
	m.transitions.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome), result).Inc()
}

// ObserveGateway records a gateway call duration.
func (m *PaymentMetrics) ObserveGateway(operation string, err error, d time.Duration) {
	if m == nil || m.gateway == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.gateway.WithLabelValues(normalizeLabel(operation), status).Observe(d.Seconds())
}
