package gateway

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// ErrTransactionNotFound is returned by Verify when the gateway has no record
// of the reference, typically because the shopper never opened the payment page.
var ErrTransactionNotFound = errors.New("gateway transaction not found")

// Transaction statuses reported by the gateway.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusReversed  = "reversed"
	StatusAbandoned = "abandoned"
	StatusPending   = "pending"
	StatusOngoing   = "ongoing"
)

type InitializeRequest struct {
	Reference   string
	Email       string
	AmountMinor int64
	Currency    string
	CallbackURL string
	Metadata    map[string]string
}

type InitializeResult struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
}

// Transaction is the gateway's view of a charge.
type Transaction struct {
	Reference   string
	Status      string
	AmountMinor int64
	Currency    string
	PaidAt      *time.Time
}

// Outcome maps the gateway status onto the order payment vocabulary. Only
// explicit failures count as failed; abandoned or in-flight charges stay pending.
func (t Transaction) Outcome() enums.PaymentOutcome {
	switch strings.ToLower(t.Status) {
	case StatusSuccess:
		return enums.PaymentOutcomeSuccess
	case StatusFailed, StatusReversed:
		return enums.PaymentOutcomeFailed
	default:
		return enums.PaymentOutcomePending
	}
}

type RefundRequest struct {
	Reference   string
	AmountMinor int64
	Reason      string
}

type RefundResult struct {
	ID          string
	Status      string
	AmountMinor int64
}

// Event is a decoded webhook delivery.
type Event struct {
	Type enums.GatewayEventType
	Data EventData
}

type EventData struct {
	Reference   string     `json:"reference"`
	Status      string     `json:"status"`
	AmountMinor int64      `json:"amount"`
	Currency    string     `json:"currency"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// ParseEvent decodes a webhook body. It does not verify the signature.
func ParseEvent(body []byte) (Event, error) {
	var raw struct {
		Event string    `json:"event"`
		Data  EventData `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, err
	}
	if strings.TrimSpace(raw.Event) == "" {
		return Event{}, errors.New("event name missing")
	}
	if strings.TrimSpace(raw.Data.Reference) == "" {
		return Event{}, errors.New("event reference missing")
	}
	raw.Data.Reference = strings.TrimSpace(raw.Data.Reference)
	return Event{Type: enums.GatewayEventType(strings.TrimSpace(raw.Event)), Data: raw.Data}, nil
}
