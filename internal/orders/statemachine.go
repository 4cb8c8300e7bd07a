package orders

import (
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Transition is one edge of the order state machine. ToPayment is empty when
// the payment status is left unchanged.
type Transition struct {
	Name        string
	FromStatus  []enums.OrderStatus
	FromPayment []enums.PaymentStatus
	ToStatus    enums.OrderStatus
	ToPayment   enums.PaymentStatus
}

var (
	TransitionPaymentSucceeded = Transition{
		Name:        "payment_succeeded",
		FromStatus:  []enums.OrderStatus{enums.OrderStatusPending},
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusPending},
		ToStatus:    enums.OrderStatusProcessing,
		ToPayment:   enums.PaymentStatusPaid,
	}
	TransitionPaymentFailed = Transition{
		Name:        "payment_failed",
		FromStatus:  []enums.OrderStatus{enums.OrderStatusPending},
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusPending},
		ToStatus:    enums.OrderStatusPending,
		ToPayment:   enums.PaymentStatusFailed,
	}
	TransitionRetryPayment = Transition{
		Name:        "retry_payment",
		FromStatus:  []enums.OrderStatus{enums.OrderStatusPending},
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusFailed},
		ToStatus:    enums.OrderStatusPending,
		ToPayment:   enums.PaymentStatusPending,
	}
	TransitionCancel = Transition{
		Name:        "cancel",
		FromStatus:  []enums.OrderStatus{enums.OrderStatusPending},
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusFailed},
		ToStatus:    enums.OrderStatusCancelled,
	}
	TransitionShip = Transition{
		Name:        "ship",
		FromStatus:  []enums.OrderStatus{enums.OrderStatusProcessing},
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusPaid},
		ToStatus:    enums.OrderStatusShipped,
	}
	TransitionDeliver = Transition{
		Name:        "deliver",
		FromStatus:  []enums.OrderStatus{enums.OrderStatusShipped},
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusPaid},
		ToStatus:    enums.OrderStatusDelivered,
	}
	TransitionRefund = Transition{
		Name:        "refund",
		FromStatus:  []enums.OrderStatus{enums.OrderStatusProcessing, enums.OrderStatusShipped, enums.OrderStatusDelivered},
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusPaid},
		ToStatus:    enums.OrderStatusRefunded,
		ToPayment:   enums.PaymentStatusRefunded,
	}
)

// Allows reports whether the order may take this transition from its current state.
func (t Transition) Allows(status enums.OrderStatus, payment enums.PaymentStatus) bool {
	return containsStatus(t.FromStatus, status) && containsPayment(t.FromPayment, payment)
}

// Reached reports whether an order is already in the transition's target state.
func (t Transition) Reached(status enums.OrderStatus, payment enums.PaymentStatus) bool {
	if status != t.ToStatus {
		return false
	}
	return t.ToPayment == "" || payment == t.ToPayment
}

// TargetPayment resolves the payment status after the transition.
func (t Transition) TargetPayment(current enums.PaymentStatus) enums.PaymentStatus {
	if t.ToPayment == "" {
		return current
	}
	return t.ToPayment
}

var legalPairs = map[enums.OrderStatus][]enums.PaymentStatus{
	enums.OrderStatusPending:    {enums.PaymentStatusPending, enums.PaymentStatusFailed},
	enums.OrderStatusProcessing: {enums.PaymentStatusPaid},
	enums.OrderStatusShipped:    {enums.PaymentStatusPaid},
	enums.OrderStatusDelivered:  {enums.PaymentStatusPaid},
	enums.OrderStatusCancelled:  {enums.PaymentStatusPending, enums.PaymentStatusFailed},
	enums.OrderStatusRefunded:   {enums.PaymentStatusRefunded},
}

// IsLegalPair reports whether status and payment status may coexist.
func IsLegalPair(status enums.OrderStatus, payment enums.PaymentStatus) bool {
	return containsPayment(legalPairs[status], payment)
}

func containsStatus(list []enums.OrderStatus, v enums.OrderStatus) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsPayment(list []enums.PaymentStatus, v enums.PaymentStatus) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
