package models

import "errors"

// ErrImmutableOrderItem is returned when code tries to update an order item snapshot.
var ErrImmutableOrderItem = errors.New("order items are immutable")
