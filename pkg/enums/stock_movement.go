package enums

import "fmt"

// StockMovementType classifies a ledger entry.
type StockMovementType string

const (
	StockMovementReserve StockMovementType = "reserve"
	StockMovementRelease StockMovementType = "release"
	StockMovementCommit  StockMovementType = "commit"
	StockMovementRestock StockMovementType = "restock"
	StockMovementManual  StockMovementType = "manual"
)

var validStockMovementTypes = []StockMovementType{
	StockMovementReserve,
	StockMovementRelease,
	StockMovementCommit,
	StockMovementRestock,
	StockMovementManual,
}

// IsValid reports whether the value is a known StockMovementType.
func (t StockMovementType) IsValid() bool {
	for _, candidate := range validStockMovementTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseStockMovementType converts raw input into a StockMovementType.
func ParseStockMovementType(value string) (StockMovementType, error) {
	for _, candidate := range validStockMovementTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock movement type %q", value)
}
