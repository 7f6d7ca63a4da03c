package enums

import "fmt"

// InventoryTransactionType classifies an entry in the inventory audit log.
type InventoryTransactionType string

const (
	InventoryTxStockIn    InventoryTransactionType = "stock_in"
	InventoryTxStockOut   InventoryTransactionType = "stock_out"
	InventoryTxAdjustment InventoryTransactionType = "adjustment"
)

var validInventoryTransactionTypes = []InventoryTransactionType{
	InventoryTxStockIn,
	InventoryTxStockOut,
	InventoryTxAdjustment,
}

// String implements fmt.Stringer.
func (t InventoryTransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known InventoryTransactionType.
func (t InventoryTransactionType) IsValid() bool {
	for _, candidate := range validInventoryTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseInventoryTransactionType converts raw input into an InventoryTransactionType.
func ParseInventoryTransactionType(value string) (InventoryTransactionType, error) {
	for _, candidate := range validInventoryTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inventory transaction type %q", value)
}

// InventoryOperation names the ledger call that produced a transaction row.
type InventoryOperation string

const (
	InventoryOpReserve  InventoryOperation = "reserve"
	InventoryOpRelease  InventoryOperation = "release"
	InventoryOpDeduct   InventoryOperation = "deduct"
	InventoryOpAddStock InventoryOperation = "add_stock"
	InventoryOpAdjust   InventoryOperation = "adjust"
)

// TransactionType is the audit classification recorded for the operation.
// Reservations move no physical stock and are logged as adjustments of the hold.
func (o InventoryOperation) TransactionType() InventoryTransactionType {
	switch o {
	case InventoryOpDeduct:
		return InventoryTxStockOut
	case InventoryOpAddStock:
		return InventoryTxStockIn
	default:
		return InventoryTxAdjustment
	}
}
