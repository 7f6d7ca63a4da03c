package inventory

import (
	"errors"

	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
)

var (
	// ErrInsufficientStock is returned when a reserve or deduct asks for more than the row holds.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrNotFound is returned when no inventory row exists for the key.
	ErrNotFound = errors.New("inventory not found")
)

func insufficient(key Key, requested, available int) error {
	return pkgerrors.Wrap(pkgerrors.CodeInsufficientStock, ErrInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"warehouse_id": key.WarehouseID,
			"product_id":   key.ProductID,
			"variant_id":   key.VariantID,
			"requested":    requested,
			"available":    available,
		})
}

func notFound(key Key) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrNotFound, "inventory not found for "+key.String())
}
