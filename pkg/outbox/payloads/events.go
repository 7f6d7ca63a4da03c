package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// OrderPlacedEvent is emitted once an order and its reservations are committed.
type OrderPlacedEvent struct {
	OrderID    uuid.UUID      `json:"order_id"`
	CustomerID uuid.UUID      `json:"customer_id"`
	VendorIDs  []uuid.UUID    `json:"vendor_ids"`
	TotalCents int64          `json:"total_cents"`
	Currency   enums.Currency `json:"currency"`
}

// ReservationReleasedEvent reports stock handed back from an unpaid order.
type ReservationReleasedEvent struct {
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason"`
	Items   int       `json:"items"`
}

// OrderExpiredEvent is emitted by the reservation sweep.
type OrderExpiredEvent struct {
	OrderID uuid.UUID `json:"order_id"`
}

// PaymentStatusEvent carries a payment transition.
type PaymentStatusEvent struct {
	PaymentID     uuid.UUID            `json:"payment_id"`
	OrderID       uuid.UUID            `json:"order_id"`
	Gateway       enums.PaymentGateway `json:"gateway"`
	Status        enums.PaymentStatus  `json:"status"`
	AmountCents   int64                `json:"amount_cents"`
	RefundedCents int64                `json:"refunded_cents,omitempty"`
	Currency      enums.Currency       `json:"currency"`
	Reason        string               `json:"reason,omitempty"`
}

// LateCaptureEvent flags money captured for a payment already failed by the engine.
// It needs a manual refund.
type LateCaptureEvent struct {
	PaymentID   uuid.UUID            `json:"payment_id"`
	OrderID     uuid.UUID            `json:"order_id"`
	Gateway     enums.PaymentGateway `json:"gateway"`
	ExternalID  string               `json:"external_id"`
	AmountCents int64                `json:"amount_cents"`
}

// InventoryIntegrityEvent reports a deduct that could not be applied at capture time.
type InventoryIntegrityEvent struct {
	OrderID     uuid.UUID  `json:"order_id"`
	PaymentID   uuid.UUID  `json:"payment_id"`
	OrderItemID uuid.UUID  `json:"order_item_id"`
	WarehouseID uuid.UUID  `json:"warehouse_id"`
	ProductID   uuid.UUID  `json:"product_id"`
	VariantID   *uuid.UUID `json:"variant_id,omitempty"`
	Quantity    int        `json:"quantity"`
	Problem     string     `json:"problem"`
}

// LowStockAlertEvent is emitted when an alert opens.
type LowStockAlertEvent struct {
	AlertID           uuid.UUID  `json:"alert_id"`
	InventoryID       uuid.UUID  `json:"inventory_id"`
	WarehouseID       uuid.UUID  `json:"warehouse_id"`
	ProductID         uuid.UUID  `json:"product_id"`
	VariantID         *uuid.UUID `json:"variant_id,omitempty"`
	AvailableQuantity int        `json:"available_quantity"`
	ReorderLevel      int        `json:"reorder_level"`
}

// PayoutEvent carries a payout transition.
type PayoutEvent struct {
	PayoutID    uuid.UUID          `json:"payout_id"`
	VendorID    uuid.UUID          `json:"vendor_id"`
	AmountCents int64              `json:"amount_cents"`
	Currency    enums.Currency     `json:"currency"`
	Status      enums.PayoutStatus `json:"status"`
	Reason      string             `json:"reason,omitempty"`
}

// ShipmentEvent carries a shipment booking or status change.
type ShipmentEvent struct {
	ShipmentID   uuid.UUID            `json:"shipment_id"`
	OrderID      uuid.UUID            `json:"order_id"`
	VendorID     uuid.UUID            `json:"vendor_id"`
	Courier      string               `json:"courier"`
	TrackingCode string               `json:"tracking_code,omitempty"`
	Status       enums.ShipmentStatus `json:"status"`
}
