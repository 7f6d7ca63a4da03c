package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregatePayment      OutboxAggregateType = "payment"
	AggregateInventory    OutboxAggregateType = "inventory"
	AggregateVendorPayout OutboxAggregateType = "vendor_payout"
	AggregateShipment     OutboxAggregateType = "shipment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateInventory,
	AggregateVendorPayout,
	AggregateShipment,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event relayed by the outbox publisher.
type OutboxEventType string

const (
	EventOrderPlaced                 OutboxEventType = "order_placed"
	EventOrderExpired                OutboxEventType = "order_expired"
	EventReservationReleased         OutboxEventType = "reservation_released"
	EventPaymentCompleted            OutboxEventType = "payment_completed"
	EventPaymentFailed               OutboxEventType = "payment_failed"
	EventPaymentRefunded             OutboxEventType = "payment_refunded"
	EventPaymentLateCapture          OutboxEventType = "payment_late_capture"
	EventInventoryIntegrityViolation OutboxEventType = "inventory_integrity_violation"
	EventLowStockAlertOpened         OutboxEventType = "low_stock_alert_opened"
	EventPayoutCreated               OutboxEventType = "payout_created"
	EventPayoutCompleted             OutboxEventType = "payout_completed"
	EventPayoutFailed                OutboxEventType = "payout_failed"
	EventShipmentBooked              OutboxEventType = "shipment_booked"
	EventShipmentStatusChanged       OutboxEventType = "shipment_status_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderExpired,
	EventReservationReleased,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventPaymentRefunded,
	EventPaymentLateCapture,
	EventInventoryIntegrityViolation,
	EventLowStockAlertOpened,
	EventPayoutCreated,
	EventPayoutCompleted,
	EventPayoutFailed,
	EventShipmentBooked,
	EventShipmentStatusChanged,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
