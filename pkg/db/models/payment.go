package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// Payment is one attempt to collect an Order's total through a single gateway.
// Rows are never deleted.
type Payment struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	Gateway         enums.PaymentGateway `gorm:"column:gateway;type:payment_gateway;not null"`
	ExternalID      *string              `gorm:"column:external_id;index"`
	AmountCents     int64                `gorm:"column:amount_cents;not null"`
	RefundedCents   int64                `gorm:"column:refunded_cents;not null;default:0"`
	Currency        enums.Currency       `gorm:"column:currency;not null"`
	Status          enums.PaymentStatus  `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	FailureReason   *string              `gorm:"column:failure_reason"`
	GatewayResponse datatypes.JSON       `gorm:"column:gateway_response"`
	IdempotencyKey  *string              `gorm:"column:idempotency_key;uniqueIndex"`
	CompletedAt     *time.Time           `gorm:"column:completed_at"`
	FailedAt        *time.Time           `gorm:"column:failed_at"`
	RefundedAt      *time.Time           `gorm:"column:refunded_at"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`

	// PendingRefundCents is held while a refund is in flight at the gateway.
	PendingRefundCents int64 `gorm:"column:pending_refund_cents;not null;default:0"`
	// StockDeducted is set when this payment's capture took the order's stock.
	StockDeducted bool `gorm:"column:stock_deducted;not null;default:false"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}

// RefundableCents is what is left to refund on a completed payment.
func (p Payment) RefundableCents() int64 {
	return p.AmountCents - p.RefundedCents
}

// UnheldRefundableCents excludes refunds already in flight.
func (p Payment) UnheldRefundableCents() int64 {
	return p.RefundableCents() - p.PendingRefundCents
}

// WebhookEvent records each provider event id that has been applied.
// The unique (gateway, event_id) index is the durable replay guard.
type WebhookEvent struct {
	ID        uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Gateway   enums.PaymentGateway `gorm:"column:gateway;type:payment_gateway;not null;uniqueIndex:ux_webhook_events_gateway_event"`
	EventID   string               `gorm:"column:event_id;not null;uniqueIndex:ux_webhook_events_gateway_event"`
	PaymentID *uuid.UUID           `gorm:"column:payment_id;type:uuid;index"`
	Outcome   string               `gorm:"column:outcome;not null"`
	Payload   datatypes.JSON       `gorm:"column:payload"`
	CreatedAt time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (e *WebhookEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
