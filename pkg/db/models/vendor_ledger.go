package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// VendorLedgerEntry is an append-only signed amount attributed to one vendor.
// ReferenceKey is unique so a replayed posting cannot land twice.
type VendorLedgerEntry struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	VendorID      uuid.UUID             `gorm:"column:vendor_id;type:uuid;not null;index"`
	Type          enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type;not null"`
	AmountCents   int64                 `gorm:"column:amount_cents;not null"`
	Currency      enums.Currency        `gorm:"column:currency;not null"`
	Informational bool                  `gorm:"column:informational;not null;default:false"`
	ReferenceKey  string                `gorm:"column:reference_key;not null;uniqueIndex"`
	PaymentID     *uuid.UUID            `gorm:"column:payment_id;type:uuid;index"`
	OrderID       *uuid.UUID            `gorm:"column:order_id;type:uuid"`
	PayoutID      *uuid.UUID            `gorm:"column:payout_id;type:uuid;index"`
	Memo          *string               `gorm:"column:memo"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (e *VendorLedgerEntry) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}

// VendorPayout is a settlement batch; its payout_debit is posted at creation.
type VendorPayout struct {
	ID                 uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	VendorID           uuid.UUID          `gorm:"column:vendor_id;type:uuid;not null;index"`
	AmountCents        int64              `gorm:"column:amount_cents;not null"`
	Currency           enums.Currency     `gorm:"column:currency;not null"`
	Status             enums.PayoutStatus `gorm:"column:status;type:payout_status;not null;default:'pending'"`
	Method             string             `gorm:"column:method;not null"`
	ExternalTransferID *string            `gorm:"column:external_transfer_id"`
	FailureReason      *string            `gorm:"column:failure_reason"`
	ProcessedAt        *time.Time         `gorm:"column:processed_at"`
	CompletedAt        *time.Time         `gorm:"column:completed_at"`
	FailedAt           *time.Time         `gorm:"column:failed_at"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *VendorPayout) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
