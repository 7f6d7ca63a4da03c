package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// Vendor is an independently operated seller settled through the ledger.
type Vendor struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Name            string              `gorm:"column:name;not null"`
	Status          enums.VendorStatus  `gorm:"column:status;type:vendor_status;not null;default:'pending'"`
	KYCStatus       enums.KYCStatus     `gorm:"column:kyc_status;type:kyc_status;not null;default:'pending'"`
	CommissionRate  decimal.NullDecimal `gorm:"column:commission_rate;type:numeric(5,4)"`
	StripeAccountID *string             `gorm:"column:stripe_account_id"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *Vendor) BeforeCreate(*gorm.DB) error {
	assignID(&v.ID)
	return nil
}

// PayoutEligible reports whether the vendor may receive payouts.
func (v Vendor) PayoutEligible() bool {
	return v.Status == enums.VendorStatusApproved && v.KYCStatus == enums.KYCStatusCleared
}

// RateOr returns the vendor's own commission rate or the fallback.
func (v Vendor) RateOr(fallback decimal.Decimal) decimal.Decimal {
	if v.CommissionRate.Valid {
		return v.CommissionRate.Decimal
	}
	return fallback
}
