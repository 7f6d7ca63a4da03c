package reconciler

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
)

// VendorRates reads per-vendor commission overrides.
type VendorRates interface {
	RatesTx(ctx context.Context, tx *gorm.DB, vendorIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}

type vendorRates struct {
	db *gorm.DB
}

func NewVendorRates(db *gorm.DB) VendorRates {
	return &vendorRates{db: db}
}

// RatesTx omits vendors without an override so the default rate applies.
func (r *vendorRates) RatesTx(ctx context.Context, tx *gorm.DB, vendorIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	rates := make(map[uuid.UUID]decimal.Decimal, len(vendorIDs))
	if len(vendorIDs) == 0 {
		return rates, nil
	}
	db := r.db
	if tx != nil {
		db = tx
	}
	var vendors []models.Vendor
	if err := db.WithContext(ctx).Where("id IN ?", vendorIDs).Find(&vendors).Error; err != nil {
		return nil, err
	}
	for _, v := range vendors {
		if v.CommissionRate.Valid {
			rates[v.ID] = v.CommissionRate.Decimal
		}
	}
	return rates, nil
}
