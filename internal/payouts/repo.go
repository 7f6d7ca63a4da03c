package payouts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// Repository reads vendors and persists payout batches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListEligibleVendors(ctx context.Context) ([]models.Vendor, error)
	LockVendor(ctx context.Context, vendorID uuid.UUID) (*models.Vendor, error)
	FindVendor(ctx context.Context, vendorID uuid.UUID) (*models.Vendor, error)
	Create(ctx context.Context, payout *models.VendorPayout) error
	FindForUpdate(ctx context.Context, payoutID uuid.UUID) (*models.VendorPayout, error)
	Find(ctx context.Context, payoutID uuid.UUID) (*models.VendorPayout, error)
	Update(ctx context.Context, payout *models.VendorPayout) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListEligibleVendors(ctx context.Context) ([]models.Vendor, error) {
	var vendors []models.Vendor
	err := r.db.WithContext(ctx).
		Where("status = ? AND kyc_status = ?", enums.VendorStatusApproved, enums.KYCStatusCleared).
		Order("created_at ASC").
		Find(&vendors).Error
	return vendors, err
}

// LockVendor serializes payout runs for one vendor.
func (r *repository) LockVendor(ctx context.Context, vendorID uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&vendor, "id = ?", vendorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (r *repository) FindVendor(ctx context.Context, vendorID uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.WithContext(ctx).First(&vendor, "id = ?", vendorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (r *repository) Create(ctx context.Context, payout *models.VendorPayout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) FindForUpdate(ctx context.Context, payoutID uuid.UUID) (*models.VendorPayout, error) {
	var payout models.VendorPayout
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payout, "id = ?", payoutID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) Find(ctx context.Context, payoutID uuid.UUID) (*models.VendorPayout, error) {
	var payout models.VendorPayout
	err := r.db.WithContext(ctx).First(&payout, "id = ?", payoutID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) Update(ctx context.Context, payout *models.VendorPayout) error {
	payout.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.VendorPayout{}).
		Where("id = ?", payout.ID).
		Updates(map[string]any{
			"status":               payout.Status,
			"external_transfer_id": payout.ExternalTransferID,
			"failure_reason":       payout.FailureReason,
			"processed_at":         payout.ProcessedAt,
			"completed_at":         payout.CompletedAt,
			"failed_at":            payout.FailedAt,
			"updated_at":           payout.UpdatedAt,
		}).Error
}
