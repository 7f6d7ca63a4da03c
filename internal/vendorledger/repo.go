package vendorledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
)

// Repository persists append-only vendor ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, entry *models.VendorLedgerEntry) error
	FindByReference(ctx context.Context, referenceKey string) (*models.VendorLedgerEntry, error)
	Balance(ctx context.Context, vendorID uuid.UUID) (int64, error)
	List(ctx context.Context, vendorID uuid.UUID, limit int) ([]models.VendorLedgerEntry, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.VendorLedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, entry *models.VendorLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByReference(ctx context.Context, referenceKey string) (*models.VendorLedgerEntry, error) {
	var entry models.VendorLedgerEntry
	err := r.db.WithContext(ctx).Where("reference_key = ?", referenceKey).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Balance sums the vendor's non-informational entries.
func (r *repository) Balance(ctx context.Context, vendorID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.VendorLedgerEntry{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("vendor_id = ? AND informational = ?", vendorID, false).
		Scan(&total).Error
	return total, err
}

func (r *repository) List(ctx context.Context, vendorID uuid.UUID, limit int) ([]models.VendorLedgerEntry, error) {
	var entries []models.VendorLedgerEntry
	query := r.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.VendorLedgerEntry, error) {
	var entries []models.VendorLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
