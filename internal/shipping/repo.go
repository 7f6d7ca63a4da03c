package shipping

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrCreate(ctx context.Context, orderID, vendorID uuid.UUID, courier string) (*models.Shipment, error)
	FindByTrackingForUpdate(ctx context.Context, courier, trackingCode string) (*models.Shipment, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
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

// FindOrCreate returns the single shipment for (order, vendor).
func (r *repository) FindOrCreate(ctx context.Context, orderID, vendorID uuid.UUID, courier string) (*models.Shipment, error) {
	shipment := &models.Shipment{OrderID: orderID, VendorID: vendorID, Courier: courier}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}, {Name: "vendor_id"}}, DoNothing: true}).
		Create(shipment).Error
	if err != nil {
		return nil, err
	}
	var out models.Shipment
	if err := r.db.WithContext(ctx).Where("order_id = ? AND vendor_id = ?", orderID, vendorID).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *repository) FindByTrackingForUpdate(ctx context.Context, courier, trackingCode string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("courier = ? AND tracking_code = ?", courier, trackingCode).
		First(&shipment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error) {
	var shipments []models.Shipment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&shipments).Error
	return shipments, err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.Shipment{}).Where("id = ?", id).Updates(updates).Error
}
