package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// Key addresses one inventory row.
type Key struct {
	WarehouseID uuid.UUID
	ProductID   uuid.UUID
	VariantID   *uuid.UUID
}

func (k Key) String() string {
	variant := "-"
	if k.VariantID != nil {
		variant = k.VariantID.String()
	}
	return fmt.Sprintf("%s/%s/%s", k.WarehouseID, k.ProductID, variant)
}

// KeyOf returns the key of an existing row.
func KeyOf(inv models.Inventory) Key {
	return Key{WarehouseID: inv.WarehouseID, ProductID: inv.ProductID, VariantID: inv.VariantID}
}

// Repository persists inventory rows, their transaction log and low-stock alerts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, key Key) (*models.Inventory, error)
	FindForUpdate(ctx context.Context, key Key) (*models.Inventory, error)
	Create(ctx context.Context, inv *models.Inventory) error
	UpdateQuantities(ctx context.Context, inv *models.Inventory) error
	InsertTransaction(ctx context.Context, txn *models.InventoryTransaction) error
	ListTransactions(ctx context.Context, inventoryID uuid.UUID) ([]models.InventoryTransaction, error)
	FindOpenAlert(ctx context.Context, inventoryID uuid.UUID) (*models.LowStockAlert, error)
	CreateAlert(ctx context.Context, alert *models.LowStockAlert) error
	ResolveAlert(ctx context.Context, alertID uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func keyScope(key Key) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("warehouse_id = ? AND product_id = ?", key.WarehouseID, key.ProductID)
		if key.VariantID == nil {
			return db.Where("variant_id IS NULL")
		}
		return db.Where("variant_id = ?", *key.VariantID)
	}
}

func (r *repository) Find(ctx context.Context, key Key) (*models.Inventory, error) {
	var inv models.Inventory
	err := r.db.WithContext(ctx).Scopes(keyScope(key)).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// FindForUpdate selects the row with an exclusive lock held until the transaction ends.
func (r *repository) FindForUpdate(ctx context.Context, key Key) (*models.Inventory, error) {
	var inv models.Inventory
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(keyScope(key)).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) Create(ctx context.Context, inv *models.Inventory) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *repository) UpdateQuantities(ctx context.Context, inv *models.Inventory) error {
	return r.db.WithContext(ctx).
		Model(&models.Inventory{}).
		Where("id = ?", inv.ID).
		Updates(map[string]any{
			"quantity":          inv.Quantity,
			"reserved_quantity": inv.ReservedQuantity,
			"updated_at":        time.Now().UTC(),
		}).Error
}

func (r *repository) InsertTransaction(ctx context.Context, txn *models.InventoryTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, inventoryID uuid.UUID) ([]models.InventoryTransaction, error) {
	var rows []models.InventoryTransaction
	err := r.db.WithContext(ctx).
		Where("inventory_id = ?", inventoryID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindOpenAlert(ctx context.Context, inventoryID uuid.UUID) (*models.LowStockAlert, error) {
	var alert models.LowStockAlert
	err := r.db.WithContext(ctx).
		Where("inventory_id = ? AND status = ?", inventoryID, enums.LowStockAlertOpen).
		First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (r *repository) CreateAlert(ctx context.Context, alert *models.LowStockAlert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *repository) ResolveAlert(ctx context.Context, alertID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.LowStockAlert{}).
		Where("id = ?", alertID).
		Updates(map[string]any{
			"status":      enums.LowStockAlertResolved,
			"resolved_at": at,
		}).Error
}
