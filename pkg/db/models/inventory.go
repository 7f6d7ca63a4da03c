package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// Inventory is the stock record for one (warehouse, product, variant) key.
// Rows persist at zero stock.
type Inventory struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	WarehouseID      uuid.UUID  `gorm:"column:warehouse_id;type:uuid;not null;uniqueIndex:ux_inventory_key"`
	ProductID        uuid.UUID  `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_inventory_key"`
	VariantID        *uuid.UUID `gorm:"column:variant_id;type:uuid;uniqueIndex:ux_inventory_key"`
	Quantity         int        `gorm:"column:quantity;not null;default:0"`
	ReservedQuantity int        `gorm:"column:reserved_quantity;not null;default:0"`
	ReorderLevel     int        `gorm:"column:reorder_level;not null;default:0"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps the singular table name used by the migrations.
func (Inventory) TableName() string {
	return "inventory"
}

func (i *Inventory) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

// AvailableQuantity is on-hand stock not held by a reservation.
func (i Inventory) AvailableQuantity() int {
	return i.Quantity - i.ReservedQuantity
}

// InventoryTransaction is the write-once audit row for an Inventory mutation.
type InventoryTransaction struct {
	ID             uuid.UUID                      `gorm:"column:id;type:uuid;primaryKey"`
	InventoryID    uuid.UUID                      `gorm:"column:inventory_id;type:uuid;not null;index"`
	Operation      enums.InventoryOperation       `gorm:"column:operation;not null"`
	Type           enums.InventoryTransactionType `gorm:"column:type;type:inventory_transaction_type;not null"`
	Quantity       int                            `gorm:"column:quantity;not null"`
	BeforeQuantity int                            `gorm:"column:before_quantity;not null"`
	AfterQuantity  int                            `gorm:"column:after_quantity;not null"`
	ReservedBefore int                            `gorm:"column:reserved_before;not null"`
	ReservedAfter  int                            `gorm:"column:reserved_after;not null"`
	ReferenceType  *string                        `gorm:"column:reference_type"`
	ReferenceID    *string                        `gorm:"column:reference_id;index"`
	Actor          string                         `gorm:"column:actor;not null"`
	Reason         *string                        `gorm:"column:reason"`
	CreatedAt      time.Time                      `gorm:"column:created_at;autoCreateTime"`
}

func (t *InventoryTransaction) BeforeCreate(*gorm.DB) error {
	assignID(&t.ID)
	return nil
}

// LowStockAlert flags an inventory row at or below its reorder level.
// At most one open alert exists per inventory row.
type LowStockAlert struct {
	ID                uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	InventoryID       uuid.UUID                 `gorm:"column:inventory_id;type:uuid;not null;uniqueIndex:ux_low_stock_alerts_open,where:status = 'open'"`
	WarehouseID       uuid.UUID                 `gorm:"column:warehouse_id;type:uuid;not null"`
	ProductID         uuid.UUID                 `gorm:"column:product_id;type:uuid;not null"`
	VariantID         *uuid.UUID                `gorm:"column:variant_id;type:uuid"`
	AvailableQuantity int                       `gorm:"column:available_quantity;not null"`
	ReorderLevel      int                       `gorm:"column:reorder_level;not null"`
	Status            enums.LowStockAlertStatus `gorm:"column:status;type:low_stock_alert_status;not null;default:'open'"`
	ResolvedAt        *time.Time                `gorm:"column:resolved_at"`
	CreatedAt         time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

func (a *LowStockAlert) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}
