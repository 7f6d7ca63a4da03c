package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// Order is one customer checkout, possibly spanning several vendors.
type Order struct {
	ID                   uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID           uuid.UUID         `gorm:"column:customer_id;type:uuid;not null;index"`
	Status               enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending';index"`
	TotalCents           int64             `gorm:"column:total_cents;not null"`
	Currency             enums.Currency    `gorm:"column:currency;not null"`
	ReservationExpiresAt time.Time         `gorm:"column:reservation_expires_at;not null;index"`
	Items                []OrderItem       `gorm:"foreignKey:OrderID"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// OrderItem pins one line to a vendor, product and warehouse at a price snapshot.
type OrderItem struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	VendorID       uuid.UUID  `gorm:"column:vendor_id;type:uuid;not null;index"`
	ProductID      uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID      *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	WarehouseID    uuid.UUID  `gorm:"column:warehouse_id;type:uuid;not null"`
	UnitPriceCents int64      `gorm:"column:unit_price_cents;not null"`
	Quantity       int        `gorm:"column:quantity;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

// LineTotalCents is unit price times quantity.
func (i OrderItem) LineTotalCents() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}
