package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// Shipment is the courier booking for one vendor's share of an order.
type Shipment struct {
	ID           uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID      uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_shipments_order_vendor"`
	VendorID     uuid.UUID            `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex:ux_shipments_order_vendor"`
	Courier      string               `gorm:"column:courier;not null"`
	TrackingCode *string              `gorm:"column:tracking_code;uniqueIndex"`
	Status       enums.ShipmentStatus `gorm:"column:status;type:shipment_status;not null;default:'pending'"`
	LastError    *string              `gorm:"column:last_error"`
	BookedAt     *time.Time           `gorm:"column:booked_at"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shipment) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}
