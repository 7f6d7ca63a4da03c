// Package splitter divides a multi-vendor order into per-vendor sub-orders and settles them.
package splitter

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
)

// SubOrder is one vendor's share of an order.
type SubOrder struct {
	VendorID   uuid.UUID
	Items      []models.OrderItem
	GrossCents int64
	Units      int
}

// Settlement is the money owed to one vendor for a sub-order.
type Settlement struct {
	VendorID        uuid.UUID
	GrossCents      int64
	CommissionRate  decimal.Decimal
	CommissionCents int64
	NetCents        int64
}

// Split groups items by vendor. Vendors appear in the order of their first item.
func Split(items []models.OrderItem) []SubOrder {
	index := make(map[uuid.UUID]int, len(items))
	var subs []SubOrder
	for _, item := range items {
		pos, ok := index[item.VendorID]
		if !ok {
			pos = len(subs)
			index[item.VendorID] = pos
			subs = append(subs, SubOrder{VendorID: item.VendorID})
		}
		subs[pos].Items = append(subs[pos].Items, item)
		subs[pos].GrossCents += item.LineTotalCents()
		subs[pos].Units += item.Quantity
	}
	return subs
}

// Settle applies each vendor's commission rate, falling back to the default rate.
// Commission is rounded half-up to whole minor units; net is gross minus commission.
func Settle(subs []SubOrder, rates map[uuid.UUID]decimal.Decimal, fallback decimal.Decimal) []Settlement {
	out := make([]Settlement, 0, len(subs))
	for _, sub := range subs {
		rate, ok := rates[sub.VendorID]
		if !ok {
			rate = fallback
		}
		commission := Commission(sub.GrossCents, rate)
		out = append(out, Settlement{
			VendorID:        sub.VendorID,
			GrossCents:      sub.GrossCents,
			CommissionRate:  rate,
			CommissionCents: commission,
			NetCents:        sub.GrossCents - commission,
		})
	}
	return out
}

// Commission returns gross*rate rounded half-up to minor units.
func Commission(grossCents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(grossCents).Mul(rate).Round(0).IntPart()
}

// NetShare is the part of the vendor's net attributable to cumulativeCents of
// an order total. Successive partial refunds debit the difference between the
// shares before and after, so a full refund always sums to exactly NetCents.
func (s Settlement) NetShare(cumulativeCents, orderTotalCents int64) int64 {
	if orderTotalCents <= 0 || cumulativeCents <= 0 {
		return 0
	}
	if cumulativeCents >= orderTotalCents {
		return s.NetCents
	}
	return decimal.NewFromInt(s.NetCents).
		Mul(decimal.NewFromInt(cumulativeCents)).
		Div(decimal.NewFromInt(orderTotalCents)).
		Round(0).
		IntPart()
}
