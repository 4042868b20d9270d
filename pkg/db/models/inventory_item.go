package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem is the catalog read model the settlement core needs at checkout:
// vendor, price snapshot inputs, activity flag and available/reserved counts.
type InventoryItem struct {
	ProductID          uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	VendorID           uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;index"`
	Name               string    `gorm:"column:name;not null"`
	PriceCents         int64     `gorm:"column:price_cents;not null"`
	DiscountPriceCents *int64    `gorm:"column:discount_price_cents"`
	IsActive           bool      `gorm:"column:is_active;not null;default:true"`
	AvailableQty       int       `gorm:"column:available_qty;not null;default:0"`
	ReservedQty        int       `gorm:"column:reserved_qty;not null;default:0"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// UnitPriceCents returns the effective price charged at checkout.
func (i InventoryItem) UnitPriceCents() int64 {
	if i.DiscountPriceCents != nil && *i.DiscountPriceCents > 0 && *i.DiscountPriceCents < i.PriceCents {
		return *i.DiscountPriceCents
	}
	return i.PriceCents
}
