package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VendorWallet holds a vendor's withdrawable balance and the amount earmarked for payouts.
type VendorWallet struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	VendorID         uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex:ux_vendor_wallets_vendor"`
	BalanceCents     int64     `gorm:"column:balance_cents;not null;default:0"`
	HoldBalanceCents int64     `gorm:"column:hold_balance_cents;not null;default:0"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *VendorWallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
