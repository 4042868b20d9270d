package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CommissionScopeGlobal keys the singleton marketplace-wide commission row.
const CommissionScopeGlobal = "global"

// CommissionConfig stores the global commission percentage.
type CommissionConfig struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Scope     string          `gorm:"column:scope;not null;uniqueIndex:ux_commission_configs_scope"`
	Rate      decimal.Decimal `gorm:"column:rate;type:numeric(5,2);not null"`
	UpdatedBy *uuid.UUID      `gorm:"column:updated_by;type:uuid"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CommissionConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// VendorCommissionOverride replaces the global rate for a single vendor.
type VendorCommissionOverride struct {
	VendorID  uuid.UUID       `gorm:"column:vendor_id;type:uuid;primaryKey"`
	Rate      decimal.Decimal `gorm:"column:rate;type:numeric(5,2);not null"`
	UpdatedBy *uuid.UUID      `gorm:"column:updated_by;type:uuid"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
