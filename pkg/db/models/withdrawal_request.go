package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// WithdrawalRequest is a vendor's request to pay out part of its wallet balance.
type WithdrawalRequest struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	VendorID         uuid.UUID              `gorm:"column:vendor_id;type:uuid;not null;index"`
	AmountCents      int64                  `gorm:"column:amount_cents;not null"`
	Status           enums.WithdrawalStatus `gorm:"column:status;type:withdrawal_status_enum;not null;index"`
	RequestedAt      time.Time              `gorm:"column:requested_at;not null"`
	ApprovedAt       *time.Time             `gorm:"column:approved_at"`
	ApprovedBy       *uuid.UUID             `gorm:"column:approved_by;type:uuid"`
	RejectedAt       *time.Time             `gorm:"column:rejected_at"`
	RejectedBy       *uuid.UUID             `gorm:"column:rejected_by;type:uuid"`
	RejectionReason  *string                `gorm:"column:rejection_reason"`
	PaidAt           *time.Time             `gorm:"column:paid_at"`
	PaidBy           *uuid.UUID             `gorm:"column:paid_by;type:uuid"`
	PaymentReference *string                `gorm:"column:payment_reference"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *WithdrawalRequest) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
