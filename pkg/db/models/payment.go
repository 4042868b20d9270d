package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

// Payment records one gateway payment attempt covering one or more orders.
type Payment struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	PaymentNumber    string               `gorm:"column:payment_number;not null;uniqueIndex:ux_payments_payment_number"`
	Gateway          enums.PaymentGateway `gorm:"column:gateway;type:payment_gateway_enum;not null"`
	GatewayOrderID   string               `gorm:"column:gateway_order_id;not null;uniqueIndex:ux_payments_gateway_order"`
	GatewayPaymentID *string              `gorm:"column:gateway_payment_id"`
	Signature        *string              `gorm:"column:signature"`
	BuyerID          uuid.UUID            `gorm:"column:buyer_id;type:uuid;not null;index"`
	OrderIDs         types.UUIDList       `gorm:"column:order_ids;type:jsonb;not null"`
	AmountCents      int64                `gorm:"column:amount_cents;not null"`
	Currency         string               `gorm:"column:currency;not null"`
	Status           enums.PaymentStatus  `gorm:"column:status;type:payment_status_enum;not null"`
	FailureReason    *string              `gorm:"column:failure_reason"`
	VerifiedAt       *time.Time           `gorm:"column:verified_at"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;autoUpdateTime"`

	// Refund tracks money this payment captured for orders it could no longer settle.
	Refund OrderRefund `gorm:"embedded;embeddedPrefix:refund_"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
