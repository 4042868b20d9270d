package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// WalletTransaction is an append-only wallet ledger entry. Rows are never updated.
type WalletTransaction struct {
	ID                uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	WalletID          uuid.UUID                   `gorm:"column:wallet_id;type:uuid;not null;index"`
	VendorID          uuid.UUID                   `gorm:"column:vendor_id;type:uuid;not null;index:ix_wallet_tx_vendor_created,priority:1"`
	Type              enums.WalletTransactionType `gorm:"column:type;type:wallet_transaction_type_enum;not null;uniqueIndex:ux_wallet_tx_order_type_kind,priority:2"`
	Kind              enums.WalletTransactionKind `gorm:"column:kind;type:wallet_transaction_kind_enum;not null;uniqueIndex:ux_wallet_tx_order_type_kind,priority:3;uniqueIndex:ux_wallet_tx_withdrawal_kind,priority:2"`
	AmountCents       int64                       `gorm:"column:amount_cents;not null"`
	OrderID           *uuid.UUID                  `gorm:"column:order_id;type:uuid;uniqueIndex:ux_wallet_tx_order_type_kind,priority:1"`
	WithdrawalID      *uuid.UUID                  `gorm:"column:withdrawal_id;type:uuid;uniqueIndex:ux_wallet_tx_withdrawal_kind,priority:1"`
	Description       string                      `gorm:"column:description;not null"`
	BalanceAfterCents int64                       `gorm:"column:balance_after_cents;not null"`
	HoldAfterCents    int64                       `gorm:"column:hold_after_cents;not null"`
	CreatedAt         time.Time                   `gorm:"column:created_at;autoCreateTime;index:ix_wallet_tx_vendor_created,priority:2"`
}

func (t *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
