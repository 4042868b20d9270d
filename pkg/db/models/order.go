package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

// Order is the settlement aggregate. Commission, refund, return and cancellation
// sub-records live on the same row so a single write covers all of them.
type Order struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber     string                `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	BuyerID         uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null;index"`
	VendorID        uuid.UUID             `gorm:"column:vendor_id;type:uuid;not null;index"`
	LineItems       types.OrderLineItems  `gorm:"column:line_items;type:jsonb;not null"`
	SubtotalCents   int64                 `gorm:"column:subtotal_cents;not null"`
	DiscountCents   int64                 `gorm:"column:discount_cents;not null;default:0"`
	PayableCents    int64                 `gorm:"column:payable_cents;not null"`
	OrderStatus     enums.OrderStatus     `gorm:"column:order_status;type:order_status_enum;not null"`
	PaymentStatus   enums.PaymentStatus   `gorm:"column:payment_status;type:payment_status_enum;not null"`
	PaymentMethod   enums.PaymentMethod   `gorm:"column:payment_method;type:payment_method_enum;not null"`
	PaymentRef      *string               `gorm:"column:payment_ref"`
	ShippingAddress types.ShippingAddress `gorm:"column:shipping_address;type:jsonb"`

	Commission   OrderCommission   `gorm:"embedded;embeddedPrefix:commission_"`
	Refund       OrderRefund       `gorm:"embedded;embeddedPrefix:refund_"`
	Return       OrderReturn       `gorm:"embedded;embeddedPrefix:return_"`
	Cancellation OrderCancellation `gorm:"embedded;embeddedPrefix:cancel_"`

	StatusHistory types.StatusHistory `gorm:"column:status_history;type:jsonb;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderCommission records the platform/vendor split and whether it reached the wallet.
type OrderCommission struct {
	Rate           decimal.Decimal `gorm:"column:rate;type:numeric(5,2);not null;default:0"`
	PlatformCents  int64           `gorm:"column:platform_cents;not null;default:0"`
	VendorCents    int64           `gorm:"column:vendor_cents;not null;default:0"`
	CalculatedAt   *time.Time      `gorm:"column:calculated_at"`
	WalletCredited bool            `gorm:"column:wallet_credited;not null;default:false"`
	CreditedAt     *time.Time      `gorm:"column:credited_at"`
	Reversed       bool            `gorm:"column:reversed;not null;default:false"`
	ReversedAt     *time.Time      `gorm:"column:reversed_at"`
}

// Calculated reports whether a split has been recorded.
func (c OrderCommission) Calculated() bool {
	return c.CalculatedAt != nil
}

// OrderRefund tracks money owed back to the buyer.
type OrderRefund struct {
	Status        enums.RefundStatus `gorm:"column:status;type:refund_status_enum;not null;default:not_required"`
	AmountCents   int64              `gorm:"column:amount_cents;not null;default:0"`
	Reference     *string            `gorm:"column:reference"`
	Reason        *string            `gorm:"column:reason"`
	InitiatedAt   *time.Time         `gorm:"column:initiated_at"`
	CompletedAt   *time.Time         `gorm:"column:completed_at"`
	FailureReason *string            `gorm:"column:failure_reason"`
	GatewayRef    *string            `gorm:"column:gateway_ref"`
	Attempts      int                `gorm:"column:attempts;not null;default:0"`
}

// OrderReturn tracks the post-delivery return pipeline. An empty status means no return.
type OrderReturn struct {
	Status      enums.ReturnStatus `gorm:"column:status;type:text;not null;default:''"`
	Type        enums.ReturnType   `gorm:"column:type;type:text;not null;default:''"`
	Reason      *string            `gorm:"column:reason"`
	RequestedAt *time.Time         `gorm:"column:requested_at"`
	ApprovedAt  *time.Time         `gorm:"column:approved_at"`
	PickupAt    *time.Time         `gorm:"column:pickup_at"`
	CompletedAt *time.Time         `gorm:"column:completed_at"`
}

// OrderCancellation captures who cancelled the order and why.
type OrderCancellation struct {
	Reason   *string          `gorm:"column:reason"`
	By       *enums.ActorRole `gorm:"column:by;type:text"`
	ByUserID *uuid.UUID       `gorm:"column:by_user_id;type:uuid"`
	At       *time.Time       `gorm:"column:at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// WasConfirmed reports whether the order ever reached CONFIRMED.
func (o *Order) WasConfirmed() bool {
	if o.OrderStatus == enums.OrderStatusConfirmed {
		return true
	}
	_, ok := o.StatusHistory.LastAt(enums.OrderStatusConfirmed)
	return ok
}

// AppendHistory records a status change on the order's append-only history.
func (o *Order) AppendHistory(status enums.OrderStatus, role enums.ActorRole, userID *uuid.UUID, note string, at time.Time) {
	o.StatusHistory = append(o.StatusHistory, types.StatusHistoryEntry{
		Status: status,
		Role:   role,
		UserID: userID,
		Note:   note,
		At:     at.UTC(),
	})
}
