package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// OrderPlacedEvent is emitted when checkout creates an order.
type OrderPlacedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	VendorID      uuid.UUID           `json:"vendor_id"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	TotalCents    int64               `json:"total_cents"`
}

// OrderConfirmedEvent is emitted when payment is verified or a COD order is confirmed.
type OrderConfirmedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	VendorID    uuid.UUID `json:"vendor_id"`
	TotalCents  int64     `json:"total_cents"`
}

// OrderStatusChangedEvent records any forward lifecycle move.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	VendorID   uuid.UUID         `json:"vendor_id"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	ActorRole  enums.ActorRole   `json:"actor_role"`
	Note       string            `json:"note,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// OrderCancelledEvent is emitted after a cancellation commits.
type OrderCancelledEvent struct {
	OrderID           uuid.UUID          `json:"order_id"`
	VendorID          uuid.UUID          `json:"vendor_id"`
	PreviousStatus    enums.OrderStatus  `json:"previous_status"`
	Reason            string             `json:"reason"`
	CancelledBy       enums.ActorRole    `json:"cancelled_by"`
	RefundStatus      enums.RefundStatus `json:"refund_status"`
	RefundAmountCents int64              `json:"refund_amount_cents"`
}

// OrderReturnUpdatedEvent tracks the return sub-state machine.
type OrderReturnUpdatedEvent struct {
	OrderID      uuid.UUID          `json:"order_id"`
	VendorID     uuid.UUID          `json:"vendor_id"`
	ReturnStatus enums.ReturnStatus `json:"return_status"`
	ReturnType   enums.ReturnType   `json:"return_type"`
	Reason       string             `json:"reason,omitempty"`
}

// PaymentFailedEvent is emitted when a verification attempt is rejected.
type PaymentFailedEvent struct {
	PaymentID      uuid.UUID   `json:"payment_id"`
	GatewayOrderID string      `json:"gateway_order_id"`
	OrderIDs       []uuid.UUID `json:"order_ids"`
	Reason         string      `json:"reason"`
}

// CommissionCreditedEvent is emitted once per order when the vendor share lands in the wallet.
type CommissionCreditedEvent struct {
	OrderID           uuid.UUID `json:"order_id"`
	VendorID          uuid.UUID `json:"vendor_id"`
	WalletID          uuid.UUID `json:"wallet_id"`
	Rate              string    `json:"rate"`
	PlatformCents     int64     `json:"platform_cents"`
	VendorCents       int64     `json:"vendor_cents"`
	BalanceAfterCents int64     `json:"balance_after_cents"`
}

// CommissionReversedEvent is emitted once per order when a credited share is clawed back.
type CommissionReversedEvent struct {
	OrderID           uuid.UUID `json:"order_id"`
	VendorID          uuid.UUID `json:"vendor_id"`
	WalletID          uuid.UUID `json:"wallet_id"`
	AmountCents       int64     `json:"amount_cents"`
	Cause             string    `json:"cause"`
	BalanceAfterCents int64     `json:"balance_after_cents"`
}

// CommissionConfigUpdatedEvent records operator rate changes.
type CommissionConfigUpdatedEvent struct {
	Scope     string     `json:"scope"`
	VendorID  *uuid.UUID `json:"vendor_id,omitempty"`
	Rate      string     `json:"rate"`
	UpdatedBy uuid.UUID  `json:"updated_by"`
}

// RefundInitiatedEvent is emitted when a refund is queued for an order.
type RefundInitiatedEvent struct {
	OrderID     uuid.UUID  `json:"order_id"`
	PaymentID   *uuid.UUID `json:"payment_id,omitempty"`
	Reference   string     `json:"reference"`
	AmountCents int64      `json:"amount_cents"`
	Reason      string     `json:"reason"`
}

// RefundCompletedEvent is emitted when the gateway confirms a refund.
type RefundCompletedEvent struct {
	OrderID     uuid.UUID  `json:"order_id"`
	PaymentID   *uuid.UUID `json:"payment_id,omitempty"`
	Reference   string     `json:"reference"`
	GatewayRef  string     `json:"gateway_ref,omitempty"`
	AmountCents int64      `json:"amount_cents"`
}

// WithdrawalEvent covers every withdrawal lifecycle step.
type WithdrawalEvent struct {
	WithdrawalID     uuid.UUID              `json:"withdrawal_id"`
	VendorID         uuid.UUID              `json:"vendor_id"`
	AmountCents      int64                  `json:"amount_cents"`
	Status           enums.WithdrawalStatus `json:"status"`
	PaymentReference string                 `json:"payment_reference,omitempty"`
	Note             string                 `json:"note,omitempty"`
}
