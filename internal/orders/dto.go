package orders

import (
	"time"

	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/money"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
	"github.com/google/uuid"
)

// PaymentOutcome describes why an order is being confirmed.
type PaymentOutcome string

const (
	PaymentOutcomePaid PaymentOutcome = "paid"
	PaymentOutcomeCOD  PaymentOutcome = "cod"
)

// ConfirmInput confirms a PENDING order after payment or COD placement.
type ConfirmInput struct {
	OrderID uuid.UUID
	Outcome PaymentOutcome
}

// AdvanceStatusInput moves an order along its fulfillment path.
type AdvanceStatusInput struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	Note    string
	Actor   auth.Principal
}

// CancelInput cancels an order before delivery.
type CancelInput struct {
	OrderID uuid.UUID
	Reason  string
	Actor   auth.Principal
}

// ReturnRequestInput opens a return on a delivered order.
type ReturnRequestInput struct {
	OrderID uuid.UUID
	Reason  string
	Type    enums.ReturnType
	Actor   auth.Principal
}

// ListParams filters an order listing.
type ListParams struct {
	Status *enums.OrderStatus
	pagination.Params
}

// OrderList wraps one page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// OrderSummary is the list projection of an order.
type OrderSummary struct {
	ID            uuid.UUID           `json:"id"`
	OrderNumber   string              `json:"order_number"`
	BuyerID       uuid.UUID           `json:"buyer_id"`
	VendorID      uuid.UUID           `json:"vendor_id"`
	OrderStatus   enums.OrderStatus   `json:"order_status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	PayableCents  int64               `json:"payable_cents"`
	Payable       string              `json:"payable"`
	TotalItems    int                 `json:"total_items"`
	CreatedAt     time.Time           `json:"created_at"`
}

// OrderDetail exposes every sub-record of an order.
type OrderDetail struct {
	OrderSummary
	LineItems       types.OrderLineItems  `json:"line_items"`
	SubtotalCents   int64                 `json:"subtotal_cents"`
	DiscountCents   int64                 `json:"discount_cents"`
	ShippingAddress types.ShippingAddress `json:"shipping_address"`
	Commission      *CommissionView       `json:"commission,omitempty"`
	Refund          RefundView            `json:"refund"`
	Return          *ReturnView           `json:"return,omitempty"`
	Cancellation    *CancellationView     `json:"cancellation,omitempty"`
	StatusHistory   types.StatusHistory   `json:"status_history"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type CommissionView struct {
	Rate           string     `json:"rate"`
	PlatformCents  int64      `json:"platform_cents"`
	VendorCents    int64      `json:"vendor_cents"`
	CalculatedAt   *time.Time `json:"calculated_at,omitempty"`
	WalletCredited bool       `json:"wallet_credited"`
	Reversed       bool       `json:"reversed"`
}

type RefundView struct {
	Status      enums.RefundStatus `json:"status"`
	AmountCents int64              `json:"amount_cents"`
	Reference   *string            `json:"reference,omitempty"`
	InitiatedAt *time.Time         `json:"initiated_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

type ReturnView struct {
	Status      enums.ReturnStatus `json:"status"`
	Type        enums.ReturnType   `json:"type"`
	Reason      *string            `json:"reason,omitempty"`
	RequestedAt *time.Time         `json:"requested_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

type CancellationView struct {
	Reason *string          `json:"reason,omitempty"`
	By     *enums.ActorRole `json:"by,omitempty"`
	At     *time.Time       `json:"at,omitempty"`
}

// Tracking is the customer-facing timeline of an order.
type Tracking struct {
	OrderID       uuid.UUID         `json:"order_id"`
	OrderNumber   string            `json:"order_number"`
	CurrentStatus enums.OrderStatus `json:"current_status"`
	Timeline      []TimelineEntry   `json:"timeline"`
}

type TimelineEntry struct {
	Status    enums.OrderStatus `json:"status"`
	Message   string            `json:"message"`
	Date      time.Time         `json:"date"`
	UpdatedBy enums.ActorRole   `json:"updated_by"`
}

func toSummary(o models.Order) OrderSummary {
	items := 0
	for _, item := range o.LineItems {
		items += item.Quantity
	}
	return OrderSummary{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		BuyerID:       o.BuyerID,
		VendorID:      o.VendorID,
		OrderStatus:   o.OrderStatus,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		PayableCents:  o.PayableCents,
		Payable:       money.Format(o.PayableCents),
		TotalItems:    items,
		CreatedAt:     o.CreatedAt,
	}
}

// ToDetail projects the order aggregate into its API shape.
func ToDetail(o *models.Order) *OrderDetail {
	if o == nil {
		return nil
	}
	detail := &OrderDetail{
		OrderSummary:    toSummary(*o),
		LineItems:       o.LineItems,
		SubtotalCents:   o.SubtotalCents,
		DiscountCents:   o.DiscountCents,
		ShippingAddress: o.ShippingAddress,
		Refund: RefundView{
			Status:      o.Refund.Status,
			AmountCents: o.Refund.AmountCents,
			Reference:   o.Refund.Reference,
			InitiatedAt: o.Refund.InitiatedAt,
			CompletedAt: o.Refund.CompletedAt,
		},
		StatusHistory: o.StatusHistory,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Commission.Calculated() {
		detail.Commission = ToCommissionView(o.Commission)
	}
	if o.Return.Status != "" {
		detail.Return = &ReturnView{
			Status:      o.Return.Status,
			Type:        o.Return.Type,
			Reason:      o.Return.Reason,
			RequestedAt: o.Return.RequestedAt,
			CompletedAt: o.Return.CompletedAt,
		}
	}
	if o.Cancellation.At != nil {
		detail.Cancellation = &CancellationView{
			Reason: o.Cancellation.Reason,
			By:     o.Cancellation.By,
			At:     o.Cancellation.At,
		}
	}
	return detail
}

// ToCommissionView projects a recorded commission split.
func ToCommissionView(c models.OrderCommission) *CommissionView {
	return &CommissionView{
		Rate:           c.Rate.StringFixed(2),
		PlatformCents:  c.PlatformCents,
		VendorCents:    c.VendorCents,
		CalculatedAt:   c.CalculatedAt,
		WalletCredited: c.WalletCredited,
		Reversed:       c.Reversed,
	}
}
