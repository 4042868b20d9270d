package refunds

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/money"
)

// RefundView is the refund projection shown to buyers and operators.
type RefundView struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	OrderStatus   enums.OrderStatus   `json:"order_status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	Status        enums.RefundStatus  `json:"refund_status"`
	AmountCents   int64               `json:"refund_amount_cents"`
	Amount        string              `json:"refund_amount"`
	Reference     *string             `json:"refund_reference,omitempty"`
	GatewayRef    *string             `json:"gateway_refund_id,omitempty"`
	Reason        *string             `json:"refund_reason,omitempty"`
	FailureReason *string             `json:"failure_reason,omitempty"`
	Attempts      int                 `json:"attempts"`
	InitiatedAt   *time.Time          `json:"initiated_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
}

func toView(order *models.Order) *RefundView {
	return &RefundView{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		OrderStatus:   order.OrderStatus,
		PaymentStatus: order.PaymentStatus,
		Status:        order.Refund.Status,
		AmountCents:   order.Refund.AmountCents,
		Amount:        money.Format(order.Refund.AmountCents),
		Reference:     order.Refund.Reference,
		GatewayRef:    order.Refund.GatewayRef,
		Reason:        order.Refund.Reason,
		FailureReason: order.Refund.FailureReason,
		Attempts:      order.Refund.Attempts,
		InitiatedAt:   order.Refund.InitiatedAt,
		CompletedAt:   order.Refund.CompletedAt,
	}
}
