package withdrawals

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/money"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

// RequestInput asks for a payout of part of the vendor's balance.
type RequestInput struct {
	Actor       auth.Principal
	AmountCents int64
}

// PayInput settles an approved or pending withdrawal. VendorID, when set, must
// match the request's vendor.
type PayInput struct {
	WithdrawalID uuid.UUID
	VendorID     *uuid.UUID
	Reference    string
	Actor        auth.Principal
}

// ListParams filters withdrawal listings.
type ListParams struct {
	Status *enums.WithdrawalStatus
	pagination.Params
}

// WithdrawalView is the API shape of a withdrawal request.
type WithdrawalView struct {
	ID               uuid.UUID              `json:"id"`
	VendorID         uuid.UUID              `json:"vendor_id"`
	AmountCents      int64                  `json:"amount_cents"`
	Amount           string                 `json:"amount"`
	Status           enums.WithdrawalStatus `json:"status"`
	RequestedAt      time.Time              `json:"requested_at"`
	ApprovedAt       *time.Time             `json:"approved_at,omitempty"`
	RejectedAt       *time.Time             `json:"rejected_at,omitempty"`
	RejectionReason  *string                `json:"rejection_reason,omitempty"`
	PaidAt           *time.Time             `json:"paid_at,omitempty"`
	PaymentReference *string                `json:"payment_reference,omitempty"`
}

// RequestResult pairs a new withdrawal with the wallet balances after the hold.
type RequestResult struct {
	Withdrawal       WithdrawalView `json:"withdrawal"`
	BalanceCents     int64          `json:"available_balance_cents"`
	HoldBalanceCents int64          `json:"hold_balance_cents"`
}

// WithdrawalList is one page of withdrawals, newest first.
type WithdrawalList struct {
	Items  []WithdrawalView `json:"items"`
	Cursor string           `json:"cursor"`
}

func toView(m *models.WithdrawalRequest) WithdrawalView {
	return WithdrawalView{
		ID:               m.ID,
		VendorID:         m.VendorID,
		AmountCents:      m.AmountCents,
		Amount:           money.Format(m.AmountCents),
		Status:           m.Status,
		RequestedAt:      m.RequestedAt,
		ApprovedAt:       m.ApprovedAt,
		RejectedAt:       m.RejectedAt,
		RejectionReason:  m.RejectionReason,
		PaidAt:           m.PaidAt,
		PaymentReference: m.PaymentReference,
	}
}
