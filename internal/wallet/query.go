package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/money"
	pkgpagination "github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

// Summary is the vendor-facing view of a wallet.
type Summary struct {
	VendorID            uuid.UUID `json:"vendor_id"`
	BalanceCents        int64     `json:"balance_cents"`
	HoldBalanceCents    int64     `json:"hold_balance_cents"`
	Balance             string    `json:"balance"`
	HoldBalance         string    `json:"hold_balance"`
	TotalEarnedCents    int64     `json:"total_earned_cents"`
	TotalReversedCents  int64     `json:"total_reversed_cents"`
	TotalWithdrawnCents int64     `json:"total_withdrawn_cents"`
	PendingPayoutCents  int64     `json:"pending_payout_cents"`
	LastUpdatedAt       time.Time `json:"last_updated_at"`
}

// ListParams filters a vendor's transaction history.
type ListParams struct {
	VendorID uuid.UUID
	Kind     *enums.WalletTransactionKind
	pkgpagination.Params
}

// TransactionList is one page of ledger entries, newest first.
type TransactionList struct {
	Items  []TransactionItem `json:"items"`
	Cursor string            `json:"cursor"`
}

type TransactionItem struct {
	ID                uuid.UUID                   `json:"id"`
	Type              enums.WalletTransactionType `json:"type"`
	Kind              enums.WalletTransactionKind `json:"kind"`
	AmountCents       int64                       `json:"amount_cents"`
	Amount            string                      `json:"amount"`
	OrderID           *uuid.UUID                  `json:"order_id,omitempty"`
	WithdrawalID      *uuid.UUID                  `json:"withdrawal_id,omitempty"`
	Description       string                      `json:"description"`
	BalanceAfterCents int64                       `json:"balance_after_cents"`
	HoldAfterCents    int64                       `json:"hold_after_cents"`
	CreatedAt         time.Time                   `json:"created_at"`
}

func (s *service) Summary(ctx context.Context, vendorID uuid.UUID) (*Summary, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	summary := &Summary{VendorID: vendorID, Balance: money.Format(0), HoldBalance: money.Format(0)}

	wallet, err := s.repo.FindByVendor(ctx, vendorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return summary, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	totals, err := s.repo.TotalsByKind(ctx, vendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum wallet transactions")
	}

	summary.BalanceCents = wallet.BalanceCents
	summary.HoldBalanceCents = wallet.HoldBalanceCents
	summary.Balance = money.Format(wallet.BalanceCents)
	summary.HoldBalance = money.Format(wallet.HoldBalanceCents)
	summary.TotalEarnedCents = totals[enums.WalletTransactionKindCommissionCredit]
	summary.TotalReversedCents = totals[enums.WalletTransactionKindCommissionReversal]
	summary.TotalWithdrawnCents = totals[enums.WalletTransactionKindWithdrawalPayout]
	summary.PendingPayoutCents = wallet.HoldBalanceCents
	summary.LastUpdatedAt = wallet.UpdatedAt
	return summary, nil
}

func (s *service) ListTransactions(ctx context.Context, params ListParams) (*TransactionList, error) {
	if params.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if params.Kind != nil && !params.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction kind")
	}

	limit := pkgpagination.NormalizeLimit(params.Limit)
	query := transactionQuery{
		vendorID: params.VendorID,
		kind:     params.Kind,
		limit:    pkgpagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}

	rows, err := s.repo.ListTransactions(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}

	nextCursor := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[limit-1]
		nextCursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	items := make([]TransactionItem, len(rows))
	for i, row := range rows {
		items[i] = toTransactionItem(row)
	}
	return &TransactionList{Items: items, Cursor: nextCursor}, nil
}

func toTransactionItem(m models.WalletTransaction) TransactionItem {
	return TransactionItem{
		ID:                m.ID,
		Type:              m.Type,
		Kind:              m.Kind,
		AmountCents:       m.AmountCents,
		Amount:            money.Format(m.AmountCents),
		OrderID:           m.OrderID,
		WithdrawalID:      m.WithdrawalID,
		Description:       m.Description,
		BalanceAfterCents: m.BalanceAfterCents,
		HoldAfterCents:    m.HoldAfterCents,
		CreatedAt:         m.CreatedAt,
	}
}
