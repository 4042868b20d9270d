package refunds

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/wallet"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

// ReverseCommission debits a credited vendor share back out of the wallet and marks
// the order reversed. The caller saves the order. An existing reversal entry for the
// order is honoured without a second debit.
func (s *service) ReverseCommission(ctx context.Context, tx *gorm.DB, order *models.Order, cause string) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if !order.Commission.WalletCredited || order.Commission.Reversed {
		return nil
	}

	exists, err := s.wallet.HasOrderTransaction(ctx, tx, order.ID, enums.WalletTransactionTypeDebit, enums.WalletTransactionKindCommissionReversal)
	if err != nil {
		return err
	}
	var entry *models.WalletTransaction
	if !exists && order.Commission.VendorCents > 0 {
		entry, err = s.wallet.Debit(ctx, tx, wallet.Entry{
			VendorID:    order.VendorID,
			AmountCents: order.Commission.VendorCents,
			Kind:        enums.WalletTransactionKindCommissionReversal,
			OrderID:     &order.ID,
			Description: fmt.Sprintf("Commission reversal - Order #%s %s", order.OrderNumber, cause),
		})
		if err != nil {
			return err
		}
	}

	now := s.now()
	order.Commission.Reversed = true
	order.Commission.ReversedAt = &now
	if entry == nil {
		return nil
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCommissionReversed,
		AggregateType: enums.AggregateVendorWallet,
		AggregateID:   entry.WalletID,
		Data: payloads.CommissionReversedEvent{
			OrderID:           order.ID,
			VendorID:          order.VendorID,
			WalletID:          entry.WalletID,
			AmountCents:       entry.AmountCents,
			Cause:             cause,
			BalanceAfterCents: entry.BalanceAfterCents,
		},
		Version: 1,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit commission reversed")
	}
	s.logg.Info(s.logg.WithFields(s.orderLog(ctx, order), map[string]any{
		"amount_cents": entry.AmountCents,
		"cause":        cause,
	}), "commission reversed")
	return nil
}

// ReconcileReversals retries reversals that failed during cancellation or return,
// for example because the vendor balance was short at the time.
func (s *service) ReconcileReversals(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.orders.FindUnreversedCommissions(ctx, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find unreversed commissions")
	}

	var (
		errs     []error
		reversed int
	)
	for _, row := range rows {
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			order, err := s.lock(ctx, tx, row.ID)
			if err != nil {
				return err
			}
			if order.Commission.Reversed {
				return nil
			}
			if err := s.ReverseCommission(ctx, tx, order, reversalCause(order)); err != nil {
				return err
			}
			if err := s.orders.WithTx(tx).Save(ctx, order); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save reversal")
			}
			reversed++
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", row.ID, err))
		}
	}
	return reversed, multierr.Combine(errs...)
}

func reversalCause(order *models.Order) string {
	if order.OrderStatus == enums.OrderStatusReturned {
		return "returned"
	}
	return "cancelled"
}
