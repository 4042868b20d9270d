package refunds

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

func reverse(h *harness, order *models.Order, cause string) error {
	return h.db.Transaction(func(tx *gorm.DB) error {
		if err := h.svc.ReverseCommission(context.Background(), tx, order, cause); err != nil {
			return err
		}
		return orders.NewRepository(tx).Save(context.Background(), order)
	})
}

func TestReverseCommissionDebitsVendorShare(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, credited)
	h.credit(t, order, 60000)

	require.NoError(t, reverse(h, order, "cancelled"))

	require.Equal(t, int64(10500), h.balance(t, order.VendorID))
	stored := h.reload(t, order.ID)
	require.True(t, stored.Commission.Reversed)
	require.NotNil(t, stored.Commission.ReversedAt)
	require.Equal(t, 1, h.publisher.count(enums.EventCommissionReversed))

	var entry models.WalletTransaction
	require.NoError(t, h.db.Where("order_id = ? AND kind = ?", order.ID, enums.WalletTransactionKindCommissionReversal).First(&entry).Error)
	require.Equal(t, "Commission reversal - Order #"+order.OrderNumber+" cancelled", entry.Description)
	require.Equal(t, enums.WalletTransactionTypeDebit, entry.Type)

	require.NoError(t, reverse(h, stored, "cancelled"))
	require.Equal(t, int64(10500), h.balance(t, order.VendorID))
}

func TestReverseCommissionSkipsWhenEntryAlreadyExists(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, credited)
	h.credit(t, order, 49500)
	require.NoError(t, reverse(h, order, "returned"))

	stored := h.reload(t, order.ID)
	stored.Commission.Reversed = false
	stored.Commission.ReversedAt = nil
	require.NoError(t, reverse(h, stored, "returned"))

	require.Equal(t, int64(0), h.balance(t, order.VendorID))
	require.True(t, h.reload(t, order.ID).Commission.Reversed)
	require.Equal(t, 1, h.publisher.count(enums.EventCommissionReversed))
}

func TestReverseCommissionNoopWhenNeverCredited(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, nil)

	require.NoError(t, reverse(h, order, "cancelled"))
	require.False(t, h.reload(t, order.ID).Commission.Reversed)
	require.Empty(t, h.publisher.events)
}

func TestReverseCommissionInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, credited)
	h.credit(t, order, 1000)

	err := reverse(h, order, "cancelled")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Equal(t, int64(1000), h.balance(t, order.VendorID))
	require.False(t, h.reload(t, order.ID).Commission.Reversed)
}

func TestReconcileReversalsRetriesAfterBalanceRecovers(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, func(o *models.Order) {
		credited(o)
		o.OrderStatus = enums.OrderStatusReturned
	})

	reversed, err := h.svc.ReconcileReversals(context.Background(), 10)
	require.Error(t, err)
	require.Zero(t, reversed)

	h.credit(t, order, 49500)
	reversed, err = h.svc.ReconcileReversals(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, reversed)
	require.True(t, h.reload(t, order.ID).Commission.Reversed)
	require.Equal(t, int64(0), h.balance(t, order.VendorID))

	var entry models.WalletTransaction
	require.NoError(t, h.db.Where("order_id = ? AND kind = ?", order.ID, enums.WalletTransactionKindCommissionReversal).First(&entry).Error)
	require.Contains(t, entry.Description, "returned")

	reversed, err = h.svc.ReconcileReversals(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, reversed)
}
