package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	pkgpagination "github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

func setupWalletDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:wallet_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.VendorWallet{}, &models.WalletTransaction{}))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db), nil)
	require.NoError(t, err)
	return svc
}

func inTx(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	t.Helper()
	return db.Transaction(fn)
}

func TestGetOrCreateIsLazyAndStable(t *testing.T) {
	db := setupWalletDB(t)
	svc := newTestService(t, db)
	vendorID := uuid.New()

	first, err := svc.GetOrCreate(context.Background(), db, vendorID)
	require.NoError(t, err)
	second, err := svc.GetOrCreate(context.Background(), db, vendorID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Zero(t, first.BalanceCents)
	assert.Zero(t, first.HoldBalanceCents)
}

func TestCreditIsIdempotentPerOrder(t *testing.T) {
	db := setupWalletDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	vendorID := uuid.New()
	orderID := uuid.New()
	entry := Entry{
		VendorID:    vendorID,
		AmountCents: 90000,
		Kind:        enums.WalletTransactionKindCommissionCredit,
		OrderID:     &orderID,
		Description: "Commission credit - Order #ORD-1",
	}

	var first, second *models.WalletTransaction
	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		var err error
		first, err = svc.Credit(ctx, tx, entry)
		return err
	}))
	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		var err error
		second, err = svc.Credit(ctx, tx, entry)
		return err
	}))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(90000), first.BalanceAfterCents)

	var count int64
	require.NoError(t, db.Model(&models.WalletTransaction{}).Where("order_id = ?", orderID).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	summary, err := svc.Summary(ctx, vendorID)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), summary.BalanceCents)
	assert.Equal(t, "900.00", summary.Balance)
	assert.Equal(t, int64(90000), summary.TotalEarnedCents)

	found, err := svc.HasOrderTransaction(ctx, db, orderID, enums.WalletTransactionTypeCredit, enums.WalletTransactionKindCommissionCredit)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = svc.HasOrderTransaction(ctx, db, orderID, enums.WalletTransactionTypeDebit, enums.WalletTransactionKindCommissionReversal)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDebitRejectsNegativeBalance(t *testing.T) {
	db := setupWalletDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	vendorID := uuid.New()
	creditOrder := uuid.New()
	debitOrder := uuid.New()

	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		_, err := svc.Credit(ctx, tx, Entry{VendorID: vendorID, AmountCents: 1000, Kind: enums.WalletTransactionKindCommissionCredit, OrderID: &creditOrder, Description: "credit"})
		return err
	}))

	err := inTx(t, db, func(tx *gorm.DB) error {
		_, err := svc.Debit(ctx, tx, Entry{VendorID: vendorID, AmountCents: 1500, Kind: enums.WalletTransactionKindCommissionReversal, OrderID: &debitOrder, Description: "reversal"})
		return err
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, "insufficient balance", pkgerrors.As(err).Message())

	summary, err := svc.Summary(ctx, vendorID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), summary.BalanceCents)
}

func TestEntryKindMustMatchDirection(t *testing.T) {
	db := setupWalletDB(t)
	svc := newTestService(t, db)
	orderID := uuid.New()

	_, err := svc.Credit(context.Background(), db, Entry{VendorID: uuid.New(), AmountCents: 10, Kind: enums.WalletTransactionKindCommissionReversal, OrderID: &orderID})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Debit(context.Background(), db, Entry{VendorID: uuid.New(), AmountCents: -1, Kind: enums.WalletTransactionKindCommissionReversal, OrderID: &orderID})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestMutationRequiresTransaction(t *testing.T) {
	db := setupWalletDB(t)
	svc := newTestService(t, db)
	orderID := uuid.New()

	_, err := svc.Credit(context.Background(), nil, Entry{VendorID: uuid.New(), AmountCents: 10, Kind: enums.WalletTransactionKindCommissionCredit, OrderID: &orderID})
	require.Error(t, err)
}

func TestHoldLifecycleKeepsTotalsConsistent(t *testing.T) {
	db := setupWalletDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	vendorID := uuid.New()
	orderID := uuid.New()
	paidID := uuid.New()
	rejectedID := uuid.New()

	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		_, err := svc.Credit(ctx, tx, Entry{VendorID: vendorID, AmountCents: 50000, Kind: enums.WalletTransactionKindCommissionCredit, OrderID: &orderID, Description: "credit"})
		return err
	}))

	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		entry, err := svc.MoveToHold(ctx, tx, vendorID, 30000, paidID, "hold")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(20000), entry.BalanceAfterCents)
		assert.Equal(t, int64(30000), entry.HoldAfterCents)
		assert.Equal(t, enums.WalletTransactionTypeDebit, entry.Type)
		return nil
	}))

	err := inTx(t, db, func(tx *gorm.DB) error {
		_, err := svc.MoveToHold(ctx, tx, vendorID, 20001, rejectedID, "hold")
		return err
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	require.NoError(t, inTx(t, db, func(tx *gorm.DB) error {
		if _, err := svc.MoveToHold(ctx, tx, vendorID, 20000, rejectedID, "hold"); err != nil {
			return err
		}
		if _, err := svc.ReleaseFromHold(ctx, tx, vendorID, 30000, paidID, "payout"); err != nil {
			return err
		}
		_, err := svc.ReturnHoldToBalance(ctx, tx, vendorID, 20000, rejectedID, "release")
		return err
	}))

	summary, err := svc.Summary(ctx, vendorID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), summary.BalanceCents)
	assert.Zero(t, summary.HoldBalanceCents)
	assert.Equal(t, int64(30000), summary.TotalWithdrawnCents)

	err = inTx(t, db, func(tx *gorm.DB) error {
		_, err := svc.ReleaseFromHold(ctx, tx, vendorID, 1, uuid.New(), "payout")
		return err
	})
	require.Error(t, err)
	assert.Equal(t, "insufficient hold balance", pkgerrors.As(err).Message())
}

func TestSummaryWithoutWalletIsZero(t *testing.T) {
	db := setupWalletDB(t)
	svc := newTestService(t, db)

	summary, err := svc.Summary(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, summary.BalanceCents)
	assert.Equal(t, "0.00", summary.Balance)
}

func TestListTransactionsPaginates(t *testing.T) {
	db := setupWalletDB(t)
	svc := newTestService(t, db)
	repo := NewRepository(db)
	ctx := context.Background()
	vendorID := uuid.New()
	walletID := uuid.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		orderID := uuid.New()
		require.NoError(t, repo.InsertTransaction(ctx, &models.WalletTransaction{
			WalletID:    walletID,
			VendorID:    vendorID,
			Type:        enums.WalletTransactionTypeCredit,
			Kind:        enums.WalletTransactionKindCommissionCredit,
			AmountCents: int64(100 * (i + 1)),
			OrderID:     &orderID,
			Description: "credit",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := svc.ListTransactions(ctx, ListParams{VendorID: vendorID, Params: pkgpagination.Params{Limit: 3}})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, int64(500), page.Items[0].AmountCents)
	require.NotEmpty(t, page.Cursor)

	next, err := svc.ListTransactions(ctx, ListParams{VendorID: vendorID, Params: pkgpagination.Params{Limit: 3, Cursor: page.Cursor}})
	require.NoError(t, err)
	require.Len(t, next.Items, 2)
	assert.Equal(t, int64(200), next.Items[0].AmountCents)
	assert.Equal(t, "1.00", next.Items[1].Amount)
	assert.Empty(t, next.Cursor)

	_, err = svc.ListTransactions(ctx, ListParams{VendorID: vendorID, Params: pkgpagination.Params{Cursor: "%%%"}})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
