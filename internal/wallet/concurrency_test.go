package wallet

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

// setupSharedWalletDB opens a file database so goroutines get real connections
// that contend for the write lock.
func setupSharedWalletDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "wallet.db") + "?_busy_timeout=10000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.VendorWallet{}, &models.WalletTransaction{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(8)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func creditOrder(ctx context.Context, svc Service, db *gorm.DB, vendorID uuid.UUID, amount int64) error {
	orderID := uuid.New()
	return db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Credit(ctx, tx, Entry{
			VendorID:    vendorID,
			AmountCents: amount,
			Kind:        enums.WalletTransactionKindCommissionCredit,
			OrderID:     &orderID,
			Description: "Commission credit - Order #" + orderID.String()[:8],
		})
		return err
	})
}

func holdFor(ctx context.Context, svc Service, db *gorm.DB, vendorID uuid.UUID, amount int64) error {
	return db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.MoveToHold(ctx, tx, vendorID, amount, uuid.New(), "Withdrawal request")
		return err
	})
}

func TestConcurrentCreditsAndHoldsConserveFunds(t *testing.T) {
	db := setupSharedWalletDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	vendorID := uuid.New()

	require.NoError(t, creditOrder(ctx, svc, db, vendorID, 20000))

	const credits, holds = 20, 20
	var wg sync.WaitGroup
	errs := make(chan error, credits+holds)
	for i := 0; i < credits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- creditOrder(ctx, svc, db, vendorID, 500)
		}()
	}
	for i := 0; i < holds; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- holdFor(ctx, svc, db, vendorID, 700)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var wallet models.VendorWallet
	require.NoError(t, db.Where("vendor_id = ?", vendorID).First(&wallet).Error)
	assert.Equal(t, int64(20000+credits*500-holds*700), wallet.BalanceCents)
	assert.Equal(t, int64(holds*700), wallet.HoldBalanceCents)
	assert.Equal(t, int64(20000+credits*500), wallet.BalanceCents+wallet.HoldBalanceCents)

	var count int64
	require.NoError(t, db.Model(&models.WalletTransaction{}).Where("wallet_id = ?", wallet.ID).Count(&count).Error)
	assert.Equal(t, int64(1+credits+holds), count)
}

func TestConcurrentHoldsNeverOverdraw(t *testing.T) {
	db := setupSharedWalletDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	vendorID := uuid.New()

	require.NoError(t, creditOrder(ctx, svc, db, vendorID, 1000))

	const attempts = 10
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- holdFor(ctx, svc, db, vendorID, 300)
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), fmt.Sprintf("unexpected error: %v", err))
	}
	assert.Equal(t, 3, succeeded)

	var wallet models.VendorWallet
	require.NoError(t, db.Where("vendor_id = ?", vendorID).First(&wallet).Error)
	assert.Equal(t, int64(100), wallet.BalanceCents)
	assert.Equal(t, int64(900), wallet.HoldBalanceCents)

	var holdsWritten int64
	require.NoError(t, db.Model(&models.WalletTransaction{}).
		Where("wallet_id = ? AND kind = ?", wallet.ID, enums.WalletTransactionKindWithdrawalHold).
		Count(&holdsWritten).Error)
	assert.Equal(t, int64(3), holdsWritten)
}
