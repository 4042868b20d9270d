package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/money"
)

const (
	orderTxIndex      = "ux_wallet_tx_order_type_kind"
	withdrawalTxIndex = "ux_wallet_tx_withdrawal_kind"
)

// Service owns vendor balances. Every mutation runs on the caller's transaction
// so the ledger entry commits or rolls back with the write that triggered it.
type Service interface {
	GetOrCreate(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID) (*models.VendorWallet, error)
	Credit(ctx context.Context, tx *gorm.DB, entry Entry) (*models.WalletTransaction, error)
	Debit(ctx context.Context, tx *gorm.DB, entry Entry) (*models.WalletTransaction, error)
	MoveToHold(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID, amountCents int64, withdrawalID uuid.UUID, description string) (*models.WalletTransaction, error)
	ReleaseFromHold(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID, amountCents int64, withdrawalID uuid.UUID, description string) (*models.WalletTransaction, error)
	ReturnHoldToBalance(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID, amountCents int64, withdrawalID uuid.UUID, description string) (*models.WalletTransaction, error)
	HasOrderTransaction(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, txType enums.WalletTransactionType, kind enums.WalletTransactionKind) (bool, error)
	Summary(ctx context.Context, vendorID uuid.UUID) (*Summary, error)
	ListTransactions(ctx context.Context, params ListParams) (*TransactionList, error)
}

// Entry describes an order-scoped balance movement.
type Entry struct {
	VendorID    uuid.UUID
	AmountCents int64
	Kind        enums.WalletTransactionKind
	OrderID     *uuid.UUID
	Description string
}

type movement struct {
	vendorID     uuid.UUID
	txType       enums.WalletTransactionType
	kind         enums.WalletTransactionKind
	amountCents  int64
	balanceDelta int64
	holdDelta    int64
	orderID      *uuid.UUID
	withdrawalID *uuid.UUID
	description  string
	shortfall    string
}

type service struct {
	repo    Repository
	metrics *metrics.SettlementMetrics
}

// NewService wires a wallet service. metrics may be nil.
func NewService(repo Repository, m *metrics.SettlementMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	return &service{repo: repo, metrics: m}, nil
}

func (s *service) GetOrCreate(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID) (*models.VendorWallet, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	repo := s.repo.WithTx(tx)
	wallet, err := repo.FindByVendor(ctx, vendorID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	if err := repo.CreateIfMissing(ctx, vendorID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
	}
	wallet, err = repo.FindByVendor(ctx, vendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, entry Entry) (*models.WalletTransaction, error) {
	if err := validateEntry(entry, enums.WalletTransactionTypeCredit); err != nil {
		return nil, err
	}
	return s.apply(ctx, tx, movement{
		vendorID:     entry.VendorID,
		txType:       enums.WalletTransactionTypeCredit,
		kind:         entry.Kind,
		amountCents:  entry.AmountCents,
		balanceDelta: entry.AmountCents,
		orderID:      entry.OrderID,
		description:  entry.Description,
	})
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, entry Entry) (*models.WalletTransaction, error) {
	if err := validateEntry(entry, enums.WalletTransactionTypeDebit); err != nil {
		return nil, err
	}
	return s.apply(ctx, tx, movement{
		vendorID:     entry.VendorID,
		txType:       enums.WalletTransactionTypeDebit,
		kind:         entry.Kind,
		amountCents:  entry.AmountCents,
		balanceDelta: -entry.AmountCents,
		orderID:      entry.OrderID,
		description:  entry.Description,
		shortfall:    "insufficient balance",
	})
}

func (s *service) MoveToHold(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID, amountCents int64, withdrawalID uuid.UUID, description string) (*models.WalletTransaction, error) {
	if err := validateHoldMove(vendorID, amountCents, withdrawalID); err != nil {
		return nil, err
	}
	return s.apply(ctx, tx, movement{
		vendorID:     vendorID,
		txType:       enums.WalletTransactionTypeDebit,
		kind:         enums.WalletTransactionKindWithdrawalHold,
		amountCents:  amountCents,
		balanceDelta: -amountCents,
		holdDelta:    amountCents,
		withdrawalID: &withdrawalID,
		description:  description,
		shortfall:    "insufficient balance",
	})
}

func (s *service) ReleaseFromHold(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID, amountCents int64, withdrawalID uuid.UUID, description string) (*models.WalletTransaction, error) {
	if err := validateHoldMove(vendorID, amountCents, withdrawalID); err != nil {
		return nil, err
	}
	return s.apply(ctx, tx, movement{
		vendorID:     vendorID,
		txType:       enums.WalletTransactionTypeDebit,
		kind:         enums.WalletTransactionKindWithdrawalPayout,
		amountCents:  amountCents,
		holdDelta:    -amountCents,
		withdrawalID: &withdrawalID,
		description:  description,
		shortfall:    "insufficient hold balance",
	})
}

func (s *service) ReturnHoldToBalance(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID, amountCents int64, withdrawalID uuid.UUID, description string) (*models.WalletTransaction, error) {
	if err := validateHoldMove(vendorID, amountCents, withdrawalID); err != nil {
		return nil, err
	}
	return s.apply(ctx, tx, movement{
		vendorID:     vendorID,
		txType:       enums.WalletTransactionTypeCredit,
		kind:         enums.WalletTransactionKindWithdrawalRelease,
		amountCents:  amountCents,
		balanceDelta: amountCents,
		holdDelta:    -amountCents,
		withdrawalID: &withdrawalID,
		description:  description,
		shortfall:    "insufficient hold balance",
	})
}

// HasOrderTransaction is the content-based idempotency check for order-scoped entries.
func (s *service) HasOrderTransaction(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, txType enums.WalletTransactionType, kind enums.WalletTransactionKind) (bool, error) {
	existing, err := s.repo.WithTx(tx).FindOrderTransaction(ctx, orderID, txType, kind)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan wallet transactions")
	}
	return existing != nil, nil
}

// apply locks the wallet, moves the money with a conditional update and appends
// the ledger entry. A repeated order or withdrawal entry returns the stored row.
func (s *service) apply(ctx context.Context, tx *gorm.DB, mv movement) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "wallet mutation requires a transaction")
	}
	repo := s.repo.WithTx(tx)

	if existing, err := s.findExisting(ctx, repo, mv); err != nil || existing != nil {
		return existing, err
	}

	if err := repo.CreateIfMissing(ctx, mv.vendorID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
	}
	wallet, err := repo.LockByVendor(ctx, mv.vendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
	}

	applied, err := repo.Adjust(ctx, wallet.ID, mv.balanceDelta, mv.holdDelta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balance")
	}
	if !applied {
		available := wallet.BalanceCents
		if mv.holdDelta < 0 {
			available = wallet.HoldBalanceCents
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, mv.shortfall).WithDetails(map[string]any{
			"vendor_id": mv.vendorID,
			"available": money.Format(available),
			"requested": money.Format(mv.amountCents),
		})
	}

	updated, err := repo.LockByVendor(ctx, mv.vendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload wallet")
	}

	entry := &models.WalletTransaction{
		WalletID:          wallet.ID,
		VendorID:          mv.vendorID,
		Type:              mv.txType,
		Kind:              mv.kind,
		AmountCents:       mv.amountCents,
		OrderID:           mv.orderID,
		WithdrawalID:      mv.withdrawalID,
		Description:       mv.description,
		BalanceAfterCents: updated.BalanceCents,
		HoldAfterCents:    updated.HoldBalanceCents,
	}
	if err := repo.InsertTransaction(ctx, entry); err != nil {
		if dbpkg.IsUniqueViolation(err, orderTxIndex) || dbpkg.IsUniqueViolation(err, withdrawalTxIndex) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "wallet transaction already recorded")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append wallet transaction")
	}
	s.metrics.ObservePosting(string(mv.kind), mv.amountCents)
	return entry, nil
}

func (s *service) findExisting(ctx context.Context, repo Repository, mv movement) (*models.WalletTransaction, error) {
	var (
		existing *models.WalletTransaction
		err      error
	)
	switch {
	case mv.orderID != nil:
		existing, err = repo.FindOrderTransaction(ctx, *mv.orderID, mv.txType, mv.kind)
	case mv.withdrawalID != nil:
		existing, err = repo.FindWithdrawalTransaction(ctx, *mv.withdrawalID, mv.kind)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan wallet transactions")
	}
	return existing, nil
}

func validateEntry(entry Entry, txType enums.WalletTransactionType) error {
	if entry.VendorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if entry.AmountCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	if !entry.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction kind %q", entry.Kind))
	}
	if entry.Kind.Type() != txType {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s is not a %s entry", entry.Kind, txType))
	}
	return nil
}

func validateHoldMove(vendorID uuid.UUID, amountCents int64, withdrawalID uuid.UUID) error {
	if vendorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if withdrawalID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "withdrawal id is required")
	}
	if amountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	return nil
}
