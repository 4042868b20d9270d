package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgpagination "github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

// Repository manages persistence for vendor wallets and their transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByVendor(ctx context.Context, vendorID uuid.UUID) (*models.VendorWallet, error)
	LockByVendor(ctx context.Context, vendorID uuid.UUID) (*models.VendorWallet, error)
	CreateIfMissing(ctx context.Context, vendorID uuid.UUID) error
	Adjust(ctx context.Context, walletID uuid.UUID, balanceDelta, holdDelta int64) (bool, error)
	InsertTransaction(ctx context.Context, entry *models.WalletTransaction) error
	FindOrderTransaction(ctx context.Context, orderID uuid.UUID, txType enums.WalletTransactionType, kind enums.WalletTransactionKind) (*models.WalletTransaction, error)
	FindWithdrawalTransaction(ctx context.Context, withdrawalID uuid.UUID, kind enums.WalletTransactionKind) (*models.WalletTransaction, error)
	ListTransactions(ctx context.Context, query transactionQuery) ([]models.WalletTransaction, error)
	TotalsByKind(ctx context.Context, vendorID uuid.UUID) (map[enums.WalletTransactionKind]int64, error)
}

type transactionQuery struct {
	vendorID uuid.UUID
	kind     *enums.WalletTransactionKind
	limit    int
	cursor   *pkgpagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByVendor(ctx context.Context, vendorID uuid.UUID) (*models.VendorWallet, error) {
	var wallet models.VendorWallet
	if err := r.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// LockByVendor reads the wallet with a row lock so same-vendor mutations serialize.
func (r *repository) LockByVendor(ctx context.Context, vendorID uuid.UUID) (*models.VendorWallet, error) {
	var wallet models.VendorWallet
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("vendor_id = ?", vendorID).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// CreateIfMissing inserts an empty wallet unless one already exists for the vendor.
func (r *repository) CreateIfMissing(ctx context.Context, vendorID uuid.UUID) error {
	wallet := models.VendorWallet{VendorID: vendorID}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "vendor_id"}}, DoNothing: true}).
		Create(&wallet).Error
}

// Adjust applies both deltas in one conditional update. It reports false when
// either balance would go negative, leaving the row untouched.
func (r *repository) Adjust(ctx context.Context, walletID uuid.UUID, balanceDelta, holdDelta int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.VendorWallet{}).
		Where("id = ? AND balance_cents + ? >= 0 AND hold_balance_cents + ? >= 0", walletID, balanceDelta, holdDelta).
		Updates(map[string]any{
			"balance_cents":      gorm.Expr("balance_cents + ?", balanceDelta),
			"hold_balance_cents": gorm.Expr("hold_balance_cents + ?", holdDelta),
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertTransaction(ctx context.Context, entry *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// FindOrderTransaction returns nil without an error when no entry exists yet.
func (r *repository) FindOrderTransaction(ctx context.Context, orderID uuid.UUID, txType enums.WalletTransactionType, kind enums.WalletTransactionKind) (*models.WalletTransaction, error) {
	return r.findOne(ctx, "order_id = ? AND type = ? AND kind = ?", orderID, txType, kind)
}

// FindWithdrawalTransaction returns nil without an error when no entry exists yet.
func (r *repository) FindWithdrawalTransaction(ctx context.Context, withdrawalID uuid.UUID, kind enums.WalletTransactionKind) (*models.WalletTransaction, error) {
	return r.findOne(ctx, "withdrawal_id = ? AND kind = ?", withdrawalID, kind)
}

// findOne uses Limit+Find rather than First so a miss is not logged as an error.
func (r *repository) findOne(ctx context.Context, query string, args ...any) (*models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	res := r.db.WithContext(ctx).
		Where(query, args...).
		Limit(1).
		Find(&rows)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repository) ListTransactions(ctx context.Context, opts transactionQuery) ([]models.WalletTransaction, error) {
	query := r.db.WithContext(ctx).Model(&models.WalletTransaction{}).Where("vendor_id = ?", opts.vendorID)
	if opts.kind != nil {
		query = query.Where("kind = ?", *opts.kind)
	}
	if opts.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	var rows []models.WalletTransaction
	if err := query.Order("created_at DESC").Order("id DESC").Limit(opts.limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) TotalsByKind(ctx context.Context, vendorID uuid.UUID) (map[enums.WalletTransactionKind]int64, error) {
	var rows []struct {
		Kind  enums.WalletTransactionKind
		Total int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Select("kind, COALESCE(SUM(amount_cents), 0) AS total").
		Where("vendor_id = ?", vendorID).
		Group("kind").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[enums.WalletTransactionKind]int64, len(rows))
	for _, row := range rows {
		out[row.Kind] = row.Total
	}
	return out, nil
}
