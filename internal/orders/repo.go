package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// LockByID re-reads the order with a row lock; every mutation starts here.
func (r *repository) LockByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIDs(ctx context.Context, orderIDs []uuid.UUID) ([]models.Order, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var rows []models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", orderIDs).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Save writes the whole row. Callers hold the row lock from LockByID.
func (r *repository) Save(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *repository) List(ctx context.Context, opts listQuery) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if opts.buyerID != nil {
		query = query.Where("buyer_id = ?", *opts.buyerID)
	}
	if opts.vendorID != nil {
		query = query.Where("vendor_id = ?", *opts.vendorID)
	}
	if opts.status != nil {
		query = query.Where("order_status = ?", *opts.status)
	}
	if opts.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	var rows []models.Order
	if err := query.Order("created_at DESC").Order("id DESC").Limit(opts.limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindUncreditedCommissions returns orders in the given statuses whose vendor share
// never reached the wallet. before skips orders still inside their confirm flow.
func (r *repository) FindUncreditedCommissions(ctx context.Context, statuses []enums.OrderStatus, before time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("order_status IN ?", statuses).
		Where("commission_wallet_credited = ?", false).
		Where("(payment_status = ? OR payment_method = ?)", enums.PaymentStatusPaid, enums.PaymentMethodCOD).
		Where("updated_at < ?", before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindUnreversedCommissions returns cancelled or returned orders still holding a credited share.
func (r *repository) FindUnreversedCommissions(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("order_status IN ?", []enums.OrderStatus{enums.OrderStatusCancelled, enums.OrderStatusReturned}).
		Where("commission_wallet_credited = ? AND commission_reversed = ?", true, false).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindPendingRefunds returns refunds the gateway never acknowledged.
func (r *repository) FindPendingRefunds(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("refund_status = ?", enums.RefundStatusPending).
		Where("refund_gateway_ref IS NULL").
		Where("refund_initiated_at < ?", before).
		Order("refund_initiated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
