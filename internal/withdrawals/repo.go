package withdrawals

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/repo"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

// Repository persists withdrawal requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.WithdrawalRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	Save(ctx context.Context, request *models.WithdrawalRequest) error
	List(ctx context.Context, query listQuery) ([]models.WithdrawalRequest, error)
}

type listQuery struct {
	vendorID *uuid.UUID
	status   *enums.WithdrawalStatus
	cursor   *pagination.Cursor
	limit    int
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, request *models.WithdrawalRequest) error {
	return r.DB(ctx).Create(request).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	if err := r.DB(ctx).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	if err := r.Locked(ctx).
		Where("id = ?", id).
		First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) Save(ctx context.Context, request *models.WithdrawalRequest) error {
	return r.DB(ctx).Save(request).Error
}

func (r *repository) List(ctx context.Context, q listQuery) ([]models.WithdrawalRequest, error) {
	query := r.DB(ctx).Model(&models.WithdrawalRequest{})
	if q.vendorID != nil {
		query = query.Where("vendor_id = ?", *q.vendorID)
	}
	if q.status != nil {
		query = query.Where("status = ?", *q.status)
	}
	if q.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", q.cursor.CreatedAt, q.cursor.CreatedAt, q.cursor.ID)
	}
	var rows []models.WithdrawalRequest
	if err := query.Order("created_at DESC").Order("id DESC").Limit(q.limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
