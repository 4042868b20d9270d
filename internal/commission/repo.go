package commission

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
)

// Repository persists the global commission row and vendor overrides.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindGlobal(ctx context.Context) (*models.CommissionConfig, error)
	CreateGlobalIfMissing(ctx context.Context, rate decimal.Decimal) error
	UpdateGlobal(ctx context.Context, rate decimal.Decimal, updatedBy uuid.UUID) error
	FindOverride(ctx context.Context, vendorID uuid.UUID) (*models.VendorCommissionOverride, error)
	UpsertOverride(ctx context.Context, override *models.VendorCommissionOverride) error
	DeleteOverride(ctx context.Context, vendorID uuid.UUID) (bool, error)
	ListOverrides(ctx context.Context) ([]models.VendorCommissionOverride, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a commission config repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindGlobal(ctx context.Context) (*models.CommissionConfig, error) {
	var cfg models.CommissionConfig
	if err := r.db.WithContext(ctx).
		Where("scope = ?", models.CommissionScopeGlobal).
		First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreateGlobalIfMissing inserts the singleton row; the unique scope index makes
// concurrent first reads converge on one row.
func (r *repository) CreateGlobalIfMissing(ctx context.Context, rate decimal.Decimal) error {
	cfg := &models.CommissionConfig{Scope: models.CommissionScopeGlobal, Rate: rate}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "scope"}}, DoNothing: true}).
		Create(cfg).Error
}

func (r *repository) UpdateGlobal(ctx context.Context, rate decimal.Decimal, updatedBy uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CommissionConfig{}).
		Where("scope = ?", models.CommissionScopeGlobal).
		Updates(map[string]any{"rate": rate, "updated_by": updatedBy}).Error
}

func (r *repository) FindOverride(ctx context.Context, vendorID uuid.UUID) (*models.VendorCommissionOverride, error) {
	var override models.VendorCommissionOverride
	if err := r.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
		First(&override).Error; err != nil {
		return nil, err
	}
	return &override, nil
}

func (r *repository) UpsertOverride(ctx context.Context, override *models.VendorCommissionOverride) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vendor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"rate", "updated_by", "updated_at"}),
		}).
		Create(override).Error
}

func (r *repository) DeleteOverride(ctx context.Context, vendorID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
		Delete(&models.VendorCommissionOverride{})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) ListOverrides(ctx context.Context) ([]models.VendorCommissionOverride, error) {
	var rows []models.VendorCommissionOverride
	if err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
