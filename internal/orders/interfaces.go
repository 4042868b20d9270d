package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for the orders table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByIDs(ctx context.Context, orderIDs []uuid.UUID) ([]models.Order, error)
	Save(ctx context.Context, order *models.Order) error
	List(ctx context.Context, query listQuery) ([]models.Order, error)
	FindUncreditedCommissions(ctx context.Context, statuses []enums.OrderStatus, before time.Time, limit int) ([]models.Order, error)
	FindUnreversedCommissions(ctx context.Context, limit int) ([]models.Order, error)
	FindPendingRefunds(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
}

type listQuery struct {
	buyerID  *uuid.UUID
	vendorID *uuid.UUID
	status   *enums.OrderStatus
	limit    int
	cursor   *pagination.Cursor
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// InventoryReleaser returns reserved stock when an order no longer needs it.
type InventoryReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

// CommissionProcessor credits the vendor share of an order.
type CommissionProcessor interface {
	ProcessForOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderCommission, error)
	ProcessInTx(ctx context.Context, tx *gorm.DB, order *models.Order, eligible []enums.OrderStatus) error
}

// Compensator undoes the financial effects of a cancelled or returned order.
type Compensator interface {
	ReverseCommission(ctx context.Context, tx *gorm.DB, order *models.Order, cause string) error
	StageRefund(ctx context.Context, tx *gorm.DB, order *models.Order, amountCents int64, reason string) error
	DispatchRefund(ctx context.Context, orderID uuid.UUID)
}
