package refunds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/payments"
	"github.com/angelmondragon/marketplace-settlement/internal/payments/gateway"
	"github.com/angelmondragon/marketplace-settlement/internal/wallet"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service reverses vendor credits and moves buyer refunds through the gateway.
type Service interface {
	orders.Compensator
	StageCaptureRefund(ctx context.Context, tx *gorm.DB, payment *models.Payment, amountCents int64, reason string) error
	DispatchCaptureRefund(ctx context.Context, paymentID uuid.UUID)
	InitiateRefund(ctx context.Context, input InitiateInput) (*RefundView, error)
	CompleteRefund(ctx context.Context, orderID uuid.UUID, reference string, actor auth.Principal) (*RefundView, error)
	RequestRefund(ctx context.Context, orderID uuid.UUID, buyer auth.Principal, reason string) (*RefundView, error)
	RefundStatus(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*RefundView, error)
	RetryPendingRefunds(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	ReconcileReversals(ctx context.Context, limit int) (int, error)
}

// InitiateInput is an operator refund request. A nil amount refunds the payable total.
type InitiateInput struct {
	OrderID     uuid.UUID
	AmountCents *int64
	Reason      string
	Actor       auth.Principal
}

type service struct {
	orders         orders.Repository
	payments       payments.Repository
	wallet         wallet.Service
	gateway        gateway.Gateway
	tx             txRunner
	outbox         outboxPublisher
	logg           *logger.Logger
	metrics        *metrics.SettlementMetrics
	gatewayTimeout time.Duration
	now            func() time.Time
}

// NewService wires the compensator. metrics may be nil.
func NewService(
	ordersRepo orders.Repository,
	paymentsRepo payments.Repository,
	walletSvc wallet.Service,
	gw gateway.Gateway,
	tx txRunner,
	publisher outboxPublisher,
	logg *logger.Logger,
	m *metrics.SettlementMetrics,
	gatewayTimeout time.Duration,
) (Service, error) {
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if paymentsRepo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if walletSvc == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if gw == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = 10 * time.Second
	}
	return &service{
		orders:         ordersRepo,
		payments:       paymentsRepo,
		wallet:         walletSvc,
		gateway:        gw,
		tx:             tx,
		outbox:         publisher,
		logg:           logg,
		metrics:        m,
		gatewayTimeout: gatewayTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.orders.WithTx(tx).LockByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) find(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) orderLog(ctx context.Context, order *models.Order) context.Context {
	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	return s.logg.WithVendorID(logCtx, order.VendorID.String())
}
