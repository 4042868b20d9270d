package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

const (
	defaultBatchSize        = 100
	defaultCommissionGrace  = 10 * time.Minute
	defaultRefundRetryAfter = 15 * time.Minute
)

// creditableStatuses are the order statuses a missed commission credit is retried from.
var creditableStatuses = []enums.OrderStatus{
	enums.OrderStatusConfirmed,
	enums.OrderStatusPacked,
	enums.OrderStatusProcessing,
	enums.OrderStatusShipped,
	enums.OrderStatusDelivered,
}

type uncreditedOrderReader interface {
	FindUncreditedCommissions(ctx context.Context, statuses []enums.OrderStatus, before time.Time, limit int) ([]models.Order, error)
}

type commissionReconciler interface {
	Reconcile(ctx context.Context, orderID uuid.UUID) (*models.OrderCommission, error)
}

type reversalReconciler interface {
	ReconcileReversals(ctx context.Context, limit int) (int, error)
}

type refundRetrier interface {
	RetryPendingRefunds(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// CommissionReconcileJobParams configure the missed-credit sweep.
type CommissionReconcileJobParams struct {
	Logger    *logger.Logger
	Orders    uncreditedOrderReader
	Engine    commissionReconciler
	Grace     time.Duration
	BatchSize int
}

// NewCommissionReconcileJob credits vendor shares whose post-confirmation credit failed.
func NewCommissionReconcileJob(params CommissionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders reader required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("commission engine required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultCommissionGrace
	}
	return &commissionReconcileJob{
		logg:   params.Logger,
		orders: params.Orders,
		engine: params.Engine,
		grace:  grace,
		batch:  batchSize(params.BatchSize),
		now:    time.Now,
	}, nil
}

type commissionReconcileJob struct {
	logg   *logger.Logger
	orders uncreditedOrderReader
	engine commissionReconciler
	grace  time.Duration
	batch  int
	now    func() time.Time
}

func (j *commissionReconcileJob) Name() string { return "commission-reconcile" }

func (j *commissionReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	rows, err := j.orders.FindUncreditedCommissions(ctx, creditableStatuses, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query uncredited commissions: %w", err)
	}

	var errs error
	credited, skipped := 0, 0
	for _, order := range rows {
		if !order.WasConfirmed() {
			skipped++
			j.logg.Warn(j.logg.WithOrderID(ctx, order.ID.String()), "skipping commission for order that was never confirmed")
			continue
		}
		if _, err := j.engine.Reconcile(ctx, order.ID); err != nil {
			j.logg.Error(j.logg.WithOrderID(ctx, order.ID.String()), "commission reconcile failed", err)
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		credited++
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"credited":   credited,
		"skipped":    skipped,
	}), "commission reconcile complete")
	return errs
}

// ReversalReconcileJobParams configure the reversal sweep.
type ReversalReconcileJobParams struct {
	Logger    *logger.Logger
	Refunds   reversalReconciler
	BatchSize int
}

// NewReversalReconcileJob claws back credited shares of cancelled or returned orders
// whose reversal was deferred.
func NewReversalReconcileJob(params ReversalReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("reversal reconciler required")
	}
	return &reversalReconcileJob{
		logg:    params.Logger,
		refunds: params.Refunds,
		batch:   batchSize(params.BatchSize),
	}, nil
}

type reversalReconcileJob struct {
	logg    *logger.Logger
	refunds reversalReconciler
	batch   int
}

func (j *reversalReconcileJob) Name() string { return "commission-reversal-reconcile" }

func (j *reversalReconcileJob) Run(ctx context.Context) error {
	reversed, err := j.refunds.ReconcileReversals(ctx, j.batch)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"reversed": reversed}), "commission reversal reconcile complete")
	return err
}

// RefundRetryJobParams configure the refund dispatch retry.
type RefundRetryJobParams struct {
	Logger     *logger.Logger
	Refunds    refundRetrier
	RetryAfter time.Duration
	BatchSize  int
}

// NewRefundRetryJob re-sends pending refunds the gateway has not acknowledged.
func NewRefundRetryJob(params RefundRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund retrier required")
	}
	retryAfter := params.RetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRefundRetryAfter
	}
	return &refundRetryJob{
		logg:       params.Logger,
		refunds:    params.Refunds,
		retryAfter: retryAfter,
		batch:      batchSize(params.BatchSize),
	}, nil
}

type refundRetryJob struct {
	logg       *logger.Logger
	refunds    refundRetrier
	retryAfter time.Duration
	batch      int
}

func (j *refundRetryJob) Name() string { return "refund-retry" }

func (j *refundRetryJob) Run(ctx context.Context) error {
	retried, err := j.refunds.RetryPendingRefunds(ctx, j.retryAfter, j.batch)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"retried": retried}), "refund retry complete")
	return err
}

func batchSize(n int) int {
	if n <= 0 {
		return defaultBatchSize
	}
	return n
}
