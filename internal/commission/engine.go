package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/wallet"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

var (
	// ConfirmedEligible is the normal crediting rule: the order was just confirmed.
	ConfirmedEligible = []enums.OrderStatus{enums.OrderStatusConfirmed}
	// ReconcileEligible admits every later fulfillment status for retries of a
	// credit that failed after confirmation.
	ReconcileEligible = []enums.OrderStatus{
		enums.OrderStatusConfirmed,
		enums.OrderStatusPacked,
		enums.OrderStatusProcessing,
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
	}
)

type rateResolver interface {
	ResolveRate(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID) (decimal.Decimal, error)
}

// Engine calculates an order's commission and credits the vendor share exactly once.
type Engine interface {
	ProcessForOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderCommission, error)
	Reconcile(ctx context.Context, orderID uuid.UUID) (*models.OrderCommission, error)
	ProcessInTx(ctx context.Context, tx *gorm.DB, order *models.Order, eligible []enums.OrderStatus) error
}

type engine struct {
	orders orders.Repository
	wallet wallet.Service
	rates  rateResolver
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

// NewEngine wires the commission engine.
func NewEngine(ordersRepo orders.Repository, walletSvc wallet.Service, rates rateResolver, tx txRunner, publisher outboxPublisher, logg *logger.Logger) (Engine, error) {
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if walletSvc == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if rates == nil {
		return nil, fmt.Errorf("rate resolver required")
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
	return &engine{
		orders: ordersRepo,
		wallet: walletSvc,
		rates:  rates,
		tx:     tx,
		outbox: publisher,
		logg:   logg,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// ProcessForOrder credits a CONFIRMED order. A credited order returns its stored
// commission unchanged.
func (e *engine) ProcessForOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderCommission, error) {
	return e.process(ctx, orderID, ConfirmedEligible)
}

// Reconcile retries a credit for an order that has moved past confirmation.
func (e *engine) Reconcile(ctx context.Context, orderID uuid.UUID) (*models.OrderCommission, error) {
	return e.process(ctx, orderID, ReconcileEligible)
}

func (e *engine) process(ctx context.Context, orderID uuid.UUID, eligible []enums.OrderStatus) (*models.OrderCommission, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var result models.OrderCommission
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := e.orders.WithTx(tx).LockByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if err := e.ProcessInTx(ctx, tx, order, eligible); err != nil {
			return err
		}
		result = order.Commission
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ProcessInTx runs on the caller's transaction with the order already locked.
// The split is written first, then the wallet is credited, then the order is
// marked credited; any failure rolls all three back together.
func (e *engine) ProcessInTx(ctx context.Context, tx *gorm.DB, order *models.Order, eligible []enums.OrderStatus) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if order.Commission.WalletCredited {
		return nil
	}
	if err := checkEligible(order, eligible); err != nil {
		return err
	}
	repo := e.orders.WithTx(tx)
	now := e.now()

	if !order.Commission.Calculated() {
		rate, err := e.rates.ResolveRate(ctx, tx, order.VendorID)
		if err != nil {
			return err
		}
		split := Calculate(order.SubtotalCents, rate)
		order.Commission.Rate = split.Rate
		order.Commission.PlatformCents = split.PlatformCents
		order.Commission.VendorCents = split.VendorCents
		order.Commission.CalculatedAt = &now
		if err := repo.Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save commission")
		}
	}

	exists, err := e.wallet.HasOrderTransaction(ctx, tx, order.ID, enums.WalletTransactionTypeCredit, enums.WalletTransactionKindCommissionCredit)
	if err != nil {
		return err
	}
	var entry *models.WalletTransaction
	if !exists {
		entry, err = e.wallet.Credit(ctx, tx, wallet.Entry{
			VendorID:    order.VendorID,
			AmountCents: order.Commission.VendorCents,
			Kind:        enums.WalletTransactionKindCommissionCredit,
			OrderID:     &order.ID,
			Description: fmt.Sprintf("Commission credit - Order #%s", order.OrderNumber),
		})
		if err != nil {
			return err
		}
	}

	order.Commission.WalletCredited = true
	order.Commission.CreditedAt = &now
	if err := repo.Save(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark commission credited")
	}
	if entry == nil {
		return nil
	}

	if err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCommissionCredited,
		AggregateType: enums.AggregateVendorWallet,
		AggregateID:   entry.WalletID,
		Data: payloads.CommissionCreditedEvent{
			OrderID:           order.ID,
			VendorID:          order.VendorID,
			WalletID:          entry.WalletID,
			Rate:              order.Commission.Rate.StringFixed(2),
			PlatformCents:     order.Commission.PlatformCents,
			VendorCents:       order.Commission.VendorCents,
			BalanceAfterCents: entry.BalanceAfterCents,
		},
		Version: 1,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit commission credited")
	}

	logCtx := e.logg.WithOrderID(ctx, order.ID.String())
	logCtx = e.logg.WithVendorID(logCtx, order.VendorID.String())
	e.logg.Info(e.logg.WithFields(logCtx, map[string]any{"vendor_cents": order.Commission.VendorCents}), "commission credited")
	return nil
}

func checkEligible(order *models.Order, eligible []enums.OrderStatus) error {
	statusOK := false
	for _, status := range eligible {
		if order.OrderStatus == status {
			statusOK = true
			break
		}
	}
	paymentOK := order.PaymentStatus == enums.PaymentStatusPaid ||
		(order.PaymentMethod == enums.PaymentMethodCOD && order.PaymentStatus == enums.PaymentStatusPending)
	if statusOK && paymentOK && order.WasConfirmed() {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeEligibility, "order is not eligible for commission").
		WithDetails(map[string]any{
			"order_status":   order.OrderStatus,
			"payment_status": order.PaymentStatus,
			"payment_method": order.PaymentMethod,
			"confirmed":      order.WasConfirmed(),
		})
}
