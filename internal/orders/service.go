package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the order status machine and its status history.
type Service interface {
	Confirm(ctx context.Context, input ConfirmInput) (*OrderDetail, error)
	ConfirmInTx(ctx context.Context, tx *gorm.DB, input ConfirmInput) (*models.Order, error)
	AfterConfirm(ctx context.Context, orderID uuid.UUID)
	FailPaymentInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error)
	AdvanceStatus(ctx context.Context, input AdvanceStatusInput) (*OrderDetail, error)
	Cancel(ctx context.Context, input CancelInput) (*OrderDetail, error)
	RequestReturn(ctx context.Context, input ReturnRequestInput) (*OrderDetail, error)
	ApproveReturn(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*OrderDetail, error)
	MarkPickupCompleted(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*OrderDetail, error)
	CompleteReturn(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*OrderDetail, error)
	Get(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*OrderDetail, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params ListParams) (*OrderList, error)
	ListForVendor(ctx context.Context, vendorID uuid.UUID, params ListParams) (*OrderList, error)
	Track(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*Tracking, error)
}

type service struct {
	repo             Repository
	tx               txRunner
	outbox           outboxPublisher
	inventory        InventoryReleaser
	commission       CommissionProcessor
	compensator      Compensator
	logg             *logger.Logger
	metrics          *metrics.SettlementMetrics
	returnWindowDays int
	now              func() time.Time
}

// NewService builds the order lifecycle service. metrics may be nil.
func NewService(
	repo Repository,
	tx txRunner,
	publisher outboxPublisher,
	inventory InventoryReleaser,
	commission CommissionProcessor,
	compensator Compensator,
	logg *logger.Logger,
	m *metrics.SettlementMetrics,
	returnWindowDays int,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory releaser required")
	}
	if commission == nil {
		return nil, fmt.Errorf("commission processor required")
	}
	if compensator == nil {
		return nil, fmt.Errorf("compensator required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if returnWindowDays <= 0 {
		returnWindowDays = 7
	}
	return &service{
		repo:             repo,
		tx:               tx,
		outbox:           publisher,
		inventory:        inventory,
		commission:       commission,
		compensator:      compensator,
		logg:             logg,
		metrics:          m,
		returnWindowDays: returnWindowDays,
		now:              func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Confirm(ctx context.Context, input ConfirmInput) (*OrderDetail, error) {
	var order *models.Order
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		confirmed, err := s.ConfirmInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		order = confirmed
		return nil
	}); err != nil {
		return nil, err
	}

	s.AfterConfirm(ctx, order.ID)
	return s.reload(ctx, order), nil
}

// ConfirmInTx marks a PENDING order CONFIRMED on the caller's transaction. An order
// that is already CONFIRMED is returned unchanged.
func (s *service) ConfirmInTx(ctx context.Context, tx *gorm.DB, input ConfirmInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Outcome != PaymentOutcomePaid && input.Outcome != PaymentOutcomeCOD {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment outcome")
	}

	repo := s.repo.WithTx(tx)
	order, err := s.lock(ctx, repo, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.OrderStatus == enums.OrderStatusConfirmed {
		return order, nil
	}
	if order.OrderStatus != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot be confirmed from status %s", order.OrderStatus)).
			WithDetails(map[string]any{"current": order.OrderStatus})
	}

	note := "payment verified"
	switch input.Outcome {
	case PaymentOutcomePaid:
		if order.PaymentMethod != enums.PaymentMethodOnline {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "only online orders can be confirmed by payment")
		}
		order.PaymentStatus = enums.PaymentStatusPaid
	case PaymentOutcomeCOD:
		if order.PaymentMethod != enums.PaymentMethodCOD {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "only cash on delivery orders can be confirmed without payment")
		}
		note = "cash on delivery"
	}

	now := s.now()
	order.OrderStatus = enums.OrderStatusConfirmed
	order.AppendHistory(enums.OrderStatusConfirmed, enums.ActorRoleSystem, nil, note, now)
	if err := repo.Save(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm order")
	}

	event := payloads.OrderConfirmedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		VendorID:    order.VendorID,
		TotalCents:  order.PayableCents,
	}
	if err := s.emit(ctx, tx, enums.EventOrderConfirmed, order, auth.System(), event); err != nil {
		return nil, err
	}
	return order, nil
}

// AfterConfirm credits commission once the confirmation has committed. Failures
// are logged and left for the reconciliation job.
func (s *service) AfterConfirm(ctx context.Context, orderID uuid.UUID) {
	if _, err := s.commission.ProcessForOrder(ctx, orderID); err != nil {
		s.deferred(ctx, orderID, "commission_credit", err)
	}
}

// FailPaymentInTx cancels a PENDING order whose payment was rejected and returns its stock.
func (s *service) FailPaymentInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error) {
	repo := s.repo.WithTx(tx)
	order, err := s.lock(ctx, repo, orderID)
	if err != nil {
		return nil, err
	}
	if order.OrderStatus != enums.OrderStatusPending {
		return order, nil
	}
	if err := s.releaseStock(ctx, tx, order); err != nil {
		return nil, err
	}

	now := s.now()
	note := "Payment failed: " + reason
	role := enums.ActorRoleSystem
	order.PaymentStatus = enums.PaymentStatusFailed
	order.OrderStatus = enums.OrderStatusCancelled
	order.Refund.Status = enums.RefundStatusNotRequired
	order.Cancellation = models.OrderCancellation{Reason: &note, By: &role, At: &now}
	order.AppendHistory(enums.OrderStatusCancelled, role, nil, note, now)
	if err := repo.Save(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail order payment")
	}

	event := payloads.OrderCancelledEvent{
		OrderID:        order.ID,
		VendorID:       order.VendorID,
		PreviousStatus: enums.OrderStatusPending,
		Reason:         note,
		CancelledBy:    role,
		RefundStatus:   order.Refund.Status,
	}
	if err := s.emit(ctx, tx, enums.EventOrderCancelled, order, auth.System(), event); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) AdvanceStatus(ctx context.Context, input AdvanceStatusInput) (*OrderDetail, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", input.Target))
	}
	actor := input.Actor
	if !actor.IsOperator() && actor.Role != enums.ActorRoleVendor {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only vendors and operators can update order status")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		order = current
		if !actor.IsOperator() && !actor.OwnsVendor(order.VendorID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "you can only update your own orders")
		}

		from := order.OrderStatus
		if err := checkReservedTarget(from, input.Target); err != nil {
			return err
		}
		if from == input.Target {
			return nil
		}
		if actor.IsOperator() {
			if err := checkOperatorTransition(from, input.Target); err != nil {
				return err
			}
		} else if err := checkTableTransition(from, input.Target, actor.Role); err != nil {
			return err
		}
		if input.Target == enums.OrderStatusDelivered && !order.Commission.Calculated() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "commission must be calculated before the order can be delivered").
				WithDetails(map[string]any{"current": from, "requested": input.Target, "commission_calculated": false})
		}

		now := s.now()
		order.OrderStatus = input.Target
		order.AppendHistory(input.Target, actor.Role, actor.UserRef(), input.Note, now)
		if input.Target == enums.OrderStatusDelivered && !order.Commission.WalletCredited {
			s.creditOnDelivery(ctx, tx, order)
		}
		if err := repo.Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}

		event := payloads.OrderStatusChangedEvent{
			OrderID:    order.ID,
			VendorID:   order.VendorID,
			From:       from,
			To:         input.Target,
			ActorRole:  actor.Role,
			Note:       input.Note,
			OccurredAt: now,
		}
		return s.emit(ctx, tx, enums.EventOrderStatusChanged, order, actor, event)
	})
	if err != nil {
		return nil, err
	}
	return ToDetail(order), nil
}

// creditOnDelivery retries a commission credit that failed after confirmation. It runs
// under a savepoint so a failed credit leaves the delivery intact.
func (s *service) creditOnDelivery(ctx context.Context, tx *gorm.DB, order *models.Order) {
	snapshot := order.Commission
	err := tx.Transaction(func(sp *gorm.DB) error {
		return s.commission.ProcessInTx(ctx, sp, order, []enums.OrderStatus{enums.OrderStatusDelivered})
	})
	if err != nil {
		order.Commission = snapshot
		s.deferred(ctx, order.ID, "commission_credit", err)
	}
}

func (s *service) lock(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.LockByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) releaseStock(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	for _, item := range order.LineItems {
		if err := s.inventory.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore stock")
		}
	}
	return nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, order *models.Order, actor auth.Principal, data any) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.ActorFor(actor),
		Data:          data,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order event")
	}
	return nil
}

func (s *service) deferred(ctx context.Context, orderID uuid.UUID, sideEffect string, err error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":    orderID.String(),
		"side_effect": sideEffect,
	})
	s.logg.Error(logCtx, "deferred side effect failed", err)
	s.metrics.IncDeferredFailure(sideEffect)
}

// reload re-reads an order after post-commit work; the committed copy is returned if the read fails.
func (s *service) reload(ctx context.Context, order *models.Order) *OrderDetail {
	fresh, err := s.repo.FindByID(ctx, order.ID)
	if err != nil {
		return ToDetail(order)
	}
	return ToDetail(fresh)
}
