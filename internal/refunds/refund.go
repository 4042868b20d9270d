package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/payments/gateway"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

// maxDispatchAttempts is how many gateway rejections a refund absorbs before it is
// marked FAILED and needs a fresh request.
const maxDispatchAttempts = 5

// NewReference builds a refund reference, REF-<unix-ms>-<9 chars>.
func NewReference(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
	return fmt.Sprintf("REF-%d-%s", now.UnixMilli(), suffix)
}

// StageRefund marks the order's refund PENDING on the caller's transaction. The
// gateway is only called by DispatchRefund once that transaction has committed.
func (s *service) StageRefund(ctx context.Context, tx *gorm.DB, order *models.Order, amountCents int64, reason string) error {
	return s.stage(ctx, tx, order, amountCents, reason, auth.System())
}

func (s *service) stage(ctx context.Context, tx *gorm.DB, order *models.Order, amountCents int64, reason string, actor auth.Principal) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if amountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if amountCents > order.PayableCents {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount cannot exceed order amount").
			WithDetails(map[string]any{"payable_cents": order.PayableCents, "requested_cents": amountCents})
	}

	now := s.now()
	ref := NewReference(now)
	order.Refund = models.OrderRefund{
		Status:      enums.RefundStatusPending,
		AmountCents: amountCents,
		Reference:   &ref,
		Reason:      &reason,
		InitiatedAt: &now,
		Attempts:    order.Refund.Attempts,
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundInitiated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.ActorFor(actor),
		Data: payloads.RefundInitiatedEvent{
			OrderID:     order.ID,
			Reference:   ref,
			AmountCents: amountCents,
			Reason:      reason,
		},
		Version: 1,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit refund initiated")
	}
	return nil
}

// DispatchRefund sends a staged refund to the gateway. Failures are recorded on the
// order and left PENDING for the retry job.
func (s *service) DispatchRefund(ctx context.Context, orderID uuid.UUID) {
	if err := s.dispatch(ctx, orderID); err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), "refund dispatch failed", err)
		s.metrics.IncDeferredFailure("refund_dispatch")
	}
}

func (s *service) dispatch(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.find(ctx, orderID)
	if err != nil {
		return err
	}
	if !dispatchable(order) {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	result, gwErr := s.gateway.Refund(callCtx, gateway.RefundRequest{
		PaymentRef:  *order.PaymentRef,
		AmountCents: order.Refund.AmountCents,
		Reference:   deref(order.Refund.Reference),
	})
	cancel()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.lock(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !dispatchable(current) {
			return nil
		}
		current.Refund.Attempts++
		if gwErr != nil {
			msg := gwErr.Error()
			current.Refund.FailureReason = &msg
			if current.Refund.Attempts >= maxDispatchAttempts {
				current.Refund.Status = enums.RefundStatusFailed
			}
		} else {
			current.Refund.GatewayRef = &result.RefundID
			current.Refund.FailureReason = nil
		}
		if err := s.orders.WithTx(tx).Save(ctx, current); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund attempt")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if gwErr != nil {
		return gwErr
	}
	s.logg.Info(s.logg.WithFields(s.orderLog(ctx, order), map[string]any{
		"refund_id":    result.RefundID,
		"amount_cents": order.Refund.AmountCents,
	}), "refund sent to gateway")
	return nil
}

func dispatchable(order *models.Order) bool {
	return order.Refund.Status == enums.RefundStatusPending &&
		order.Refund.GatewayRef == nil &&
		order.PaymentMethod == enums.PaymentMethodOnline &&
		order.PaymentStatus == enums.PaymentStatusPaid &&
		order.PaymentRef != nil
}

// InitiateRefund lets an operator refund part or all of a paid online order.
func (s *service) InitiateRefund(ctx context.Context, input InitiateInput) (*RefundView, error) {
	if !input.Actor.IsOperator() && input.Actor.Role != enums.ActorRoleSystem {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators can initiate refunds")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "Manual refund by admin"
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.lock(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		order = current
		if order.PaymentMethod != enums.PaymentMethodOnline {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund can only be initiated for online payments")
		}
		if order.PaymentStatus != enums.PaymentStatusPaid || order.PaymentRef == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("refund can only be initiated for paid orders. current payment status: %s", order.PaymentStatus))
		}
		switch order.Refund.Status {
		case enums.RefundStatusPending:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund is already pending")
		case enums.RefundStatusCompleted:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund is already completed")
		}

		amount := order.PayableCents
		if input.AmountCents != nil {
			amount = *input.AmountCents
		}
		if err := s.stage(ctx, tx, order, amount, reason, input.Actor); err != nil {
			return err
		}
		if err := s.orders.WithTx(tx).Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save refund")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.DispatchRefund(ctx, order.ID)
	return s.view(ctx, order), nil
}

// CompleteRefund records the gateway's confirmation. When every order covered by
// the originating payment has been refunded the payment itself becomes REFUNDED.
func (s *service) CompleteRefund(ctx context.Context, orderID uuid.UUID, reference string, actor auth.Principal) (*RefundView, error) {
	if !actor.IsOperator() && actor.Role != enums.ActorRoleSystem {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators can complete refunds")
	}
	reference = strings.TrimSpace(reference)

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.lock(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order = current
		if order.Refund.Status != enums.RefundStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("refund is not pending. current status: %s", order.Refund.Status))
		}
		if reference != "" && reference != deref(order.Refund.Reference) && reference != deref(order.Refund.GatewayRef) {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund reference does not match")
		}

		now := s.now()
		order.Refund.Status = enums.RefundStatusCompleted
		order.Refund.CompletedAt = &now
		order.Refund.FailureReason = nil
		order.PaymentStatus = enums.PaymentStatusRefunded
		if err := s.orders.WithTx(tx).Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete refund")
		}
		if err := s.settlePayment(ctx, tx, order); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundCompleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.ActorFor(actor),
			Data: payloads.RefundCompletedEvent{
				OrderID:     order.ID,
				Reference:   deref(order.Refund.Reference),
				GatewayRef:  deref(order.Refund.GatewayRef),
				AmountCents: order.Refund.AmountCents,
			},
			Version: 1,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit refund completed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.orderLog(ctx, order), "refund completed")
	return toView(order), nil
}

func (s *service) settlePayment(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.PaymentRef == nil {
		return nil
	}
	paymentsRepo := s.payments.WithTx(tx)
	payment, err := paymentsRepo.LockByGatewayOrderID(ctx, *order.PaymentRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status == enums.PaymentStatusRefunded {
		return nil
	}
	covered, err := s.orders.WithTx(tx).FindByIDs(ctx, payment.OrderIDs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment orders")
	}
	for _, sibling := range covered {
		if sibling.Refund.Status != enums.RefundStatusCompleted {
			return nil
		}
	}
	payment.Status = enums.PaymentStatusRefunded
	if err := paymentsRepo.Save(ctx, payment); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
	}
	return nil
}

// RequestRefund is the buyer-facing entry point for cancelled online orders.
func (s *service) RequestRefund(ctx context.Context, orderID uuid.UUID, buyer auth.Principal, reason string) (*RefundView, error) {
	if buyer.Role != enums.ActorRoleCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can request refunds")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Refund requested by customer"
	}

	var (
		order    *models.Order
		dispatch bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.lock(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order = current
		if order.BuyerID != buyer.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "you can only request refunds for your own orders")
		}
		if order.PaymentMethod == enums.PaymentMethodCOD && order.PaymentStatus != enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cash on delivery orders that were never paid have nothing to refund")
		}
		if order.OrderStatus == enums.OrderStatusDelivered {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivered orders must use the return process")
		}

		switch order.Refund.Status {
		case enums.RefundStatusPending:
			return nil
		case enums.RefundStatusCompleted:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund is already completed")
		case enums.RefundStatusFailed:
			amount := order.Refund.AmountCents
			if amount <= 0 {
				amount = order.PayableCents
			}
			order.Refund.Attempts = 0
			if err := s.stage(ctx, tx, order, amount, reason, buyer); err != nil {
				return err
			}
		default:
			if order.OrderStatus != enums.OrderStatusCancelled ||
				order.PaymentMethod != enums.PaymentMethodOnline ||
				order.PaymentStatus != enums.PaymentStatusPaid {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not eligible for a refund").
					WithDetails(map[string]any{
						"order_status":   order.OrderStatus,
						"payment_status": order.PaymentStatus,
					})
			}
			if err := s.stage(ctx, tx, order, order.PayableCents, reason, buyer); err != nil {
				return err
			}
		}
		if err := s.orders.WithTx(tx).Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save refund")
		}
		dispatch = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if dispatch {
		s.DispatchRefund(ctx, order.ID)
		return s.view(ctx, order), nil
	}
	return toView(order), nil
}

func (s *service) RefundStatus(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*RefundView, error) {
	order, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.IsOperator(), actor.Role == enums.ActorRoleSystem:
	case actor.Role == enums.ActorRoleCustomer && order.BuyerID == actor.UserID:
	case actor.OwnsVendor(order.VendorID):
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "access denied to this order")
	}
	return toView(order), nil
}

// RetryPendingRefunds re-sends refunds staged more than olderThan ago that the
// gateway never acknowledged.
func (s *service) RetryPendingRefunds(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.orders.FindPendingRefunds(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find pending refunds")
	}
	var (
		errs []error
		sent int
	)
	for _, row := range rows {
		if err := s.dispatch(ctx, row.ID); err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", row.ID, err))
			continue
		}
		sent++
	}

	captures, err := s.payments.FindPendingRefunds(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		errs = append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find pending capture refunds"))
		return sent, multierr.Combine(errs...)
	}
	for _, payment := range captures {
		if err := s.dispatchCapture(ctx, payment.ID); err != nil {
			errs = append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
			continue
		}
		sent++
	}
	return sent, multierr.Combine(errs...)
}

func (s *service) view(ctx context.Context, order *models.Order) *RefundView {
	fresh, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		return toView(order)
	}
	return toView(fresh)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
