package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	reversalCauseCancelled = "cancelled"
	reversalCauseReturned  = "returned"
)

var (
	customerCancellable = []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusConfirmed}
	operatorCancellable = []enums.OrderStatus{
		enums.OrderStatusPending,
		enums.OrderStatusConfirmed,
		enums.OrderStatusPacked,
		enums.OrderStatusProcessing,
		enums.OrderStatusShipped,
	}
)

func (s *service) Cancel(ctx context.Context, input CancelInput) (*OrderDetail, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	actor := input.Actor
	var allowedFrom []enums.OrderStatus
	switch {
	case actor.IsOperator():
		allowedFrom = operatorCancellable
	case actor.Role == enums.ActorRoleCustomer:
		allowedFrom = customerCancellable
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers and operators can cancel orders")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = defaultCancelReason(actor.Role)
	}

	var (
		order        *models.Order
		refundStaged bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		order = current
		if actor.Role == enums.ActorRoleCustomer && order.BuyerID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "you can only cancel your own orders")
		}

		previous := order.OrderStatus
		if previous == enums.OrderStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is already cancelled").
				WithDetails(map[string]any{"current": previous})
		}
		if !containsStatus(allowedFrom, previous) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot be cancelled from status %s", previous)).
				WithDetails(map[string]any{"current": previous, "allowed_from": allowedFrom})
		}

		if err := s.releaseStock(ctx, tx, order); err != nil {
			return err
		}

		now := s.now()
		role := actor.Role
		order.OrderStatus = enums.OrderStatusCancelled
		order.Cancellation = models.OrderCancellation{
			Reason:   &reason,
			By:       &role,
			ByUserID: actor.UserRef(),
			At:       &now,
		}
		order.AppendHistory(enums.OrderStatusCancelled, role, actor.UserRef(), reason, now)

		if order.PaymentMethod == enums.PaymentMethodOnline && order.PaymentStatus == enums.PaymentStatusPaid {
			if err := s.compensator.StageRefund(ctx, tx, order, order.PayableCents, reason); err != nil {
				return err
			}
			refundStaged = true
		} else {
			order.Refund.Status = enums.RefundStatusNotRequired
		}

		s.reverseCommission(ctx, tx, order, reversalCauseCancelled)

		if err := repo.Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}

		event := payloads.OrderCancelledEvent{
			OrderID:           order.ID,
			VendorID:          order.VendorID,
			PreviousStatus:    previous,
			Reason:            reason,
			CancelledBy:       role,
			RefundStatus:      order.Refund.Status,
			RefundAmountCents: order.Refund.AmountCents,
		}
		return s.emit(ctx, tx, enums.EventOrderCancelled, order, actor, event)
	})
	if err != nil {
		return nil, err
	}

	if refundStaged {
		s.compensator.DispatchRefund(ctx, order.ID)
		return s.reload(ctx, order), nil
	}
	return ToDetail(order), nil
}

// reverseCommission claws back a credited share under a savepoint. A failure is
// logged and leaves the order unreversed for the reconciliation job.
func (s *service) reverseCommission(ctx context.Context, tx *gorm.DB, order *models.Order, cause string) {
	if !order.Commission.WalletCredited || order.Commission.Reversed {
		return
	}
	snapshot := order.Commission
	err := tx.Transaction(func(sp *gorm.DB) error {
		return s.compensator.ReverseCommission(ctx, sp, order, cause)
	})
	if err != nil {
		order.Commission = snapshot
		s.deferred(ctx, order.ID, "commission_reversal", err)
	}
}

func defaultCancelReason(role enums.ActorRole) string {
	return fmt.Sprintf("Cancelled by %s", strings.ReplaceAll(string(role), "_", "-"))
}

func containsStatus(list []enums.OrderStatus, status enums.OrderStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}
