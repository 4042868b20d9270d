package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const returnRefundReason = "Order return"

func (s *service) RequestReturn(ctx context.Context, input ReturnRequestInput) (*OrderDetail, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return reason is required")
	}
	returnType := input.Type
	if returnType == "" {
		returnType = enums.ReturnTypeRefund
	}
	if !returnType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, `return type must be either "refund" or "replacement"`)
	}
	if input.Actor.Role != enums.ActorRoleCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can request returns")
	}

	return s.mutateReturn(ctx, input.OrderID, input.Actor, func(tx *gorm.DB, order *models.Order, now time.Time) error {
		if order.BuyerID != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "you can only return your own orders")
		}
		switch {
		case order.OrderStatus == enums.OrderStatusCancelled:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cancelled orders cannot be returned").
				WithDetails(map[string]any{"current": order.OrderStatus})
		case order.OrderStatus == enums.OrderStatusReturned || order.Return.Status == enums.ReturnStatusCompleted:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has already been returned").
				WithDetails(map[string]any{"current": order.OrderStatus, "return_status": order.Return.Status})
		case order.OrderStatus != enums.OrderStatusDelivered:
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("only delivered orders can be returned; current status: %s", order.OrderStatus)).
				WithDetails(map[string]any{"current": order.OrderStatus})
		case order.Return.Status.InProgress():
			return pkgerrors.New(pkgerrors.CodeStateConflict, "a return request already exists for this order").
				WithDetails(map[string]any{"return_status": order.Return.Status})
		}

		days := daysSince(deliveredAt(order), now)
		if days > s.returnWindowDays {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "return window expired").
				WithDetails(map[string]any{"window_days": s.returnWindowDays, "days_since_delivery": days})
		}

		order.Return = models.OrderReturn{
			Status:      enums.ReturnStatusRequested,
			Type:        returnType,
			Reason:      &reason,
			RequestedAt: &now,
		}
		return nil
	})
}

func (s *service) ApproveReturn(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*OrderDetail, error) {
	return s.mutateReturn(ctx, orderID, actor, func(tx *gorm.DB, order *models.Order, now time.Time) error {
		if err := authorizeReturnStep(actor, order); err != nil {
			return err
		}
		if err := expectReturnStatus(order, enums.ReturnStatusRequested); err != nil {
			return err
		}
		order.Return.Status = enums.ReturnStatusApproved
		order.Return.ApprovedAt = &now
		return nil
	})
}

func (s *service) MarkPickupCompleted(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*OrderDetail, error) {
	refundStaged := false
	detail, err := s.mutateReturn(ctx, orderID, actor, func(tx *gorm.DB, order *models.Order, now time.Time) error {
		if err := authorizeReturnStep(actor, order); err != nil {
			return err
		}
		if err := expectReturnStatus(order, enums.ReturnStatusApproved); err != nil {
			return err
		}
		order.Return.Status = enums.ReturnStatusPickupCompleted
		order.Return.PickupAt = &now
		s.reverseCommission(ctx, tx, order, reversalCauseReturned)
		if order.Return.Type != enums.ReturnTypeRefund {
			return nil
		}
		if order.Refund.Status == enums.RefundStatusPending || order.Refund.Status == enums.RefundStatusCompleted {
			return nil
		}
		if err := s.compensator.StageRefund(ctx, tx, order, order.PayableCents, returnRefundReason); err != nil {
			return err
		}
		refundStaged = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refundStaged {
		s.compensator.DispatchRefund(ctx, orderID)
		if fresh, err := s.repo.FindByID(ctx, orderID); err == nil {
			return ToDetail(fresh), nil
		}
	}
	return detail, nil
}

func (s *service) CompleteReturn(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*OrderDetail, error) {
	return s.mutateReturn(ctx, orderID, actor, func(tx *gorm.DB, order *models.Order, now time.Time) error {
		if err := authorizeReturnStep(actor, order); err != nil {
			return err
		}
		if err := expectReturnStatus(order, enums.ReturnStatusPickupCompleted); err != nil {
			return err
		}
		order.Return.Status = enums.ReturnStatusCompleted
		order.Return.CompletedAt = &now
		order.OrderStatus = enums.OrderStatusReturned
		order.AppendHistory(enums.OrderStatusReturned, actor.Role, actor.UserRef(), "return completed", now)
		return nil
	})
}

// mutateReturn runs one step of the return pipeline under the order lock and emits
// the return event with the resulting sub-record.
func (s *service) mutateReturn(ctx context.Context, orderID uuid.UUID, actor auth.Principal, step func(tx *gorm.DB, order *models.Order, now time.Time) error) (*OrderDetail, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, orderID)
		if err != nil {
			return err
		}
		order = current
		if err := step(tx, order, s.now()); err != nil {
			return err
		}
		if err := repo.Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order return")
		}

		event := payloads.OrderReturnUpdatedEvent{
			OrderID:      order.ID,
			VendorID:     order.VendorID,
			ReturnStatus: order.Return.Status,
			ReturnType:   order.Return.Type,
		}
		if order.Return.Reason != nil {
			event.Reason = *order.Return.Reason
		}
		return s.emit(ctx, tx, enums.EventOrderReturnUpdated, order, actor, event)
	})
	if err != nil {
		return nil, err
	}
	return ToDetail(order), nil
}

func authorizeReturnStep(actor auth.Principal, order *models.Order) error {
	if actor.IsOperator() || actor.OwnsVendor(order.VendorID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "only operators or the selling vendor can process returns")
}

func expectReturnStatus(order *models.Order, want enums.ReturnStatus) error {
	if order.Return.Status == want {
		return nil
	}
	current := order.Return.Status
	if current == "" {
		current = "none"
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("return must be %s; current return status: %s", want, current)).
		WithDetails(map[string]any{"return_status": current, "required": want})
}

// deliveredAt is the first DELIVERED history entry, falling back to the last update.
func deliveredAt(order *models.Order) time.Time {
	for _, entry := range order.StatusHistory {
		if entry.Status == enums.OrderStatusDelivered {
			return entry.At
		}
	}
	return order.UpdatedAt
}

// daysSince counts whole elapsed days, rounding down.
func daysSince(from, now time.Time) int {
	if now.Before(from) {
		return 0
	}
	return int(now.Sub(from) / (24 * time.Hour))
}
