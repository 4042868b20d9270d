package refunds

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/payments/gateway"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

// StageCaptureRefund marks part of a payment's capture for return to the buyer when
// the orders it covered were already settled elsewhere. Like StageRefund it only
// writes the intent. The caller saves the payment.
func (s *service) StageCaptureRefund(ctx context.Context, tx *gorm.DB, payment *models.Payment, amountCents int64, reason string) error {
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment required")
	}
	if amountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if amountCents > payment.AmountCents {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount cannot exceed captured amount").
			WithDetails(map[string]any{"captured_cents": payment.AmountCents, "requested_cents": amountCents})
	}

	now := s.now()
	ref := NewReference(now)
	payment.Refund = models.OrderRefund{
		Status:      enums.RefundStatusPending,
		AmountCents: amountCents,
		Reference:   &ref,
		Reason:      &reason,
		InitiatedAt: &now,
	}

	paymentID := payment.ID
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundInitiated,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         outbox.ActorFor(auth.System()),
		Data: payloads.RefundInitiatedEvent{
			PaymentID:   &paymentID,
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

// DispatchCaptureRefund sends a staged capture refund to the gateway. Failures stay
// PENDING for RetryPendingRefunds.
func (s *service) DispatchCaptureRefund(ctx context.Context, paymentID uuid.UUID) {
	if err := s.dispatchCapture(ctx, paymentID); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "payment_id", paymentID.String()), "capture refund dispatch failed", err)
		s.metrics.IncDeferredFailure("refund_dispatch")
	}
}

func (s *service) dispatchCapture(ctx context.Context, paymentID uuid.UUID) error {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if !captureDispatchable(payment) {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	result, gwErr := s.gateway.Refund(callCtx, gateway.RefundRequest{
		PaymentRef:  payment.GatewayOrderID,
		AmountCents: payment.Refund.AmountCents,
		Reference:   deref(payment.Refund.Reference),
	})
	cancel()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.payments.WithTx(tx)
		current, err := repo.LockByGatewayOrderID(ctx, payment.GatewayOrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payment")
		}
		if !captureDispatchable(current) {
			return nil
		}
		current.Refund.Attempts++
		if gwErr != nil {
			msg := gwErr.Error()
			current.Refund.FailureReason = &msg
			if current.Refund.Attempts >= maxDispatchAttempts {
				current.Refund.Status = enums.RefundStatusFailed
			}
			if err := repo.Save(ctx, current); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund attempt")
			}
			return nil
		}

		// Capture refunds complete on the gateway acknowledgement.
		now := s.now()
		current.Refund.GatewayRef = &result.RefundID
		current.Refund.FailureReason = nil
		current.Refund.Status = enums.RefundStatusCompleted
		current.Refund.CompletedAt = &now
		if err := repo.Save(ctx, current); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete capture refund")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundCompleted,
			AggregateType: enums.AggregatePayment,
			AggregateID:   current.ID,
			Actor:         outbox.ActorFor(auth.System()),
			Data: payloads.RefundCompletedEvent{
				PaymentID:   &paymentID,
				Reference:   deref(current.Refund.Reference),
				GatewayRef:  result.RefundID,
				AmountCents: current.Refund.AmountCents,
			},
			Version: 1,
		})
	})
	if err != nil {
		return err
	}
	if gwErr != nil {
		return gwErr
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"payment_id":   paymentID.String(),
		"refund_id":    result.RefundID,
		"amount_cents": payment.Refund.AmountCents,
	}), "capture refund sent to gateway")
	return nil
}

func captureDispatchable(payment *models.Payment) bool {
	return payment.Status == enums.PaymentStatusPaid &&
		payment.Refund.Status == enums.RefundStatusPending &&
		payment.Refund.GatewayRef == nil
}
