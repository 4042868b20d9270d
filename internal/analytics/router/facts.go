package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketplace-settlement/internal/analytics/types"
	"github.com/angelmondragon/marketplace-settlement/internal/analytics/writer"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

// factBuilder fills the event-specific columns of a settlement row.
type factBuilder func(row *types.SettlementEventRow, payload any) error

type factHandler struct {
	writer Writer
	logg   *logger.Logger
	build  factBuilder
}

func (h *factHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	row := types.SettlementEventRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		AggregateType: string(envelope.AggregateType),
		AggregateID:   envelope.AggregateID,
		OccurredAt:    envelope.OccurredAt.UTC(),
	}
	if err := h.build(&row, payload); err != nil {
		return err
	}
	encoded, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return err
	}
	row.Payload = encoded

	if err := h.writer.InsertSettlement(ctx, row); err != nil {
		return fmt.Errorf("insert %s fact: %w", envelope.EventType, err)
	}
	h.logg.Info(h.logg.WithField(ctx, "event_type", envelope.EventType), "settlement fact written")
	return nil
}

func payloadTypeError(want string, got any) error {
	return fmt.Errorf("unexpected payload %T, want %s", got, want)
}

func orderPlacedFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.OrderPlacedEvent)
	if !ok {
		return payloadTypeError("OrderPlacedEvent", payload)
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.VendorID = uuidPtr(event.VendorID)
	row.Status = stringPtr(string(enums.OrderStatusPending))
	row.Reference = stringPtr(string(event.PaymentMethod))
	row.AmountCents = int64Ptr(event.TotalCents)
	return nil
}

func orderConfirmedFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.OrderConfirmedEvent)
	if !ok {
		return payloadTypeError("OrderConfirmedEvent", payload)
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.VendorID = uuidPtr(event.VendorID)
	row.Status = stringPtr(string(enums.OrderStatusConfirmed))
	row.Reference = stringPtr(event.OrderNumber)
	row.AmountCents = int64Ptr(event.TotalCents)
	return nil
}

func orderStatusChangedFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.OrderStatusChangedEvent)
	if !ok {
		return payloadTypeError("OrderStatusChangedEvent", payload)
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.VendorID = uuidPtr(event.VendorID)
	row.Status = stringPtr(string(event.To))
	return nil
}

func orderCancelledFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.OrderCancelledEvent)
	if !ok {
		return payloadTypeError("OrderCancelledEvent", payload)
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.VendorID = uuidPtr(event.VendorID)
	row.Status = stringPtr(string(enums.OrderStatusCancelled))
	row.AmountCents = int64Ptr(event.RefundAmountCents)
	return nil
}

func orderReturnUpdatedFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.OrderReturnUpdatedEvent)
	if !ok {
		return payloadTypeError("OrderReturnUpdatedEvent", payload)
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.VendorID = uuidPtr(event.VendorID)
	row.Status = stringPtr(string(event.ReturnStatus))
	row.Reference = stringPtr(string(event.ReturnType))
	return nil
}

func paymentFailedFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.PaymentFailedEvent)
	if !ok {
		return payloadTypeError("PaymentFailedEvent", payload)
	}
	row.Status = stringPtr(string(enums.PaymentStatusFailed))
	row.Reference = stringPtr(event.GatewayOrderID)
	return nil
}

func commissionCreditedFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.CommissionCreditedEvent)
	if !ok {
		return payloadTypeError("CommissionCreditedEvent", payload)
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.VendorID = uuidPtr(event.VendorID)
	row.Reference = stringPtr(event.Rate)
	row.AmountCents = int64Ptr(event.PlatformCents + event.VendorCents)
	row.PlatformCents = int64Ptr(event.PlatformCents)
	row.VendorCents = int64Ptr(event.VendorCents)
	return nil
}

func commissionReversedFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.CommissionReversedEvent)
	if !ok {
		return payloadTypeError("CommissionReversedEvent", payload)
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.VendorID = uuidPtr(event.VendorID)
	row.Status = stringPtr(event.Cause)
	row.AmountCents = int64Ptr(event.AmountCents)
	row.VendorCents = int64Ptr(-event.AmountCents)
	return nil
}

func commissionConfigUpdatedFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.CommissionConfigUpdatedEvent)
	if !ok {
		return payloadTypeError("CommissionConfigUpdatedEvent", payload)
	}
	if event.VendorID != nil {
		row.VendorID = uuidPtr(*event.VendorID)
	}
	row.Status = stringPtr(event.Scope)
	row.Reference = stringPtr(event.Rate)
	return nil
}

func refundInitiatedFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.RefundInitiatedEvent)
	if !ok {
		return payloadTypeError("RefundInitiatedEvent", payload)
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.Status = stringPtr(string(enums.RefundStatusPending))
	row.Reference = stringPtr(event.Reference)
	row.AmountCents = int64Ptr(event.AmountCents)
	return nil
}

func refundCompletedFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.RefundCompletedEvent)
	if !ok {
		return payloadTypeError("RefundCompletedEvent", payload)
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.Status = stringPtr(string(enums.RefundStatusCompleted))
	row.Reference = stringPtr(event.Reference)
	row.AmountCents = int64Ptr(event.AmountCents)
	return nil
}

func withdrawalFact(row *types.SettlementEventRow, payload any) error {
	event, ok := payload.(*payloads.WithdrawalEvent)
	if !ok {
		return payloadTypeError("WithdrawalEvent", payload)
	}
	row.VendorID = uuidPtr(event.VendorID)
	row.Status = stringPtr(string(event.Status))
	row.Reference = stringPtr(event.PaymentReference)
	row.AmountCents = int64Ptr(event.AmountCents)
	return nil
}
