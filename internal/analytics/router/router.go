package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/marketplace-settlement/internal/analytics/types"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertSettlement(ctx context.Context, row types.SettlementEventRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type handlerEntry struct {
	factory func() any
	handler Handler
}

// Router dispatches analytics envelopes to the configured handler per event type.
type Router struct {
	handlers map[enums.OutboxEventType]handlerEntry
	logg     *logger.Logger
}

// NewRouter wires a fact handler for every settlement event and allows overrides for specific events.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	fact := func(build factBuilder) Handler {
		return &factHandler{writer: writer, logg: logg, build: build}
	}
	entries := map[enums.OutboxEventType]handlerEntry{
		enums.EventOrderPlaced: {
			factory: func() any { return &payloads.OrderPlacedEvent{} },
			handler: fact(orderPlacedFact),
		},
		enums.EventOrderConfirmed: {
			factory: func() any { return &payloads.OrderConfirmedEvent{} },
			handler: fact(orderConfirmedFact),
		},
		enums.EventOrderStatusChanged: {
			factory: func() any { return &payloads.OrderStatusChangedEvent{} },
			handler: fact(orderStatusChangedFact),
		},
		enums.EventOrderCancelled: {
			factory: func() any { return &payloads.OrderCancelledEvent{} },
			handler: fact(orderCancelledFact),
		},
		enums.EventOrderReturnUpdated: {
			factory: func() any { return &payloads.OrderReturnUpdatedEvent{} },
			handler: fact(orderReturnUpdatedFact),
		},
		enums.EventPaymentFailed: {
			factory: func() any { return &payloads.PaymentFailedEvent{} },
			handler: fact(paymentFailedFact),
		},
		enums.EventCommissionCredited: {
			factory: func() any { return &payloads.CommissionCreditedEvent{} },
			handler: fact(commissionCreditedFact),
		},
		enums.EventCommissionReversed: {
			factory: func() any { return &payloads.CommissionReversedEvent{} },
			handler: fact(commissionReversedFact),
		},
		enums.EventCommissionConfigUpdated: {
			factory: func() any { return &payloads.CommissionConfigUpdatedEvent{} },
			handler: fact(commissionConfigUpdatedFact),
		},
		enums.EventRefundInitiated: {
			factory: func() any { return &payloads.RefundInitiatedEvent{} },
			handler: fact(refundInitiatedFact),
		},
		enums.EventRefundCompleted: {
			factory: func() any { return &payloads.RefundCompletedEvent{} },
			handler: fact(refundCompletedFact),
		},
	}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventWithdrawalRequested,
		enums.EventWithdrawalApproved,
		enums.EventWithdrawalPaid,
		enums.EventWithdrawalRejected,
	} {
		entries[eventType] = handlerEntry{
			factory: func() any { return &payloads.WithdrawalEvent{} },
			handler: fact(withdrawalFact),
		}
	}

	for event, custom := range overrides {
		entry, ok := entries[event]
		if !ok || custom == nil {
			continue
		}
		entry.handler = custom
		entries[event] = entry
	}

	return &Router{
		handlers: entries,
		logg:     logg,
	}, nil
}

// Handle dispatches the incoming envelope to the configured handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	entry, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	payload := entry.factory()
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	return entry.handler.Handle(ctx, envelope, payload)
}
