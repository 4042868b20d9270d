package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder             OutboxAggregateType = "order"
	AggregatePayment           OutboxAggregateType = "payment"
	AggregateVendorWallet      OutboxAggregateType = "vendor_wallet"
	AggregateWithdrawalRequest OutboxAggregateType = "withdrawal_request"
	AggregateCommissionConfig  OutboxAggregateType = "commission_config"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateVendorWallet,
	AggregateWithdrawalRequest,
	AggregateCommissionConfig,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderPlaced             OutboxEventType = "order_placed"
	EventOrderConfirmed          OutboxEventType = "order_confirmed"
	EventOrderStatusChanged      OutboxEventType = "order_status_changed"
	EventOrderCancelled          OutboxEventType = "order_cancelled"
	EventOrderReturnUpdated      OutboxEventType = "order_return_updated"
	EventPaymentFailed           OutboxEventType = "payment_failed"
	EventCommissionCredited      OutboxEventType = "commission_credited"
	EventCommissionReversed      OutboxEventType = "commission_reversed"
	EventCommissionConfigUpdated OutboxEventType = "commission_config_updated"
	EventRefundInitiated         OutboxEventType = "refund_initiated"
	EventRefundCompleted         OutboxEventType = "refund_completed"
	EventWithdrawalRequested     OutboxEventType = "withdrawal_requested"
	EventWithdrawalApproved      OutboxEventType = "withdrawal_approved"
	EventWithdrawalPaid          OutboxEventType = "withdrawal_paid"
	EventWithdrawalRejected      OutboxEventType = "withdrawal_rejected"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderConfirmed,
	EventOrderStatusChanged,
	EventOrderCancelled,
	EventOrderReturnUpdated,
	EventPaymentFailed,
	EventCommissionCredited,
	EventCommissionReversed,
	EventCommissionConfigUpdated,
	EventRefundInitiated,
	EventRefundCompleted,
	EventWithdrawalRequested,
	EventWithdrawalApproved,
	EventWithdrawalPaid,
	EventWithdrawalRejected,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxEventTypes returns every event the settlement core emits.
func OutboxEventTypes() []OutboxEventType {
	out := make([]OutboxEventType, len(validOutboxEventTypes))
	copy(out, validOutboxEventTypes)
	return out
}
