package orders

import (
	"fmt"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

type transitionKey struct {
	from enums.OrderStatus
	to   enums.OrderStatus
	role enums.ActorRole
}

// vendorSequence lists the only moves a vendor may make, in display order.
var vendorSequence = []transitionKey{
	{enums.OrderStatusPending, enums.OrderStatusPacked, enums.ActorRoleVendor},
	{enums.OrderStatusConfirmed, enums.OrderStatusPacked, enums.ActorRoleVendor},
	{enums.OrderStatusPacked, enums.OrderStatusShipped, enums.ActorRoleVendor},
	{enums.OrderStatusProcessing, enums.OrderStatusShipped, enums.ActorRoleVendor},
	{enums.OrderStatusShipped, enums.OrderStatusDelivered, enums.ActorRoleVendor},
}

var transitionTable = func() map[transitionKey]struct{} {
	table := make(map[transitionKey]struct{}, len(vendorSequence))
	for _, key := range vendorSequence {
		table[key] = struct{}{}
	}
	return table
}()

// AllowedNext lists the statuses role may move an order to from current.
func AllowedNext(current enums.OrderStatus, role enums.ActorRole) []enums.OrderStatus {
	out := []enums.OrderStatus{}
	for _, key := range vendorSequence {
		if key.from == current && key.role == role {
			out = append(out, key.to)
		}
	}
	return out
}

// checkTableTransition validates a move against the fixed transition table.
func checkTableTransition(current, target enums.OrderStatus, role enums.ActorRole) error {
	if _, ok := transitionTable[transitionKey{from: current, to: target, role: role}]; ok {
		return nil
	}
	allowed := AllowedNext(current, role)
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot change order status from %s to %s", current, target)).
		WithDetails(map[string]any{
			"current":      current,
			"requested":    target,
			"allowed_next": allowed,
		})
}

// checkOperatorTransition is the operator path: any status except the terminal
// ones, which only the cancel and return operations may reach or leave.
func checkOperatorTransition(current, target enums.OrderStatus) error {
	if current.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s and can no longer change status", current)).
			WithDetails(map[string]any{"current": current, "requested": target})
	}
	return nil
}

// checkReservedTarget rejects statuses owned by the cancel and return operations.
func checkReservedTarget(current, target enums.OrderStatus) error {
	switch target {
	case enums.OrderStatusCancelled:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "use the cancel operation to cancel an order").
			WithDetails(map[string]any{"current": current, "requested": target})
	case enums.OrderStatusReturned:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "use the return process to return an order").
			WithDetails(map[string]any{"current": current, "requested": target})
	}
	return nil
}
