package orders

import (
	"sort"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

var statusMessages = map[enums.OrderStatus]string{
	enums.OrderStatusPending:    "Order placed successfully",
	enums.OrderStatusConfirmed:  "Order confirmed",
	enums.OrderStatusPacked:     "Seller packed your order",
	enums.OrderStatusProcessing: "Order is being processed",
	enums.OrderStatusShipped:    "Order shipped",
	enums.OrderStatusDelivered:  "Order delivered",
	enums.OrderStatusCancelled:  "Order cancelled",
	enums.OrderStatusReturned:   "Order returned",
}

// StatusMessage returns the customer-facing wording for a status.
func StatusMessage(status enums.OrderStatus) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return string(status)
}

// BuildTimeline projects the status history into a read-only timeline. It always
// opens with the placement entry and drops consecutive repeats.
func BuildTimeline(order *models.Order) []TimelineEntry {
	timeline := []TimelineEntry{{
		Status:    enums.OrderStatusPending,
		Message:   StatusMessage(enums.OrderStatusPending),
		Date:      order.CreatedAt,
		UpdatedBy: enums.ActorRoleSystem,
	}}

	if len(order.StatusHistory) == 0 {
		if order.OrderStatus != "" && order.OrderStatus != enums.OrderStatusPending {
			date := order.UpdatedAt
			if date.IsZero() {
				date = order.CreatedAt
			}
			timeline = append(timeline, TimelineEntry{
				Status:    order.OrderStatus,
				Message:   StatusMessage(order.OrderStatus),
				Date:      date,
				UpdatedBy: enums.ActorRoleSystem,
			})
		}
		return timeline
	}

	history := make([]TimelineEntry, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, TimelineEntry{
			Status:    entry.Status,
			Message:   StatusMessage(entry.Status),
			Date:      entry.At,
			UpdatedBy: entry.Role,
		})
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Date.Before(history[j].Date)
	})
	for _, entry := range history {
		if timeline[len(timeline)-1].Status == entry.Status {
			continue
		}
		timeline = append(timeline, entry)
	}
	return timeline
}
