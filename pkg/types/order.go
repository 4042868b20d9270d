package types

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// OrderLineItem snapshots a product at the moment the order was placed.
type OrderLineItem struct {
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
	LineTotalCents int64     `json:"line_total_cents"`
}

// OrderLineItems is stored as a JSONB array on the order row.
type OrderLineItems []OrderLineItem

// Value serializes the line items to JSON.
func (items OrderLineItems) Value() (driver.Value, error) {
	if items == nil {
		items = OrderLineItems{}
	}
	return jsonValue(items)
}

// Scan decodes the JSONB array.
func (items *OrderLineItems) Scan(value interface{}) error {
	if value == nil {
		*items = OrderLineItems{}
		return nil
	}
	var decoded OrderLineItems
	if err := scanJSON(value, &decoded); err != nil {
		return err
	}
	*items = decoded
	return nil
}

// Subtotal sums every line total.
func (items OrderLineItems) Subtotal() int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotalCents
	}
	return total
}

// StatusHistoryEntry is one append-only record of an order status change.
type StatusHistoryEntry struct {
	Status enums.OrderStatus `json:"status"`
	Role   enums.ActorRole   `json:"role"`
	UserID *uuid.UUID        `json:"user_id,omitempty"`
	Note   string            `json:"note,omitempty"`
	At     time.Time         `json:"at"`
}

// StatusHistory is stored as a JSONB array on the order row.
type StatusHistory []StatusHistoryEntry

// Value serializes the history to JSON.
func (h StatusHistory) Value() (driver.Value, error) {
	if h == nil {
		h = StatusHistory{}
	}
	return jsonValue(h)
}

// Scan decodes the JSONB array.
func (h *StatusHistory) Scan(value interface{}) error {
	if value == nil {
		*h = StatusHistory{}
		return nil
	}
	var decoded StatusHistory
	if err := scanJSON(value, &decoded); err != nil {
		return err
	}
	*h = decoded
	return nil
}

// LastAt returns the timestamp of the most recent entry with the given status.
func (h StatusHistory) LastAt(status enums.OrderStatus) (time.Time, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Status == status {
			return h[i].At, true
		}
	}
	return time.Time{}, false
}

// ShippingAddress is the delivery destination captured at checkout.
type ShippingAddress struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country"`
}

// Value serializes the address to JSON.
func (a ShippingAddress) Value() (driver.Value, error) {
	if a.Country == "" {
		a.Country = "IN"
	}
	return jsonValue(a)
}

// Scan decodes the JSONB object.
func (a *ShippingAddress) Scan(value interface{}) error {
	if value == nil {
		*a = ShippingAddress{}
		return nil
	}
	return scanJSON(value, a)
}

// UUIDList is a JSONB array of identifiers.
type UUIDList []uuid.UUID

// Value serializes the identifiers to JSON.
func (l UUIDList) Value() (driver.Value, error) {
	if l == nil {
		l = UUIDList{}
	}
	return jsonValue(l)
}

// Scan decodes the JSONB array.
func (l *UUIDList) Scan(value interface{}) error {
	if value == nil {
		*l = UUIDList{}
		return nil
	}
	var decoded UUIDList
	if err := scanJSON(value, &decoded); err != nil {
		return err
	}
	*l = decoded
	return nil
}

// Contains reports whether id is part of the list.
func (l UUIDList) Contains(id uuid.UUID) bool {
	for _, candidate := range l {
		if candidate == id {
			return true
		}
	}
	return false
}
