package helpers

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

// PricedLine is a requested item with the price snapshot taken at checkout.
type PricedLine struct {
	ProductID      uuid.UUID
	VendorID       uuid.UUID
	Name           string
	UnitPriceCents int64
	Quantity       int
}

// Total returns unit price times quantity.
func (l PricedLine) Total() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

// VendorGroup holds the lines one vendor order is built from.
type VendorGroup struct {
	VendorID uuid.UUID
	Lines    []PricedLine
}

// GroupLinesByVendor groups lines per vendor, keeping vendors in first-seen order
// so the orders of a checkout are created deterministically.
func GroupLinesByVendor(lines []PricedLine) []VendorGroup {
	index := make(map[uuid.UUID]int, len(lines))
	var groups []VendorGroup
	for _, line := range lines {
		i, ok := index[line.VendorID]
		if !ok {
			i = len(groups)
			index[line.VendorID] = i
			groups = append(groups, VendorGroup{VendorID: line.VendorID})
		}
		groups[i].Lines = append(groups[i].Lines, line)
	}
	return groups
}

// VendorTotals captures pre-calculated totals for a vendor.
type VendorTotals struct {
	VendorID      uuid.UUID
	SubtotalCents int64
	DiscountCents int64
	PayableCents  int64
	ItemCount     int
}

// ComputeVendorTotals computes the subtotal and payable amount for one vendor group.
// Payable never goes below zero.
func ComputeVendorTotals(group VendorGroup, discountCents int64) VendorTotals {
	totals := VendorTotals{VendorID: group.VendorID, DiscountCents: discountCents}
	for _, line := range group.Lines {
		totals.SubtotalCents += line.Total()
		totals.ItemCount += line.Quantity
	}
	totals.PayableCents = totals.SubtotalCents - discountCents
	if totals.PayableCents < 0 {
		totals.PayableCents = 0
	}
	return totals
}

// LineItems converts the group into the order's line item snapshot.
func LineItems(group VendorGroup) types.OrderLineItems {
	items := make(types.OrderLineItems, len(group.Lines))
	for i, line := range group.Lines {
		items[i] = types.OrderLineItem{
			ProductID:      line.ProductID,
			Name:           line.Name,
			UnitPriceCents: line.UnitPriceCents,
			Quantity:       line.Quantity,
			LineTotalCents: line.Total(),
		}
	}
	return items
}
