package helpers

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/checkout"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

// RequestedItem is one product/quantity pair from the buyer.
type RequestedItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// NormalizeItems validates quantities and merges repeated products, preserving
// the first-seen order.
func NormalizeItems(items []RequestedItem) ([]RequestedItem, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	index := make(map[uuid.UUID]int, len(items))
	out := make([]RequestedItem, 0, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity for product %s must be positive", item.ProductID))
		}
		if i, ok := index[item.ProductID]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, item)
	}
	return out, nil
}

// PriceItems checks every requested product exists, is active and is in stock,
// then snapshots its effective unit price.
func PriceItems(items []RequestedItem, inventory map[uuid.UUID]models.InventoryItem) ([]PricedLine, error) {
	lines := make([]PricedLine, 0, len(items))
	stock := make([]checkout.StockValidationInput, 0, len(items))
	for _, item := range items {
		inv, ok := inventory[item.ProductID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", item.ProductID))
		}
		if !inv.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s is not available", inv.Name))
		}
		stock = append(stock, checkout.StockValidationInput{
			ProductID:   inv.ProductID,
			ProductName: inv.Name,
			Available:   inv.AvailableQty,
			Requested:   item.Quantity,
		})
		lines = append(lines, PricedLine{
			ProductID:      inv.ProductID,
			VendorID:       inv.VendorID,
			Name:           inv.Name,
			UnitPriceCents: inv.UnitPriceCents(),
			Quantity:       item.Quantity,
		})
	}
	if err := checkout.ValidateStock(stock); err != nil {
		return nil, err
	}
	return lines, nil
}
