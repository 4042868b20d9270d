package checkout

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

// StockValidationInput describes the data required to verify a line item can be covered.
type StockValidationInput struct {
	ProductID   uuid.UUID
	ProductName string
	Available   int
	Requested   int
}

// StockViolationDetail exposes the data returned to callers when a validation fails.
type StockViolationDetail struct {
	ProductID    uuid.UUID `json:"product_id"`
	ProductName  string    `json:"product_name,omitempty"`
	AvailableQty int       `json:"available_qty"`
	RequestedQty int       `json:"requested_qty"`
}

// ValidateStock ensures every line item fits the product's available stock. The
// message names the first shortfall; details list all of them.
func ValidateStock(items []StockValidationInput) error {
	var violations []StockViolationDetail
	for _, item := range items {
		if item.Requested <= item.Available {
			continue
		}
		violations = append(violations, StockViolationDetail{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			AvailableQty: item.Available,
			RequestedQty: item.Requested,
		})
	}
	if len(violations) == 0 {
		return nil
	}
	first := violations[0]
	name := first.ProductName
	if name == "" {
		name = first.ProductID.String()
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, first.AvailableQty, first.RequestedQty)).
		WithDetails(map[string]any{
			"violations": violations,
		})
}
