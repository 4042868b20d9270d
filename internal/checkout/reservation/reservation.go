package reservation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

// InventoryReservationRequest asks for qty units of a product.
type InventoryReservationRequest struct {
	ProductID uuid.UUID
	Qty       int
}

// InventoryReservationResult reports whether a single request was reserved.
type InventoryReservationResult struct {
	ProductID uuid.UUID
	Qty       int
	Reserved  bool
	Reason    string
}

// ReserveInventory decrements available stock for each request with a
// conditional update, so stock never goes below zero under concurrent checkouts.
// Requests are applied in order; a request that cannot be covered is reported
// as not reserved and does not stop the rest.
func ReserveInventory(ctx context.Context, tx *gorm.DB, requests []InventoryReservationRequest) ([]InventoryReservationResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory reservation")
	}
	results := make([]InventoryReservationResult, len(requests))
	for i, req := range requests {
		if req.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if req.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity for product %s must be positive", req.ProductID))
		}

		res := tx.WithContext(ctx).Exec(`
			UPDATE inventory_items
			SET available_qty = available_qty - ?,
				reserved_qty = reserved_qty + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE product_id = ? AND available_qty - ? >= 0
		`, req.Qty, req.Qty, req.ProductID, req.Qty)
		if res.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
		}

		results[i] = InventoryReservationResult{ProductID: req.ProductID, Qty: req.Qty, Reserved: res.RowsAffected == 1}
		if !results[i].Reserved {
			results[i].Reason = "insufficient stock"
		}
	}
	return results, nil
}

// Releaser returns reserved stock to the available pool.
type Releaser struct{}

// NewReleaser exposes the default inventory release implementation.
func NewReleaser() Releaser {
	return Releaser{}
}

func (Releaser) Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory release")
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty + ?,
			reserved_qty = reserved_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND reserved_qty >= ?
	`, qty, qty, productID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release inventory")
	}
	return nil
}
