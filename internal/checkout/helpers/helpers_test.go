package helpers

import (
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

func TestGroupLinesByVendorKeepsFirstSeenOrder(t *testing.T) {
	t.Parallel()
	vendorA := uuid.New()
	vendorB := uuid.New()
	lines := []PricedLine{
		{ProductID: uuid.New(), VendorID: vendorB},
		{ProductID: uuid.New(), VendorID: vendorA},
		{ProductID: uuid.New(), VendorID: vendorB},
	}

	groups := GroupLinesByVendor(lines)
	if len(groups) != 2 {
		t.Fatalf("expected 2 vendors, got %d", len(groups))
	}
	if groups[0].VendorID != vendorB || len(groups[0].Lines) != 2 {
		t.Fatalf("unexpected first group %+v", groups[0])
	}
	if groups[1].VendorID != vendorA || len(groups[1].Lines) != 1 {
		t.Fatalf("unexpected second group %+v", groups[1])
	}
}

func TestComputeVendorTotals(t *testing.T) {
	t.Parallel()
	group := VendorGroup{
		VendorID: uuid.New(),
		Lines: []PricedLine{
			{UnitPriceCents: 1000, Quantity: 2},
			{UnitPriceCents: 500, Quantity: 1},
		},
	}

	totals := ComputeVendorTotals(group, 300)
	if totals.SubtotalCents != 2500 {
		t.Fatalf("expected subtotal 2500, got %d", totals.SubtotalCents)
	}
	if totals.PayableCents != 2200 {
		t.Fatalf("expected payable 2200, got %d", totals.PayableCents)
	}
	if totals.ItemCount != 3 {
		t.Fatalf("expected 3 items, got %d", totals.ItemCount)
	}

	capped := ComputeVendorTotals(group, 9000)
	if capped.PayableCents != 0 {
		t.Fatalf("expected payable floored at 0, got %d", capped.PayableCents)
	}
}

func TestLineItemsSnapshot(t *testing.T) {
	t.Parallel()
	product := uuid.New()
	items := LineItems(VendorGroup{Lines: []PricedLine{{ProductID: product, Name: "Lamp", UnitPriceCents: 1250, Quantity: 4}}})
	if len(items) != 1 || items[0].LineTotalCents != 5000 || items[0].ProductID != product {
		t.Fatalf("unexpected line items %+v", items)
	}
}

func TestNormalizeItemsMergesDuplicates(t *testing.T) {
	t.Parallel()
	a, b := uuid.New(), uuid.New()

	items, err := NormalizeItems([]RequestedItem{{ProductID: a, Quantity: 1}, {ProductID: b, Quantity: 2}, {ProductID: a, Quantity: 3}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(items) != 2 || items[0].ProductID != a || items[0].Quantity != 4 {
		t.Fatalf("unexpected items %+v", items)
	}

	if _, err := NormalizeItems(nil); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for empty items, got %v", err)
	}
	if _, err := NormalizeItems([]RequestedItem{{ProductID: a, Quantity: 0}}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
}

func TestPriceItems(t *testing.T) {
	t.Parallel()
	vendor := uuid.New()
	discounted := int64(800)
	active := models.InventoryItem{ProductID: uuid.New(), VendorID: vendor, Name: "Lamp", PriceCents: 1000, DiscountPriceCents: &discounted, IsActive: true, AvailableQty: 3}
	inactive := models.InventoryItem{ProductID: uuid.New(), VendorID: vendor, Name: "Shade", PriceCents: 500, AvailableQty: 10}
	inventory := map[uuid.UUID]models.InventoryItem{active.ProductID: active, inactive.ProductID: inactive}

	lines, err := PriceItems([]RequestedItem{{ProductID: active.ProductID, Quantity: 2}}, inventory)
	if err != nil {
		t.Fatalf("price items: %v", err)
	}
	if lines[0].UnitPriceCents != 800 || lines[0].VendorID != vendor {
		t.Fatalf("unexpected line %+v", lines[0])
	}

	if _, err := PriceItems([]RequestedItem{{ProductID: inactive.ProductID, Quantity: 1}}, inventory); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected inactive product to fail validation, got %v", err)
	}
	if _, err := PriceItems([]RequestedItem{{ProductID: active.ProductID, Quantity: 4}}, inventory); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected stock validation error, got %v", err)
	}
	if _, err := PriceItems([]RequestedItem{{ProductID: uuid.New(), Quantity: 1}}, inventory); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}
