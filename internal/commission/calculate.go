package commission

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-settlement/pkg/money"
)

// Split is the platform/vendor division of an order subtotal.
type Split struct {
	Rate          decimal.Decimal
	PlatformCents int64
	VendorCents   int64
}

// Calculate splits subtotalCents at rate percent. The platform share is rounded
// to the cent and the vendor receives the remainder, so the parts always sum to
// the subtotal.
func Calculate(subtotalCents int64, rate decimal.Decimal) Split {
	platform := money.PercentOf(subtotalCents, rate)
	return Split{
		Rate:          rate,
		PlatformCents: platform,
		VendorCents:   subtotalCents - platform,
	}
}
