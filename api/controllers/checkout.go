package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/api/controllers/requestctx"
	"github.com/angelmondragon/marketplace-settlement/api/responses"
	"github.com/angelmondragon/marketplace-settlement/api/validators"
	checkoutsvc "github.com/angelmondragon/marketplace-settlement/internal/checkout"
	"github.com/angelmondragon/marketplace-settlement/internal/checkout/helpers"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

type checkoutRequest struct {
	Items           []checkoutItem        `json:"items" validate:"required,min=1,dive"`
	PaymentMethod   string                `json:"payment_method" validate:"required"`
	ShippingAddress types.ShippingAddress `json:"shipping_address"`
	VendorDiscounts map[uuid.UUID]int64   `json:"vendor_discounts,omitempty"`
}

type checkoutItem struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

// Checkout places one order per vendor for the caller's items.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		principal, err := requestctx.Principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if principal.Role != enums.ActorRoleCustomer {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can check out"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(strings.ToLower(strings.TrimSpace(payload.PaymentMethod)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		items := make([]helpers.RequestedItem, len(payload.Items))
		for i, item := range payload.Items {
			items[i] = helpers.RequestedItem{ProductID: item.ProductID, Quantity: item.Quantity}
		}

		result, err := svc.Place(r.Context(), checkoutsvc.PlaceInput{
			Buyer:           principal,
			Items:           items,
			PaymentMethod:   method,
			ShippingAddress: payload.ShippingAddress,
			VendorDiscounts: payload.VendorDiscounts,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
