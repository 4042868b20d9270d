package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/checkout/helpers"
	"github.com/angelmondragon/marketplace-settlement/internal/checkout/reservation"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	dbpkg "github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type reservationRunner interface {
	Reserve(ctx context.Context, tx *gorm.DB, requests []reservation.InventoryReservationRequest) ([]reservation.InventoryReservationResult, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type reservationEngine struct{}

func (reservationEngine) Reserve(ctx context.Context, tx *gorm.DB, requests []reservation.InventoryReservationRequest) ([]reservation.InventoryReservationResult, error) {
	return reservation.ReserveInventory(ctx, tx, requests)
}

// Service turns a buyer's item list into one PENDING order per vendor.
type Service interface {
	Place(ctx context.Context, input PlaceInput) (*PlaceResult, error)
}

// PlaceInput captures a checkout request.
type PlaceInput struct {
	Buyer           auth.Principal
	Items           []helpers.RequestedItem
	PaymentMethod   enums.PaymentMethod
	ShippingAddress types.ShippingAddress
	// VendorDiscounts maps vendor id to a discount in cents already granted by promotions.
	VendorDiscounts map[uuid.UUID]int64
}

// PlaceResult lists the orders created by one checkout.
type PlaceResult struct {
	Orders          []*orders.OrderDetail `json:"orders"`
	GrandTotalCents int64                 `json:"grand_total_cents"`
}

// OrderIDs returns the ids of the created orders in creation order.
func (r *PlaceResult) OrderIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(r.Orders))
	for i, order := range r.Orders {
		ids[i] = order.ID
	}
	return ids
}

type service struct {
	tx          txRunner
	repo        Repository
	ordersRepo  orders.Repository
	reservation reservationRunner
	outbox      outboxPublisher
	now         func() time.Time
	newNumber   func(time.Time) string
}

const orderNumberAttempts = 3

// NewService builds the checkout service.
func NewService(
	tx txRunner,
	repo Repository,
	ordersRepo orders.Repository,
	reservation reservationRunner,
	publisher outboxPublisher,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if reservation == nil {
		reservation = reservationEngine{}
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		tx:          tx,
		repo:        repo,
		ordersRepo:  ordersRepo,
		reservation: reservation,
		outbox:      publisher,
		now:         func() time.Time { return time.Now().UTC() },
		newNumber:   orders.NewOrderNumber,
	}, nil
}

func (s *service) Place(ctx context.Context, input PlaceInput) (*PlaceResult, error) {
	if input.Buyer.UserID == uuid.Nil || input.Buyer.Role != enums.ActorRoleCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can place orders")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method must be online or cod")
	}
	for vendorID, discount := range input.VendorDiscounts {
		if discount < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("discount for vendor %s must not be negative", vendorID))
		}
	}
	items, err := helpers.NormalizeItems(input.Items)
	if err != nil {
		return nil, err
	}

	result := &PlaceResult{}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		productIDs := make([]uuid.UUID, len(items))
		for i, item := range items {
			productIDs[i] = item.ProductID
		}
		inventory, err := s.repo.WithTx(tx).FindInventory(ctx, productIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
		}
		lines, err := helpers.PriceItems(items, inventory)
		if err != nil {
			return err
		}

		requests := make([]reservation.InventoryReservationRequest, len(lines))
		for i, line := range lines {
			requests[i] = reservation.InventoryReservationRequest{ProductID: line.ProductID, Qty: line.Quantity}
		}
		reservations, err := s.reservation.Reserve(ctx, tx, requests)
		if err != nil {
			return err
		}
		for i, res := range reservations {
			if !res.Reserved {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("insufficient stock for %s", lines[i].Name)).
					WithDetails(map[string]any{"product_id": res.ProductID, "reason": res.Reason})
			}
		}

		now := s.now()
		numbers := map[string]struct{}{}
		for _, group := range helpers.GroupLinesByVendor(lines) {
			totals := helpers.ComputeVendorTotals(group, input.VendorDiscounts[group.VendorID])
			order := &models.Order{
				OrderNumber:     s.uniqueOrderNumber(now, numbers),
				BuyerID:         input.Buyer.UserID,
				VendorID:        group.VendorID,
				LineItems:       helpers.LineItems(group),
				SubtotalCents:   totals.SubtotalCents,
				DiscountCents:   totals.DiscountCents,
				PayableCents:    totals.PayableCents,
				OrderStatus:     enums.OrderStatusPending,
				PaymentStatus:   enums.PaymentStatusPending,
				PaymentMethod:   input.PaymentMethod,
				ShippingAddress: input.ShippingAddress,
				Refund:          models.OrderRefund{Status: enums.RefundStatusNotRequired},
				StatusHistory:   types.StatusHistory{},
			}
			if err := s.createOrder(ctx, tx, order, now, numbers); err != nil {
				return err
			}
			if err := s.emitOrderPlaced(ctx, tx, order, input.Buyer); err != nil {
				return err
			}
			result.Orders = append(result.Orders, orders.ToDetail(order))
			result.GrandTotalCents += order.PayableCents
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) emitOrderPlaced(ctx context.Context, tx *gorm.DB, order *models.Order, buyer auth.Principal) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.ActorFor(buyer),
		Data: payloads.OrderPlacedEvent{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CustomerID:    order.BuyerID,
			VendorID:      order.VendorID,
			PaymentMethod: order.PaymentMethod,
			TotalCents:    order.PayableCents,
		},
		Version: 1,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order placed")
	}
	return nil
}

// uniqueOrderNumber avoids handing two orders of the same checkout one number.
func (s *service) uniqueOrderNumber(now time.Time, seen map[string]struct{}) string {
	for {
		number := s.newNumber(now)
		if _, ok := seen[number]; !ok {
			seen[number] = struct{}{}
			return number
		}
	}
}

// createOrder inserts the order inside a savepoint and draws a fresh number when
// another checkout already holds the current one.
func (s *service) createOrder(ctx context.Context, tx *gorm.DB, order *models.Order, now time.Time, seen map[string]struct{}) error {
	var err error
	for attempt := 1; attempt <= orderNumberAttempts; attempt++ {
		err = tx.Transaction(func(sp *gorm.DB) error {
			return s.ordersRepo.WithTx(sp).Create(ctx, order)
		})
		if err == nil {
			return nil
		}
		if !isOrderNumberTaken(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		order.OrderNumber = s.newNumber(now)
		seen[order.OrderNumber] = struct{}{}
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate a unique order number")
}

func isOrderNumberTaken(err error) bool {
	return dbpkg.IsUniqueViolation(err, "ux_orders_order_number") ||
		dbpkg.IsUniqueViolation(err, "orders.order_number")
}
