package orders_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/checkout/reservation"
	"github.com/angelmondragon/marketplace-settlement/internal/commission"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/payments"
	"github.com/angelmondragon/marketplace-settlement/internal/payments/gateway"
	"github.com/angelmondragon/marketplace-settlement/internal/refunds"
	"github.com/angelmondragon/marketplace-settlement/internal/wallet"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	dbpkg "github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

type eventLog struct {
	events []outbox.DomainEvent
}

func (l *eventLog) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) count(eventType enums.OutboxEventType) int {
	n := 0
	for _, event := range l.events {
		if event.EventType == eventType {
			n++
		}
	}
	return n
}

type settlement struct {
	db     *gorm.DB
	orders orders.Service
	wallet wallet.Service
	events *eventLog
}

func newSettlement(t *testing.T) *settlement {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:settlement_flow_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Order{},
		&models.Payment{},
		&models.InventoryItem{},
		&models.VendorWallet{},
		&models.WalletTransaction{},
		&models.CommissionConfig{},
		&models.VendorCommissionOverride{},
	))

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	client := dbpkg.Wrap(db)
	events := &eventLog{}
	ordersRepo := orders.NewRepository(db)

	walletSvc, err := wallet.NewService(wallet.NewRepository(db), nil)
	require.NoError(t, err)
	rates, err := commission.NewConfigService(commission.NewRepository(db), client, events, nil, logg, decimal.NewFromInt(10), time.Minute)
	require.NoError(t, err)
	engine, err := commission.NewEngine(ordersRepo, walletSvc, rates, client, events, logg)
	require.NoError(t, err)
	refundSvc, err := refunds.NewService(
		ordersRepo,
		payments.NewRepository(db),
		walletSvc,
		gateway.NewHMAC("key_test", "s3cret", false),
		client,
		events,
		logg,
		nil,
		time.Second,
	)
	require.NoError(t, err)
	ordersSvc, err := orders.NewService(ordersRepo, client, events, reservation.NewReleaser(), engine, refundSvc, logg, nil, 7)
	require.NoError(t, err)

	return &settlement{db: db, orders: ordersSvc, wallet: walletSvc, events: events}
}

// seed stores a PENDING order for one product whose units are already reserved.
func (s *settlement) seed(t *testing.T, method enums.PaymentMethod, unitCents int64, qty int) *models.Order {
	t.Helper()
	vendorID := uuid.New()
	item := models.InventoryItem{
		ProductID:    uuid.New(),
		VendorID:     vendorID,
		Name:         "Ceramic vase",
		PriceCents:   unitCents,
		IsActive:     true,
		AvailableQty: 3,
		ReservedQty:  qty,
	}
	require.NoError(t, s.db.Create(&item).Error)

	total := unitCents * int64(qty)
	order := &models.Order{
		OrderNumber: orders.NewOrderNumber(time.Now()),
		BuyerID:     uuid.New(),
		VendorID:    vendorID,
		LineItems: types.OrderLineItems{
			{ProductID: item.ProductID, Name: item.Name, UnitPriceCents: unitCents, Quantity: qty, LineTotalCents: total},
		},
		SubtotalCents: total,
		PayableCents:  total,
		OrderStatus:   enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		PaymentMethod: method,
		Refund:        models.OrderRefund{Status: enums.RefundStatusNotRequired},
		StatusHistory: types.StatusHistory{},
	}
	if method == enums.PaymentMethodOnline {
		ref := "order_" + uuid.NewString()[:8]
		order.PaymentRef = &ref
	}
	require.NoError(t, s.db.Create(order).Error)
	return order
}

func (s *settlement) balance(t *testing.T, vendorID uuid.UUID) *wallet.Summary {
	t.Helper()
	summary, err := s.wallet.Summary(context.Background(), vendorID)
	require.NoError(t, err)
	return summary
}

func (s *settlement) ledger(t *testing.T, orderID uuid.UUID) []models.WalletTransaction {
	t.Helper()
	var rows []models.WalletTransaction
	require.NoError(t, s.db.Where("order_id = ?", orderID).Find(&rows).Error)
	return rows
}

func (s *settlement) stock(t *testing.T, productID uuid.UUID) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	require.NoError(t, s.db.First(&item, "product_id = ?", productID).Error)
	return item
}

func vendorOf(order *models.Order) auth.Principal {
	id := order.VendorID
	return auth.Principal{UserID: uuid.New(), Role: enums.ActorRoleVendor, VendorID: &id}
}

func TestDeliveredOrderLeavesVendorShareInWallet(t *testing.T) {
	s := newSettlement(t)
	ctx := context.Background()
	order := s.seed(t, enums.PaymentMethodCOD, 50000, 2)

	_, err := s.orders.Confirm(ctx, orders.ConfirmInput{OrderID: order.ID, Outcome: orders.PaymentOutcomeCOD})
	require.NoError(t, err)

	for _, next := range []enums.OrderStatus{enums.OrderStatusPacked, enums.OrderStatusShipped, enums.OrderStatusDelivered} {
		_, err := s.orders.AdvanceStatus(ctx, orders.AdvanceStatusInput{OrderID: order.ID, Target: next, Actor: vendorOf(order)})
		require.NoError(t, err, "advance to %s", next)
	}

	detail, err := s.orders.Get(ctx, order.ID, auth.System())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, detail.OrderStatus)

	summary := s.balance(t, order.VendorID)
	assert.Equal(t, int64(90000), summary.BalanceCents)
	assert.Equal(t, "900.00", summary.Balance)

	ledger := s.ledger(t, order.ID)
	require.Len(t, ledger, 1)
	assert.Equal(t, enums.WalletTransactionKindCommissionCredit, ledger[0].Kind)
	assert.Equal(t, int64(90000), ledger[0].AmountCents)
	assert.Equal(t, 1, s.events.count(enums.EventCommissionCredited))
}

func TestCancelledPaidOrderRefundsBuyerAndReversesVendorShare(t *testing.T) {
	s := newSettlement(t)
	ctx := context.Background()
	order := s.seed(t, enums.PaymentMethodOnline, 25000, 2)

	_, err := s.orders.Confirm(ctx, orders.ConfirmInput{OrderID: order.ID, Outcome: orders.PaymentOutcomePaid})
	require.NoError(t, err)
	require.Equal(t, int64(45000), s.balance(t, order.VendorID).BalanceCents)

	buyer := auth.Principal{UserID: order.BuyerID, Role: enums.ActorRoleCustomer}
	detail, err := s.orders.Cancel(ctx, orders.CancelInput{OrderID: order.ID, Actor: buyer, Reason: "ordered the wrong size"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, detail.OrderStatus)

	var stored models.Order
	require.NoError(t, s.db.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.RefundStatusPending, stored.Refund.Status)
	assert.Equal(t, int64(50000), stored.Refund.AmountCents)
	require.NotNil(t, stored.Refund.GatewayRef)
	assert.True(t, stored.Commission.Reversed)

	summary := s.balance(t, order.VendorID)
	assert.Zero(t, summary.BalanceCents)
	assert.Zero(t, summary.HoldBalanceCents)

	ledger := s.ledger(t, order.ID)
	require.Len(t, ledger, 2)
	amounts := map[enums.WalletTransactionKind]int64{}
	for _, entry := range ledger {
		amounts[entry.Kind] = entry.AmountCents
	}
	assert.Equal(t, int64(45000), amounts[enums.WalletTransactionKindCommissionCredit])
	assert.Equal(t, int64(45000), amounts[enums.WalletTransactionKindCommissionReversal])

	item := s.stock(t, order.LineItems[0].ProductID)
	assert.Equal(t, 5, item.AvailableQty)
	assert.Zero(t, item.ReservedQty)
	assert.Equal(t, 1, s.events.count(enums.EventRefundInitiated))
}
