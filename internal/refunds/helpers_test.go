package refunds

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/payments"
	"github.com/angelmondragon/marketplace-settlement/internal/payments/gateway"
	"github.com/angelmondragon/marketplace-settlement/internal/wallet"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	dbpkg "github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

type recordingPublisher struct {
	events []outbox.DomainEvent
}

func (p *recordingPublisher) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(eventType enums.OutboxEventType) int {
	n := 0
	for _, event := range p.events {
		if event.EventType == eventType {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	refunds []gateway.RefundRequest
	err     error
}

func (g *fakeGateway) Name() enums.PaymentGateway { return enums.PaymentGatewayHMAC }

func (g *fakeGateway) CreatePaymentOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error) {
	return &gateway.CreateOrderResult{GatewayOrderID: "order_fake"}, nil
}

func (g *fakeGateway) VerifyPayment(ctx context.Context, req gateway.VerifyRequest) (bool, error) {
	return true, nil
}

func (g *fakeGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	g.refunds = append(g.refunds, req)
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.RefundResult{RefundID: "rfnd_1", Status: "processed"}, nil
}

var errGatewayDown = errors.New("gateway unavailable")

type harness struct {
	db        *gorm.DB
	svc       *service
	wallet    wallet.Service
	gateway   *fakeGateway
	publisher *recordingPublisher
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:refunds_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Order{}, &models.Payment{}, &models.VendorWallet{}, &models.WalletTransaction{}))

	walletSvc, err := wallet.NewService(wallet.NewRepository(db), nil)
	require.NoError(t, err)

	h := &harness{
		db:        db,
		wallet:    walletSvc,
		gateway:   &fakeGateway{},
		publisher: &recordingPublisher{},
		now:       time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(
		orders.NewRepository(db),
		payments.NewRepository(db),
		walletSvc,
		h.gateway,
		dbpkg.Wrap(db),
		h.publisher,
		logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		nil,
		time.Second,
	)
	require.NoError(t, err)
	h.svc = svc.(*service)
	h.svc.now = func() time.Time { return h.now }
	return h
}

func (h *harness) seed(t *testing.T, mutate func(o *models.Order)) *models.Order {
	t.Helper()
	ref := "order_pay1"
	order := &models.Order{
		OrderNumber: orders.NewOrderNumber(h.now),
		BuyerID:     uuid.New(),
		VendorID:    uuid.New(),
		LineItems: types.OrderLineItems{
			{ProductID: uuid.New(), Name: "Desk lamp", UnitPriceCents: 27500, Quantity: 2, LineTotalCents: 55000},
		},
		SubtotalCents: 55000,
		PayableCents:  55000,
		OrderStatus:   enums.OrderStatusCancelled,
		PaymentStatus: enums.PaymentStatusPaid,
		PaymentMethod: enums.PaymentMethodOnline,
		PaymentRef:    &ref,
		Refund:        models.OrderRefund{Status: enums.RefundStatusNotRequired},
		StatusHistory: types.StatusHistory{},
	}
	if mutate != nil {
		mutate(order)
	}
	require.NoError(t, h.db.Create(order).Error)
	return order
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := orders.NewRepository(h.db).FindByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func (h *harness) credit(t *testing.T, order *models.Order, amount int64) {
	t.Helper()
	_, err := h.wallet.Credit(context.Background(), h.db, wallet.Entry{
		VendorID:    order.VendorID,
		AmountCents: amount,
		Kind:        enums.WalletTransactionKindCommissionCredit,
		OrderID:     &order.ID,
		Description: "Commission credit",
	})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, vendorID uuid.UUID) int64 {
	t.Helper()
	summary, err := h.wallet.Summary(context.Background(), vendorID)
	require.NoError(t, err)
	return summary.BalanceCents
}

// stage puts a PENDING refund on the order the way a cancellation does.
func (h *harness) stage(t *testing.T, order *models.Order) {
	t.Helper()
	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		if err := h.svc.StageRefund(context.Background(), tx, order, order.PayableCents, "Cancelled by customer"); err != nil {
			return err
		}
		return orders.NewRepository(tx).Save(context.Background(), order)
	}))
}

func credited(o *models.Order) {
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	o.Commission.PlatformCents = 5500
	o.Commission.VendorCents = 49500
	o.Commission.CalculatedAt = &at
	o.Commission.WalletCredited = true
	o.Commission.CreditedAt = &at
}

func customer(id uuid.UUID) auth.Principal {
	return auth.Principal{UserID: id, Role: enums.ActorRoleCustomer}
}

func admin() auth.Principal {
	return auth.Principal{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
}
