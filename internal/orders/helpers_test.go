package orders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

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

func (p *recordingPublisher) eventTypes() []enums.OutboxEventType {
	out := make([]enums.OutboxEventType, len(p.events))
	for i, event := range p.events {
		out[i] = event.EventType
	}
	return out
}

type fakeInventory struct {
	released map[uuid.UUID]int
}

func (f *fakeInventory) Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if f.released == nil {
		f.released = map[uuid.UUID]int{}
	}
	f.released[productID] += qty
	return nil
}

type fakeCommission struct {
	processed  []uuid.UUID
	processErr error
	inTxCalls  int
	inTxErr    error
}

func (f *fakeCommission) ProcessForOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderCommission, error) {
	f.processed = append(f.processed, orderID)
	if f.processErr != nil {
		return nil, f.processErr
	}
	return &models.OrderCommission{}, nil
}

func (f *fakeCommission) ProcessInTx(ctx context.Context, tx *gorm.DB, order *models.Order, eligible []enums.OrderStatus) error {
	f.inTxCalls++
	if f.inTxErr != nil {
		return f.inTxErr
	}
	now := time.Now().UTC()
	order.Commission.WalletCredited = true
	order.Commission.CreditedAt = &now
	return nil
}

type fakeCompensator struct {
	reversals  []string
	reverseErr error
	staged     []int64
	dispatched []uuid.UUID
}

func (f *fakeCompensator) ReverseCommission(ctx context.Context, tx *gorm.DB, order *models.Order, cause string) error {
	if f.reverseErr != nil {
		return f.reverseErr
	}
	now := time.Now().UTC()
	order.Commission.Reversed = true
	order.Commission.ReversedAt = &now
	f.reversals = append(f.reversals, cause)
	return nil
}

func (f *fakeCompensator) StageRefund(ctx context.Context, tx *gorm.DB, order *models.Order, amountCents int64, reason string) error {
	now := time.Now().UTC()
	ref := "REF-test"
	order.Refund.Status = enums.RefundStatusPending
	order.Refund.AmountCents = amountCents
	order.Refund.Reference = &ref
	order.Refund.Reason = &reason
	order.Refund.InitiatedAt = &now
	f.staged = append(f.staged, amountCents)
	return nil
}

func (f *fakeCompensator) DispatchRefund(ctx context.Context, orderID uuid.UUID) {
	f.dispatched = append(f.dispatched, orderID)
}

type harness struct {
	db          *gorm.DB
	svc         *service
	publisher   *recordingPublisher
	inventory   *fakeInventory
	commission  *fakeCommission
	compensator *fakeCompensator
	now         time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:orders_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Order{}))

	h := &harness{
		db:          db,
		publisher:   &recordingPublisher{},
		inventory:   &fakeInventory{},
		commission:  &fakeCommission{},
		compensator: &fakeCompensator{},
		now:         time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(
		NewRepository(db),
		dbpkg.Wrap(db),
		h.publisher,
		h.inventory,
		h.commission,
		h.compensator,
		logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		nil,
		7,
	)
	require.NoError(t, err)
	h.svc = svc.(*service)
	h.svc.now = func() time.Time { return h.now }
	return h
}

func (h *harness) seed(t *testing.T, mutate func(o *models.Order)) *models.Order {
	t.Helper()
	productA, productB := uuid.New(), uuid.New()
	order := &models.Order{
		OrderNumber: NewOrderNumber(h.now),
		BuyerID:     uuid.New(),
		VendorID:    uuid.New(),
		LineItems: types.OrderLineItems{
			{ProductID: productA, Name: "Desk lamp", UnitPriceCents: 25000, Quantity: 2, LineTotalCents: 50000},
			{ProductID: productB, Name: "Bulb", UnitPriceCents: 5000, Quantity: 1, LineTotalCents: 5000},
		},
		SubtotalCents: 55000,
		PayableCents:  55000,
		OrderStatus:   enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		PaymentMethod: enums.PaymentMethodOnline,
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
	order, err := NewRepository(h.db).FindByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func confirmedPaid(o *models.Order) {
	o.OrderStatus = enums.OrderStatusConfirmed
	o.PaymentStatus = enums.PaymentStatusPaid
	ref := "order_test"
	o.PaymentRef = &ref
}

func withCreditedCommission(o *models.Order) {
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	o.Commission.PlatformCents = 5500
	o.Commission.VendorCents = 49500
	o.Commission.CalculatedAt = &at
	o.Commission.WalletCredited = true
	o.Commission.CreditedAt = &at
}
