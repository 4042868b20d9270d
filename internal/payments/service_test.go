package payments

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/payments/gateway"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	dbpkg "github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

const testSecret = "s3cret"

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

type fakeInventory struct {
	released int
}

func (f *fakeInventory) Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	f.released += qty
	return nil
}

type fakeCommission struct {
	processed []uuid.UUID
}

func (f *fakeCommission) ProcessForOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderCommission, error) {
	f.processed = append(f.processed, orderID)
	return &models.OrderCommission{}, nil
}

func (f *fakeCommission) ProcessInTx(ctx context.Context, tx *gorm.DB, order *models.Order, eligible []enums.OrderStatus) error {
	return nil
}

type noopCompensator struct{}

func (noopCompensator) ReverseCommission(ctx context.Context, tx *gorm.DB, order *models.Order, cause string) error {
	return nil
}

func (noopCompensator) StageRefund(ctx context.Context, tx *gorm.DB, order *models.Order, amountCents int64, reason string) error {
	return nil
}

func (noopCompensator) DispatchRefund(ctx context.Context, orderID uuid.UUID) {}

// stagingRefunds records refunds the way the refunds service stages them.
type stagingRefunds struct {
	dispatched        []uuid.UUID
	captureDispatched []uuid.UUID
}

func (f *stagingRefunds) StageRefund(ctx context.Context, tx *gorm.DB, order *models.Order, amountCents int64, reason string) error {
	ref := "REF-order"
	order.Refund = models.OrderRefund{Status: enums.RefundStatusPending, AmountCents: amountCents, Reference: &ref, Reason: &reason}
	return nil
}

func (f *stagingRefunds) DispatchRefund(ctx context.Context, orderID uuid.UUID) {
	f.dispatched = append(f.dispatched, orderID)
}

func (f *stagingRefunds) StageCaptureRefund(ctx context.Context, tx *gorm.DB, payment *models.Payment, amountCents int64, reason string) error {
	ref := "REF-capture"
	payment.Refund = models.OrderRefund{Status: enums.RefundStatusPending, AmountCents: amountCents, Reference: &ref, Reason: &reason}
	return nil
}

func (f *stagingRefunds) DispatchCaptureRefund(ctx context.Context, paymentID uuid.UUID) {
	f.captureDispatched = append(f.captureDispatched, paymentID)
}

type harness struct {
	db         *gorm.DB
	svc        Service
	publisher  *recordingPublisher
	inventory  *fakeInventory
	commission *fakeCommission
	refunds    *stagingRefunds
	lifecycle  orders.Service
	buyer      auth.Principal
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:payments_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Order{}, &models.Payment{}))

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	h := &harness{
		db:         db,
		publisher:  &recordingPublisher{},
		inventory:  &fakeInventory{},
		commission: &fakeCommission{},
		refunds:    &stagingRefunds{},
		buyer:      auth.Principal{UserID: uuid.New(), Role: enums.ActorRoleCustomer},
	}
	client := dbpkg.Wrap(db)
	ordersRepo := orders.NewRepository(db)
	lifecycle, err := orders.NewService(ordersRepo, client, h.publisher, h.inventory, h.commission, noopCompensator{}, logg, nil, 7)
	require.NoError(t, err)
	h.lifecycle = lifecycle

	svc, err := NewService(
		NewRepository(db),
		ordersRepo,
		lifecycle,
		h.refunds,
		gateway.NewHMAC("key_test", testSecret, false),
		client,
		h.publisher,
		logg,
		config.PaymentsConfig{Currency: "INR", GatewayTimeout: time.Second, AmountTolerance: 1},
	)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) seed(t *testing.T, mutate func(o *models.Order)) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderNumber: orders.NewOrderNumber(time.Now()),
		BuyerID:     h.buyer.UserID,
		VendorID:    uuid.New(),
		LineItems: types.OrderLineItems{
			{ProductID: uuid.New(), Name: "Desk lamp", UnitPriceCents: 25000, Quantity: 2, LineTotalCents: 50000},
		},
		SubtotalCents: 50000,
		PayableCents:  50000,
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
	order, err := orders.NewRepository(h.db).FindByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func (h *harness) payment(t *testing.T, gatewayOrderID string) *models.Payment {
	t.Helper()
	payment, err := NewRepository(h.db).FindByGatewayOrderID(context.Background(), gatewayOrderID)
	require.NoError(t, err)
	return payment
}

func (h *harness) create(t *testing.T, ids ...uuid.UUID) *CreatePaymentResult {
	t.Helper()
	res, err := h.svc.CreatePayment(context.Background(), CreatePaymentInput{Buyer: h.buyer, OrderIDs: ids, AmountCents: int64(len(ids)) * 50000})
	require.NoError(t, err)
	return res
}

func TestCreatePaymentLinksOrders(t *testing.T) {
	h := newHarness(t)
	first, second := h.seed(t, nil), h.seed(t, nil)

	res, err := h.svc.CreatePayment(context.Background(), CreatePaymentInput{
		Buyer:       h.buyer,
		OrderIDs:    []uuid.UUID{first.ID, second.ID, first.ID},
		AmountCents: 99999,
	})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentGatewayHMAC, res.Gateway)
	require.Equal(t, "INR", res.Currency)
	require.Equal(t, "key_test", res.KeyID)

	payment := h.payment(t, res.GatewayOrderID)
	require.Equal(t, enums.PaymentStatusPending, payment.Status)
	require.Len(t, payment.OrderIDs, 2)
	require.Equal(t, res.GatewayOrderID, *h.reload(t, first.ID).PaymentRef)
	require.Equal(t, res.GatewayOrderID, *h.reload(t, second.ID).PaymentRef)
}

func TestCreatePaymentRejections(t *testing.T) {
	h := newHarness(t)
	open := h.seed(t, nil)
	foreign := h.seed(t, func(o *models.Order) { o.BuyerID = uuid.New() })
	cod := h.seed(t, func(o *models.Order) { o.PaymentMethod = enums.PaymentMethodCOD })
	paid := h.seed(t, func(o *models.Order) {
		o.OrderStatus = enums.OrderStatusConfirmed
		o.PaymentStatus = enums.PaymentStatusPaid
	})

	cases := []struct {
		name   string
		ids    []uuid.UUID
		amount int64
		code   pkgerrors.Code
	}{
		{"amount mismatch", []uuid.UUID{open.ID}, 49998, pkgerrors.CodeValidation},
		{"foreign order", []uuid.UUID{foreign.ID}, 50000, pkgerrors.CodeForbidden},
		{"cod order", []uuid.UUID{cod.ID}, 50000, pkgerrors.CodeValidation},
		{"already paid", []uuid.UUID{paid.ID}, 50000, pkgerrors.CodeStateConflict},
		{"missing order", []uuid.UUID{uuid.New()}, 50000, pkgerrors.CodeNotFound},
		{"no orders", nil, 50000, pkgerrors.CodeValidation},
		{"zero amount", []uuid.UUID{open.ID}, 0, pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreatePayment(context.Background(), CreatePaymentInput{Buyer: h.buyer, OrderIDs: tc.ids, AmountCents: tc.amount})
			require.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}

	var count int64
	require.NoError(t, h.db.Model(&models.Payment{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestVerifyPaymentConfirmsOrders(t *testing.T) {
	h := newHarness(t)
	first, second := h.seed(t, nil), h.seed(t, nil)
	created := h.create(t, first.ID, second.ID)

	input := VerifyPaymentInput{
		Buyer:            h.buyer,
		GatewayOrderID:   created.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        gateway.Sign(testSecret, created.GatewayOrderID, "pay_1"),
	}
	res, err := h.svc.VerifyPayment(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, res.Status)
	require.Len(t, res.Orders, 2)

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		order := h.reload(t, id)
		require.Equal(t, enums.OrderStatusConfirmed, order.OrderStatus)
		require.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)
	}
	require.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, h.commission.processed)
	require.Equal(t, 2, h.publisher.count(enums.EventOrderConfirmed))

	payment := h.payment(t, created.GatewayOrderID)
	require.Equal(t, "pay_1", *payment.GatewayPaymentID)
	require.NotNil(t, payment.VerifiedAt)

	again, err := h.svc.VerifyPayment(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, again.Status)
	require.Len(t, h.commission.processed, 2)
}

func TestVerifyPaymentBadSignatureCancelsOrders(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, nil)
	created := h.create(t, order.ID)

	_, err := h.svc.VerifyPayment(context.Background(), VerifyPaymentInput{
		Buyer:            h.buyer,
		GatewayOrderID:   created.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        "deadbeef",
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	payment := h.payment(t, created.GatewayOrderID)
	require.Equal(t, enums.PaymentStatusFailed, payment.Status)
	require.Equal(t, signatureFailure, *payment.FailureReason)

	stored := h.reload(t, order.ID)
	require.Equal(t, enums.OrderStatusCancelled, stored.OrderStatus)
	require.Equal(t, enums.PaymentStatusFailed, stored.PaymentStatus)
	require.Equal(t, 2, h.inventory.released)
	require.Equal(t, 1, h.publisher.count(enums.EventPaymentFailed))
	require.Empty(t, h.commission.processed)

	_, err = h.svc.VerifyPayment(context.Background(), VerifyPaymentInput{Buyer: h.buyer, GatewayOrderID: created.GatewayOrderID})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestVerifyPaymentOwnership(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, nil)
	created := h.create(t, order.ID)

	stranger := auth.Principal{UserID: uuid.New(), Role: enums.ActorRoleCustomer}
	_, err := h.svc.VerifyPayment(context.Background(), VerifyPaymentInput{Buyer: stranger, GatewayOrderID: created.GatewayOrderID})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.VerifyPayment(context.Background(), VerifyPaymentInput{Buyer: h.buyer, GatewayOrderID: "order_missing"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestConfirmCOD(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, func(o *models.Order) { o.PaymentMethod = enums.PaymentMethodCOD })
	online := h.seed(t, nil)

	details, err := h.svc.ConfirmCOD(context.Background(), h.buyer, []uuid.UUID{order.ID})
	require.NoError(t, err)
	require.Len(t, details, 1)
	require.Equal(t, enums.OrderStatusConfirmed, details[0].OrderStatus)
	require.Equal(t, enums.PaymentStatusPending, details[0].PaymentStatus)
	require.Equal(t, []uuid.UUID{order.ID}, h.commission.processed)

	_, err = h.svc.ConfirmCOD(context.Background(), h.buyer, []uuid.UUID{online.ID})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	stranger := auth.Principal{UserID: uuid.New(), Role: enums.ActorRoleCustomer}
	_, err = h.svc.ConfirmCOD(context.Background(), stranger, []uuid.UUID{order.ID})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestSettleGatewayPayment(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, nil)
	created := h.create(t, order.ID)

	require.NoError(t, h.svc.SettleGatewayPayment(context.Background(), GatewayOutcome{GatewayOrderID: "pi_unknown", Succeeded: true}))

	require.NoError(t, h.svc.SettleGatewayPayment(context.Background(), GatewayOutcome{
		GatewayOrderID:   created.GatewayOrderID,
		GatewayPaymentID: "ch_1",
		Succeeded:        true,
	}))
	require.Equal(t, enums.PaymentStatusPaid, h.payment(t, created.GatewayOrderID).Status)
	require.Equal(t, enums.OrderStatusConfirmed, h.reload(t, order.ID).OrderStatus)

	require.NoError(t, h.svc.SettleGatewayPayment(context.Background(), GatewayOutcome{GatewayOrderID: created.GatewayOrderID}))
	require.Equal(t, enums.PaymentStatusPaid, h.payment(t, created.GatewayOrderID).Status)
	require.Len(t, h.commission.processed, 1)
}

func TestSettleGatewayPaymentFailure(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, nil)
	created := h.create(t, order.ID)

	require.NoError(t, h.svc.SettleGatewayPayment(context.Background(), GatewayOutcome{
		GatewayOrderID: created.GatewayOrderID,
		Reason:         "card_declined",
	}))
	payment := h.payment(t, created.GatewayOrderID)
	require.Equal(t, enums.PaymentStatusFailed, payment.Status)
	require.Equal(t, "card_declined", *payment.FailureReason)
	require.Equal(t, enums.OrderStatusCancelled, h.reload(t, order.ID).OrderStatus)
}

func (h *harness) verify(t *testing.T, gatewayOrderID, paymentID string) (*PaymentResult, error) {
	t.Helper()
	return h.svc.VerifyPayment(context.Background(), VerifyPaymentInput{
		Buyer:            h.buyer,
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        gateway.Sign(testSecret, gatewayOrderID, paymentID),
	})
}

func TestCreatePaymentRejectsOrderWithOpenPayment(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, nil)
	first := h.create(t, order.ID)

	_, err := h.svc.CreatePayment(context.Background(), CreatePaymentInput{Buyer: h.buyer, OrderIDs: []uuid.UUID{order.ID}, AmountCents: 50000})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
	typed := pkgerrors.As(err)
	require.Equal(t, first.GatewayOrderID, typed.Details().(map[string]any)["gateway_order_id"])

	require.Equal(t, first.GatewayOrderID, *h.reload(t, order.ID).PaymentRef)
	var count int64
	require.NoError(t, h.db.Model(&models.Payment{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCreatePaymentAllowsRetryAfterFailedPayment(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, nil)
	first := h.create(t, order.ID)
	require.NoError(t, h.db.Model(&models.Payment{}).
		Where("gateway_order_id = ?", first.GatewayOrderID).
		Update("status", enums.PaymentStatusFailed).Error)

	second := h.create(t, order.ID)
	require.NotEqual(t, first.GatewayOrderID, second.GatewayOrderID)
	require.Equal(t, second.GatewayOrderID, *h.reload(t, order.ID).PaymentRef)
}

func TestVerifyPaymentAfterCancelRefundsCapture(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, nil)
	created := h.create(t, order.ID)

	_, err := h.lifecycle.Cancel(context.Background(), orders.CancelInput{OrderID: order.ID, Actor: h.buyer, Reason: "changed my mind"})
	require.NoError(t, err)

	res, err := h.verify(t, created.GatewayOrderID, "pay_late")
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, res.Status)
	require.Equal(t, enums.PaymentStatusPaid, h.payment(t, created.GatewayOrderID).Status)

	stored := h.reload(t, order.ID)
	require.Equal(t, enums.OrderStatusCancelled, stored.OrderStatus)
	require.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	require.Equal(t, enums.RefundStatusPending, stored.Refund.Status)
	require.Equal(t, int64(50000), stored.Refund.AmountCents)
	require.Equal(t, "payment captured after order was cancelled", *stored.Refund.Reason)
	require.Equal(t, []uuid.UUID{order.ID}, h.refunds.dispatched)
	require.Empty(t, h.refunds.captureDispatched)
	require.Empty(t, h.commission.processed)
	require.Zero(t, h.publisher.count(enums.EventOrderConfirmed))
}

func TestSettleGatewayPaymentAfterCancelKeepsOtherOrdersConfirmed(t *testing.T) {
	h := newHarness(t)
	kept, cancelled := h.seed(t, nil), h.seed(t, nil)
	created := h.create(t, kept.ID, cancelled.ID)

	_, err := h.lifecycle.Cancel(context.Background(), orders.CancelInput{OrderID: cancelled.ID, Actor: h.buyer})
	require.NoError(t, err)

	require.NoError(t, h.svc.SettleGatewayPayment(context.Background(), GatewayOutcome{
		GatewayOrderID:   created.GatewayOrderID,
		GatewayPaymentID: "ch_late",
		Succeeded:        true,
	}))
	require.Equal(t, enums.PaymentStatusPaid, h.payment(t, created.GatewayOrderID).Status)
	require.Equal(t, enums.OrderStatusConfirmed, h.reload(t, kept.ID).OrderStatus)
	require.Equal(t, enums.RefundStatusPending, h.reload(t, cancelled.ID).Refund.Status)
	require.Equal(t, []uuid.UUID{kept.ID}, h.commission.processed)
	require.Equal(t, []uuid.UUID{cancelled.ID}, h.refunds.dispatched)
}

func TestVerifyPaymentRefundsDuplicateCapture(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, nil)
	stale := h.create(t, order.ID)

	// Relink the order to a second payment while the first stays open at the gateway.
	require.NoError(t, h.db.Model(&models.Payment{}).
		Where("gateway_order_id = ?", stale.GatewayOrderID).
		Update("status", enums.PaymentStatusFailed).Error)
	current := h.create(t, order.ID)
	require.NoError(t, h.db.Model(&models.Payment{}).
		Where("gateway_order_id = ?", stale.GatewayOrderID).
		Update("status", enums.PaymentStatusPending).Error)

	_, err := h.verify(t, current.GatewayOrderID, "pay_current")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusConfirmed, h.reload(t, order.ID).OrderStatus)

	res, err := h.verify(t, stale.GatewayOrderID, "pay_stale")
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, res.Status)

	duplicate := h.payment(t, stale.GatewayOrderID)
	require.Equal(t, enums.PaymentStatusPaid, duplicate.Status)
	require.Equal(t, enums.RefundStatusPending, duplicate.Refund.Status)
	require.Equal(t, int64(50000), duplicate.Refund.AmountCents)
	require.Equal(t, []uuid.UUID{duplicate.ID}, h.refunds.captureDispatched)

	stored := h.reload(t, order.ID)
	require.Equal(t, current.GatewayOrderID, *stored.PaymentRef)
	require.Equal(t, enums.RefundStatusNotRequired, stored.Refund.Status)
	require.Equal(t, []uuid.UUID{order.ID}, h.commission.processed)
	require.Empty(t, h.refunds.dispatched)
}
