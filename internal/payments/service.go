package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/payments/gateway"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/money"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

const signatureFailure = "signature verification failed"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// orderConfirmer is the slice of the order lifecycle payments drive.
type orderConfirmer interface {
	ConfirmInTx(ctx context.Context, tx *gorm.DB, input orders.ConfirmInput) (*models.Order, error)
	FailPaymentInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error)
	AfterConfirm(ctx context.Context, orderID uuid.UUID)
}

// refundStager returns money captured for orders that can no longer take it.
type refundStager interface {
	StageRefund(ctx context.Context, tx *gorm.DB, order *models.Order, amountCents int64, reason string) error
	DispatchRefund(ctx context.Context, orderID uuid.UUID)
	StageCaptureRefund(ctx context.Context, tx *gorm.DB, payment *models.Payment, amountCents int64, reason string) error
	DispatchCaptureRefund(ctx context.Context, paymentID uuid.UUID)
}

// Service takes buyers from placed orders to confirmed orders.
type Service interface {
	CreatePayment(ctx context.Context, input CreatePaymentInput) (*CreatePaymentResult, error)
	VerifyPayment(ctx context.Context, input VerifyPaymentInput) (*PaymentResult, error)
	ConfirmCOD(ctx context.Context, buyer auth.Principal, orderIDs []uuid.UUID) ([]*orders.OrderDetail, error)
	SettleGatewayPayment(ctx context.Context, outcome GatewayOutcome) error
}

type service struct {
	repo      Repository
	orders    orders.Repository
	lifecycle orderConfirmer
	refunds   refundStager
	gateway   gateway.Gateway
	tx        txRunner
	outbox    outboxPublisher
	logg      *logger.Logger
	cfg       config.PaymentsConfig
	now       func() time.Time
}

func NewService(
	repo Repository,
	ordersRepo orders.Repository,
	lifecycle orderConfirmer,
	refunds refundStager,
	gw gateway.Gateway,
	tx txRunner,
	publisher outboxPublisher,
	logg *logger.Logger,
	cfg config.PaymentsConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	if refunds == nil {
		return nil, fmt.Errorf("refund stager required")
	}
	if gw == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &service{
		repo:      repo,
		orders:    ordersRepo,
		lifecycle: lifecycle,
		refunds:   refunds,
		gateway:   gw,
		tx:        tx,
		outbox:    publisher,
		logg:      logg,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) CreatePayment(ctx context.Context, input CreatePaymentInput) (*CreatePaymentResult, error) {
	if input.Buyer.Role != enums.ActorRoleCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can pay for orders")
	}
	orderIDs := dedupe(input.OrderIDs)
	if len(orderIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one order id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = strings.ToUpper(s.cfg.Currency)
	}

	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.payableOrders(ctx, tx, input.Buyer, orderIDs, input.AmountCents)
		return err
	}); err != nil {
		return nil, err
	}

	number := NewPaymentNumber(s.now())
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	created, err := s.gateway.CreatePaymentOrder(callCtx, gateway.CreateOrderRequest{
		AmountCents: input.AmountCents,
		Currency:    currency,
		Receipt:     number,
		Notes:       map[string]string{"buyer_id": input.Buyer.UserID.String()},
	})
	cancel()
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		PaymentNumber:  number,
		Gateway:        s.gateway.Name(),
		GatewayOrderID: created.GatewayOrderID,
		BuyerID:        input.Buyer.UserID,
		OrderIDs:       types.UUIDList(orderIDs),
		AmountCents:    input.AmountCents,
		Currency:       currency,
		Status:         enums.PaymentStatusPending,
		Refund:         models.OrderRefund{Status: enums.RefundStatusNotRequired},
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.payableOrders(ctx, tx, input.Buyer, orderIDs, input.AmountCents)
		if err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		ordersRepo := s.orders.WithTx(tx)
		for i := range rows {
			rows[i].PaymentRef = &payment.GatewayOrderID
			if err := ordersRepo.Save(ctx, &rows[i]); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link order to payment")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"payment_id":       payment.ID.String(),
		"gateway_order_id": payment.GatewayOrderID,
		"amount_cents":     payment.AmountCents,
	}), "payment created")
	return &CreatePaymentResult{
		PaymentID:      payment.ID,
		PaymentNumber:  payment.PaymentNumber,
		Gateway:        payment.Gateway,
		GatewayOrderID: payment.GatewayOrderID,
		ClientSecret:   created.ClientSecret,
		KeyID:          created.KeyID,
		AmountCents:    payment.AmountCents,
		Currency:       payment.Currency,
	}, nil
}

// payableOrders locks the orders and checks they can be paid together for amount.
func (s *service) payableOrders(ctx context.Context, tx *gorm.DB, buyer auth.Principal, orderIDs []uuid.UUID, amountCents int64) ([]models.Order, error) {
	rows, err := s.orders.WithTx(tx).FindByIDs(ctx, orderIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load orders")
	}
	if len(rows) != len(orderIDs) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "one or more orders not found")
	}

	var total int64
	for _, order := range rows {
		if order.BuyerID != buyer.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "you can only pay for your own orders")
		}
		if order.PaymentMethod != enums.PaymentMethodOnline {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("order %s is not an online payment order", order.OrderNumber))
		}
		if order.OrderStatus != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order %s is not awaiting payment", order.OrderNumber)).
				WithDetails(map[string]any{"order_status": order.OrderStatus, "payment_status": order.PaymentStatus})
		}
		if err := s.checkNoOpenPayment(ctx, tx, &order); err != nil {
			return nil, err
		}
		total += order.PayableCents
	}

	diff := total - amountCents
	if diff < 0 {
		diff = -diff
	}
	if diff > s.cfg.AmountTolerance {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount does not match order total").
			WithDetails(map[string]any{"expected": money.Format(total), "received": money.Format(amountCents)})
	}
	return rows, nil
}

// checkNoOpenPayment rejects an order still linked to a payment that has not failed.
func (s *service) checkNoOpenPayment(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.PaymentRef == nil || *order.PaymentRef == "" {
		return nil
	}
	existing, err := s.repo.WithTx(tx).FindByGatewayOrderID(ctx, *order.PaymentRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load linked payment")
	}
	if existing.Status == enums.PaymentStatusFailed {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order %s already has a payment in progress", order.OrderNumber)).
		WithDetails(map[string]any{"gateway_order_id": existing.GatewayOrderID, "payment_status": existing.Status})
}

func (s *service) VerifyPayment(ctx context.Context, input VerifyPaymentInput) (*PaymentResult, error) {
	if input.Buyer.Role != enums.ActorRoleCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can verify payments")
	}
	gatewayOrderID := strings.TrimSpace(input.GatewayOrderID)
	if gatewayOrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway order id is required")
	}

	payment, err := s.find(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	if payment.BuyerID != input.Buyer.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "access denied to this payment")
	}
	switch payment.Status {
	case enums.PaymentStatusPaid:
		return s.result(ctx, payment), nil
	case enums.PaymentStatusFailed, enums.PaymentStatusRefunded:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment is already %s", payment.Status))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	ok, err := s.gateway.VerifyPayment(callCtx, gateway.VerifyRequest{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: input.GatewayPaymentID,
		Signature:        input.Signature,
		AmountCents:      payment.AmountCents,
	})
	cancel()
	if err != nil {
		return nil, err
	}

	outcome := GatewayOutcome{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: input.GatewayPaymentID,
		Succeeded:        ok,
		Reason:           signatureFailure,
	}
	settled, err := s.settle(ctx, outcome, input.Signature, input.Buyer)
	if err != nil {
		return nil, err
	}
	if settled.Status == enums.PaymentStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment "+signatureFailure).
			WithDetails(map[string]any{"payment_id": settled.ID})
	}
	return s.result(ctx, settled), nil
}

// SettleGatewayPayment applies an outcome pushed by the gateway. Unknown or
// already settled payments are ignored.
func (s *service) SettleGatewayPayment(ctx context.Context, outcome GatewayOutcome) error {
	if outcome.GatewayOrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway order id is required")
	}
	payment, err := s.find(ctx, outcome.GatewayOrderID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"gateway_order_id": outcome.GatewayOrderID}), "gateway outcome for unknown payment")
			return nil
		}
		return err
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil
	}
	if outcome.Reason == "" {
		outcome.Reason = "payment failed at gateway"
	}
	_, err = s.settle(ctx, outcome, "", auth.System())
	return err
}

// settle moves a PENDING payment to PAID or FAILED together with its orders.
// A capture for an order that left PENDING, or that another payment already
// settled, still marks the payment PAID and stages the matching refund.
// Commission crediting and refund dispatch run after commit.
func (s *service) settle(ctx context.Context, outcome GatewayOutcome, signature string, actor auth.Principal) (*models.Payment, error) {
	var (
		payment       *models.Payment
		confirmed     []uuid.UUID
		refunded      []uuid.UUID
		captureRefund bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.LockByGatewayOrderID(ctx, outcome.GatewayOrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payment")
		}
		payment = current
		if payment.Status != enums.PaymentStatusPending {
			return nil
		}

		now := s.now()
		if outcome.GatewayPaymentID != "" {
			payment.GatewayPaymentID = &outcome.GatewayPaymentID
		}
		if signature != "" {
			payment.Signature = &signature
		}

		if !outcome.Succeeded {
			reason := outcome.Reason
			payment.Status = enums.PaymentStatusFailed
			payment.FailureReason = &reason
			for _, orderID := range payment.OrderIDs {
				if _, err := s.lifecycle.FailPaymentInTx(ctx, tx, orderID, reason); err != nil {
					return err
				}
			}
			if err := repo.Save(ctx, payment); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
			}
			return s.emitFailed(ctx, tx, payment, reason, actor)
		}

		payment.Status = enums.PaymentStatusPaid
		payment.VerifiedAt = &now
		payment.FailureReason = nil

		ordersRepo := s.orders.WithTx(tx)
		var surplus int64
		for _, orderID := range payment.OrderIDs {
			order, err := ordersRepo.LockByID(ctx, orderID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
			}
			switch {
			case order.PaymentRef == nil || *order.PaymentRef != payment.GatewayOrderID:
				surplus += order.PayableCents
				s.logg.Warn(s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
					"gateway_order_id": payment.GatewayOrderID,
					"payment_status":   string(order.PaymentStatus),
				}), "capture for order settled by another payment")
			case order.PaymentStatus == enums.PaymentStatusPaid:
			case order.OrderStatus == enums.OrderStatusPending:
				if _, err := s.lifecycle.ConfirmInTx(ctx, tx, orders.ConfirmInput{OrderID: orderID, Outcome: orders.PaymentOutcomePaid}); err != nil {
					return err
				}
				confirmed = append(confirmed, orderID)
			default:
				staged, err := s.captureAfterCancel(ctx, tx, order)
				if err != nil {
					return err
				}
				if staged {
					refunded = append(refunded, orderID)
				}
			}
		}
		if surplus > 0 {
			if err := s.refunds.StageCaptureRefund(ctx, tx, payment, surplus, "payment captured for orders already settled by another payment"); err != nil {
				return err
			}
			captureRefund = true
		}
		if err := repo.Save(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment paid")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, orderID := range confirmed {
		s.lifecycle.AfterConfirm(ctx, orderID)
	}
	for _, orderID := range refunded {
		s.refunds.DispatchRefund(ctx, orderID)
	}
	if captureRefund {
		s.refunds.DispatchCaptureRefund(ctx, payment.ID)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"payment_id": payment.ID.String(),
		"status":     string(payment.Status),
	}), "payment settled")
	return payment, nil
}

// captureAfterCancel records money captured for an order that stopped waiting for
// it, usually a cancellation, and stages a refund of the payable amount.
func (s *service) captureAfterCancel(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error) {
	order.PaymentStatus = enums.PaymentStatusPaid
	staged := false
	if order.PayableCents > 0 &&
		order.Refund.Status != enums.RefundStatusPending &&
		order.Refund.Status != enums.RefundStatusCompleted {
		reason := fmt.Sprintf("payment captured after order was %s", order.OrderStatus)
		if err := s.refunds.StageRefund(ctx, tx, order, order.PayableCents, reason); err != nil {
			return false, err
		}
		staged = true
	}
	if err := s.orders.WithTx(tx).Save(ctx, order); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record late capture")
	}
	s.logg.Warn(s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"order_status": string(order.OrderStatus),
		"refund_cents": order.Refund.AmountCents,
	}), "payment captured after order stopped awaiting payment")
	return staged, nil
}

func (s *service) emitFailed(ctx context.Context, tx *gorm.DB, payment *models.Payment, reason string, actor auth.Principal) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         outbox.ActorFor(actor),
		Data: payloads.PaymentFailedEvent{
			PaymentID:      payment.ID,
			GatewayOrderID: payment.GatewayOrderID,
			OrderIDs:       []uuid.UUID(payment.OrderIDs),
			Reason:         reason,
		},
		Version: 1,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment failed")
	}
	return nil
}

// ConfirmCOD confirms cash-on-delivery orders right after placement.
func (s *service) ConfirmCOD(ctx context.Context, buyer auth.Principal, orderIDs []uuid.UUID) ([]*orders.OrderDetail, error) {
	if buyer.Role != enums.ActorRoleCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can confirm orders")
	}
	orderIDs = dedupe(orderIDs)
	if len(orderIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one order id is required")
	}

	confirmed := make([]*models.Order, 0, len(orderIDs))
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.orders.WithTx(tx).FindByIDs(ctx, orderIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load orders")
		}
		if len(rows) != len(orderIDs) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "one or more orders not found")
		}
		for _, row := range rows {
			if row.BuyerID != buyer.UserID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "you can only confirm your own orders")
			}
		}
		for _, row := range rows {
			order, err := s.lifecycle.ConfirmInTx(ctx, tx, orders.ConfirmInput{OrderID: row.ID, Outcome: orders.PaymentOutcomeCOD})
			if err != nil {
				return err
			}
			confirmed = append(confirmed, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*orders.OrderDetail, 0, len(confirmed))
	for _, order := range confirmed {
		s.lifecycle.AfterConfirm(ctx, order.ID)
		out = append(out, s.detail(ctx, order))
	}
	return out, nil
}

func (s *service) find(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	payment, err := s.repo.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func (s *service) result(ctx context.Context, payment *models.Payment) *PaymentResult {
	out := &PaymentResult{
		PaymentID:      payment.ID,
		PaymentNumber:  payment.PaymentNumber,
		GatewayOrderID: payment.GatewayOrderID,
		Status:         payment.Status,
		AmountCents:    payment.AmountCents,
		Orders:         make([]*orders.OrderDetail, 0, len(payment.OrderIDs)),
	}
	for _, orderID := range payment.OrderIDs {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			continue
		}
		out.Orders = append(out.Orders, orders.ToDetail(order))
	}
	return out
}

func (s *service) detail(ctx context.Context, order *models.Order) *orders.OrderDetail {
	fresh, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		return orders.ToDetail(order)
	}
	return orders.ToDetail(fresh)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
