package commission

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/wallet"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestProcessForOrderCreditsVendorShare(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, nil)

	commission, err := f.engine.ProcessForOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if commission.PlatformCents != 5500 || commission.VendorCents != 49500 {
		t.Fatalf("unexpected split %d/%d", commission.PlatformCents, commission.VendorCents)
	}
	if !commission.WalletCredited || commission.CalculatedAt == nil || commission.CreditedAt == nil {
		t.Fatalf("expected credited commission, got %+v", commission)
	}
	if !commission.Rate.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected default rate 10, got %s", commission.Rate)
	}

	if got := f.balance(t, order.VendorID); got != 49500 {
		t.Fatalf("expected balance 49500, got %d", got)
	}
	stored := f.loadOrder(t, order.ID)
	if !stored.Commission.WalletCredited {
		t.Fatalf("expected stored order credited")
	}

	if len(f.publisher.events) != 1 || f.publisher.events[0].EventType != enums.EventCommissionCredited {
		t.Fatalf("expected one commission_credited event, got %+v", f.publisher.events)
	}
	payload := f.publisher.events[0].Data.(payloads.CommissionCreditedEvent)
	if payload.BalanceAfterCents != 49500 || payload.Rate != "10.00" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestProcessForOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, nil)
	ctx := context.Background()

	first, err := f.engine.ProcessForOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	second, err := f.engine.ProcessForOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if !first.CreditedAt.Equal(*second.CreditedAt) {
		t.Fatalf("expected stored commission returned unchanged")
	}
	if got := f.balance(t, order.VendorID); got != 49500 {
		t.Fatalf("expected single credit, balance %d", got)
	}
	if len(f.publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.publisher.events))
	}
}

func TestProcessForOrderRejectsIneligibleOrders(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(o *models.Order)
	}{
		{name: "pending order", mutate: func(o *models.Order) {
			o.OrderStatus = enums.OrderStatusPending
			o.PaymentStatus = enums.PaymentStatusPending
		}},
		{name: "unpaid online", mutate: func(o *models.Order) { o.PaymentStatus = enums.PaymentStatusPending }},
		{name: "cancelled", mutate: func(o *models.Order) { o.OrderStatus = enums.OrderStatusCancelled }},
		{name: "delivered outside reconcile", mutate: func(o *models.Order) { o.OrderStatus = enums.OrderStatusDelivered }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			order := f.seedOrder(t, tc.mutate)

			_, err := f.engine.ProcessForOrder(context.Background(), order.ID)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeEligibility {
				t.Fatalf("expected eligibility error, got %v", err)
			}
			details, ok := typed.Details().(map[string]any)
			if !ok || details["order_status"] != order.OrderStatus {
				t.Fatalf("unexpected details %+v", typed.Details())
			}
			if got := f.balance(t, order.VendorID); got != 0 {
				t.Fatalf("expected no credit, balance %d", got)
			}
			if f.loadOrder(t, order.ID).Commission.Calculated() {
				t.Fatalf("expected no commission recorded")
			}
		})
	}
}

func TestProcessForOrderAcceptsCOD(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, func(o *models.Order) {
		o.PaymentMethod = enums.PaymentMethodCOD
		o.PaymentStatus = enums.PaymentStatusPending
	})

	if _, err := f.engine.ProcessForOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := f.balance(t, order.VendorID); got != 49500 {
		t.Fatalf("expected balance 49500, got %d", got)
	}
}

func TestProcessForOrderUsesVendorOverride(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, func(o *models.Order) {
		o.SubtotalCents = 999
		o.PayableCents = 999
	})
	operator := auth.Principal{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
	if _, err := f.config.SetVendorOverride(context.Background(), order.VendorID, decimal.RequireFromString("12.5"), operator); err != nil {
		t.Fatalf("set override: %v", err)
	}

	commission, err := f.engine.ProcessForOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if commission.PlatformCents != 125 || commission.VendorCents != 874 {
		t.Fatalf("unexpected split %d/%d", commission.PlatformCents, commission.VendorCents)
	}
}

func TestProcessForOrderSkipsExistingLedgerCredit(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, nil)
	ctx := context.Background()

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.wallet.Credit(ctx, tx, wallet.Entry{
			VendorID:    order.VendorID,
			AmountCents: 49500,
			Kind:        enums.WalletTransactionKindCommissionCredit,
			OrderID:     &order.ID,
			Description: "Commission credit - Order #" + order.OrderNumber,
		})
		return err
	})
	if err != nil {
		t.Fatalf("pre-credit: %v", err)
	}

	commission, err := f.engine.ProcessForOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !commission.WalletCredited {
		t.Fatalf("expected order marked credited")
	}
	if got := f.balance(t, order.VendorID); got != 49500 {
		t.Fatalf("expected no second credit, balance %d", got)
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("expected no event for an existing credit, got %d", len(f.publisher.events))
	}
}

func TestReconcileAdmitsDeliveredOrders(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, func(o *models.Order) {
		o.AppendHistory(enums.OrderStatusConfirmed, enums.ActorRoleSystem, nil, "payment verified", time.Now().Add(-2*time.Hour))
		o.AppendHistory(enums.OrderStatusDelivered, enums.ActorRoleVendor, nil, "", time.Now().Add(-time.Hour))
		o.OrderStatus = enums.OrderStatusDelivered
	})

	commission, err := f.engine.Reconcile(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !commission.WalletCredited {
		t.Fatalf("expected credit on reconcile")
	}
}

func TestReconcileRejectsOrdersThatWereNeverConfirmed(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, func(o *models.Order) {
		o.AppendHistory(enums.OrderStatusPacked, enums.ActorRoleVendor, nil, "", time.Now().Add(-time.Hour))
		o.OrderStatus = enums.OrderStatusPacked
		o.PaymentMethod = enums.PaymentMethodCOD
		o.PaymentStatus = enums.PaymentStatusPending
	})

	_, err := f.engine.Reconcile(context.Background(), order.ID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeEligibility) {
		t.Fatalf("expected eligibility error, got %v", err)
	}
	if got := f.balance(t, order.VendorID); got != 0 {
		t.Fatalf("expected no credit, got %d", got)
	}
	if f.loadOrder(t, order.ID).Commission.WalletCredited {
		t.Fatalf("expected commission left uncredited")
	}
}

func TestProcessForOrderUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ProcessForOrder(context.Background(), uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
