package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/marketplace-settlement/internal/payments"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

type stubSettler struct {
	outcomes []payments.GatewayOutcome
	err      error
}

func (s *stubSettler) SettleGatewayPayment(ctx context.Context, outcome payments.GatewayOutcome) error {
	s.outcomes = append(s.outcomes, outcome)
	return s.err
}

func newTestService(t *testing.T, settler *stubSettler) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Payments: settler,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return service
}

func intentEvent(t *testing.T, eventType stripe.EventType, intent *stripe.PaymentIntent) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return &stripe.Event{ID: "evt_test", Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func TestService_HandlePaymentIntentSucceeded(t *testing.T) {
	settler := &stubSettler{}
	service := newTestService(t, settler)

	event := intentEvent(t, stripe.EventTypePaymentIntentSucceeded, &stripe.PaymentIntent{
		ID:           "pi_123",
		Status:       stripe.PaymentIntentStatusSucceeded,
		LatestCharge: &stripe.Charge{ID: "ch_123"},
	})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(settler.outcomes) != 1 {
		t.Fatalf("expected one settlement, got %d", len(settler.outcomes))
	}
	got := settler.outcomes[0]
	if got.GatewayOrderID != "pi_123" || got.GatewayPaymentID != "ch_123" || !got.Succeeded {
		t.Fatalf("unexpected outcome %+v", got)
	}
}

func TestService_HandlePaymentIntentFailed(t *testing.T) {
	settler := &stubSettler{}
	service := newTestService(t, settler)

	event := intentEvent(t, stripe.EventTypePaymentIntentPaymentFailed, &stripe.PaymentIntent{
		ID:               "pi_failed",
		LastPaymentError: &stripe.Error{Code: stripe.ErrorCodeCardDeclined, Msg: "Your card was declined."},
	})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	got := settler.outcomes[0]
	if got.Succeeded {
		t.Fatalf("expected failed outcome")
	}
	if got.Reason != "Your card was declined." {
		t.Fatalf("unexpected reason %q", got.Reason)
	}
}

func TestService_IgnoresOtherEvents(t *testing.T) {
	settler := &stubSettler{}
	service := newTestService(t, settler)

	event := &stripe.Event{ID: "evt_other", Type: stripe.EventTypeChargeRefunded, Data: &stripe.EventData{Raw: []byte(`{}`)}}
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(settler.outcomes) != 0 {
		t.Fatalf("expected no settlement")
	}
}

func TestService_RejectsMalformedEvents(t *testing.T) {
	settler := &stubSettler{}
	service := newTestService(t, settler)

	if err := service.HandleEvent(context.Background(), &stripe.Event{Type: stripe.EventTypePaymentIntentSucceeded}); err == nil {
		t.Fatalf("expected error for missing data")
	}
	event := &stripe.Event{Type: stripe.EventTypePaymentIntentSucceeded, Data: &stripe.EventData{Raw: []byte(`{"status":"succeeded"}`)}}
	if err := service.HandleEvent(context.Background(), event); err == nil {
		t.Fatalf("expected error for missing intent id")
	}
}

func TestService_PropagatesSettlementErrors(t *testing.T) {
	settler := &stubSettler{err: errors.New("db down")}
	service := newTestService(t, settler)

	event := intentEvent(t, stripe.EventTypePaymentIntentSucceeded, &stripe.PaymentIntent{ID: "pi_err"})
	if err := service.HandleEvent(context.Background(), event); err == nil {
		t.Fatalf("expected settlement error to propagate")
	}
}
