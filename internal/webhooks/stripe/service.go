package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/marketplace-settlement/internal/payments"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

// paymentSettler is the part of the payments service that gateway events drive.
type paymentSettler interface {
	SettleGatewayPayment(ctx context.Context, outcome payments.GatewayOutcome) error
}

type ServiceParams struct {
	Payments paymentSettler
	Logger   *logger.Logger
}

type Service struct {
	payments paymentSettler
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		payments: params.Payments,
		logg:     params.Logger,
	}, nil
}

// HandleEvent settles payments from payment intent events. Other event types are acknowledged and ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		if intent.ID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
		}
		return s.payments.SettleGatewayPayment(ctx, outcomeFor(event.Type, &intent))
	default:
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": string(event.Type),
		}), "stripe event ignored")
		return nil
	}
}

func outcomeFor(eventType stripe.EventType, intent *stripe.PaymentIntent) payments.GatewayOutcome {
	outcome := payments.GatewayOutcome{
		GatewayOrderID: intent.ID,
		Succeeded:      eventType == stripe.EventTypePaymentIntentSucceeded,
	}
	if intent.LatestCharge != nil {
		outcome.GatewayPaymentID = intent.LatestCharge.ID
	}
	if !outcome.Succeeded && intent.LastPaymentError != nil {
		outcome.Reason = intent.LastPaymentError.Msg
		if outcome.Reason == "" {
			outcome.Reason = string(intent.LastPaymentError.Code)
		}
	}
	return outcome
}
