package gateway

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	pkgstripe "github.com/angelmondragon/marketplace-settlement/pkg/stripe"
)

// stripeAPI is the slice of the Stripe SDK the gateway calls.
type stripeAPI interface {
	NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	NewRefund(params *stripe.RefundParams) (*stripe.Refund, error)
}

type sdkAPI struct{}

func (sdkAPI) NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.New(params)
}

func (sdkAPI) GetPaymentIntent(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Get(id, params)
}

func (sdkAPI) NewRefund(params *stripe.RefundParams) (*stripe.Refund, error) {
	return refund.New(params)
}

type stripeGateway struct {
	client *pkgstripe.Client
	api    stripeAPI
}

// NewStripe returns a PaymentIntent backed gateway. A nil api uses the SDK.
func NewStripe(client *pkgstripe.Client, api stripeAPI) Gateway {
	if api == nil {
		api = sdkAPI{}
	}
	return &stripeGateway{client: client, api: api}
}

func (g *stripeGateway) Name() enums.PaymentGateway { return enums.PaymentGatewayStripe }

func (g *stripeGateway) CreatePaymentOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Receipt != "" {
		params.Description = stripe.String(req.Receipt)
		params.AddMetadata("receipt", req.Receipt)
	}
	if env := g.client.Environment(); env != "" {
		params.AddMetadata("environment", env)
	}
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	intent, err := g.api.NewPaymentIntent(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe payment intent")
	}
	return &CreateOrderResult{
		GatewayOrderID: intent.ID,
		ClientSecret:   intent.ClientSecret,
	}, nil
}

// VerifyPayment asks Stripe for the intent instead of trusting a client signature.
func (g *stripeGateway) VerifyPayment(ctx context.Context, req VerifyRequest) (bool, error) {
	if req.GatewayOrderID == "" {
		return false, nil
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.api.GetPaymentIntent(req.GatewayOrderID, params)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe payment intent")
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return false, nil
	}
	if req.AmountCents > 0 && intent.AmountReceived != req.AmountCents {
		return false, nil
	}
	return true, nil
}

func (g *stripeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.PaymentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required for refund")
	}
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentRef),
		Amount:        stripe.Int64(req.AmountCents),
	}
	if req.Reference != "" {
		params.AddMetadata("reference", req.Reference)
	}
	params.Context = ctx

	out, err := g.api.NewRefund(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe refund")
	}
	return &RefundResult{RefundID: out.ID, Status: string(out.Status)}, nil
}
