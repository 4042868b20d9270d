// Package gateway abstracts the external payment provider used for online orders.
package gateway

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgstripe "github.com/angelmondragon/marketplace-settlement/pkg/stripe"
)

// CreateOrderRequest opens a gateway-side payment for an amount in minor units.
type CreateOrderRequest struct {
	AmountCents int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// CreateOrderResult is what the client needs to complete the payment.
type CreateOrderResult struct {
	GatewayOrderID string
	ClientSecret   string
	KeyID          string
}

// VerifyRequest carries the client-reported proof of payment.
type VerifyRequest struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	AmountCents      int64
}

// RefundRequest refunds part or all of a captured payment.
type RefundRequest struct {
	PaymentRef  string
	AmountCents int64
	Reference   string
}

// RefundResult is the gateway's acknowledgement of a refund.
type RefundResult struct {
	RefundID string
	Status   string
}

// Gateway is the payment provider contract.
type Gateway interface {
	Name() enums.PaymentGateway
	CreatePaymentOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (bool, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// New selects the configured gateway. stripeClient is only required for stripe.
func New(cfg config.PaymentsConfig, stripeClient *pkgstripe.Client) (Gateway, error) {
	switch enums.PaymentGateway(cfg.GatewayName()) {
	case enums.PaymentGatewayHMAC:
		return NewHMAC(cfg.KeyID, cfg.KeySecret, cfg.DevMode), nil
	case enums.PaymentGatewayStripe:
		if stripeClient == nil {
			return nil, fmt.Errorf("stripe gateway requires a stripe client")
		}
		return NewStripe(stripeClient, nil), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway %q", cfg.Gateway)
	}
}
