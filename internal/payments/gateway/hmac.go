package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/google/uuid"
)

// hmacGateway follows the order/payment/signature handshake where the client
// returns sha256-HMAC(orderID|paymentID) keyed with the merchant secret.
type hmacGateway struct {
	keyID   string
	secret  string
	devMode bool
	newID   func(prefix string) string
}

// NewHMAC returns a signature-verifying gateway. In dev mode orders and refunds
// are simulated locally.
func NewHMAC(keyID, secret string, devMode bool) Gateway {
	return &hmacGateway{
		keyID:   keyID,
		secret:  secret,
		devMode: devMode,
		newID: func(prefix string) string {
			return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
		},
	}
}

func (g *hmacGateway) Name() enums.PaymentGateway { return enums.PaymentGatewayHMAC }

func (g *hmacGateway) CreatePaymentOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create gateway order")
	}
	if !g.devMode && g.secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway is not configured")
	}
	return &CreateOrderResult{
		GatewayOrderID: g.newID("order"),
		KeyID:          g.keyID,
	}, nil
}

func (g *hmacGateway) VerifyPayment(ctx context.Context, req VerifyRequest) (bool, error) {
	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		return false, nil
	}
	if g.devMode {
		return true, nil
	}
	expected := Sign(g.secret, req.GatewayOrderID, req.GatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(req.Signature))), nil
}

func (g *hmacGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.PaymentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required for refund")
	}
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway refund")
	}
	if !g.devMode && g.secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway is not configured")
	}
	return &RefundResult{RefundID: g.newID("rfnd"), Status: "processed"}, nil
}

// Sign computes the hex HMAC-SHA256 of "orderID|paymentID".
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}
