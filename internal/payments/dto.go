package payments

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// CreatePaymentInput opens one gateway payment covering several online orders.
type CreatePaymentInput struct {
	Buyer       auth.Principal
	OrderIDs    []uuid.UUID
	AmountCents int64
	Currency    string
}

// CreatePaymentResult carries what the client needs to finish paying.
type CreatePaymentResult struct {
	PaymentID      uuid.UUID            `json:"payment_id"`
	PaymentNumber  string               `json:"payment_number"`
	Gateway        enums.PaymentGateway `json:"gateway"`
	GatewayOrderID string               `json:"gateway_order_id"`
	ClientSecret   string               `json:"client_secret,omitempty"`
	KeyID          string               `json:"key_id,omitempty"`
	AmountCents    int64                `json:"amount_cents"`
	Currency       string               `json:"currency"`
}

// VerifyPaymentInput is the client's proof of a completed payment.
type VerifyPaymentInput struct {
	Buyer            auth.Principal
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// GatewayOutcome is a payment result reported by the gateway itself.
type GatewayOutcome struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Succeeded        bool
	Reason           string
}

// PaymentResult is the settled payment plus the orders it covers.
type PaymentResult struct {
	PaymentID      uuid.UUID             `json:"payment_id"`
	PaymentNumber  string                `json:"payment_number"`
	GatewayOrderID string                `json:"gateway_order_id"`
	Status         enums.PaymentStatus   `json:"status"`
	AmountCents    int64                 `json:"amount_cents"`
	Orders         []*orders.OrderDetail `json:"orders"`
}

// NewPaymentNumber builds the human-facing payment number, PAY-<unix-ms>-<4 digits>.
func NewPaymentNumber(now time.Time) string {
	return fmt.Sprintf("PAY-%d-%04d", now.UnixMilli(), rand.IntN(10000))
}
