package enums

import "fmt"

// PaymentGateway names the provider that processed a payment attempt.
type PaymentGateway string

const (
	PaymentGatewayHMAC   PaymentGateway = "hmac"
	PaymentGatewayStripe PaymentGateway = "stripe"
)

var validPaymentGateways = []PaymentGateway{
	PaymentGatewayHMAC,
	PaymentGatewayStripe,
}

// String implements fmt.Stringer.
func (v PaymentGateway) String() string {
	return string(v)
}

// IsValid reports whether the value is a known PaymentGateway.
func (v PaymentGateway) IsValid() bool {
	for _, candidate := range validPaymentGateways {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePaymentGateway converts raw input into a PaymentGateway.
func ParsePaymentGateway(value string) (PaymentGateway, error) {
	for _, candidate := range validPaymentGateways {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment gateway %q", value)
}
