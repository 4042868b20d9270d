package enums

import "fmt"

// ReturnType is the outcome a customer asks for when returning an order.
type ReturnType string

const (
	ReturnTypeRefund      ReturnType = "refund"
	ReturnTypeReplacement ReturnType = "replacement"
)

var validReturnTypes = []ReturnType{
	ReturnTypeRefund,
	ReturnTypeReplacement,
}

// String implements fmt.Stringer.
func (v ReturnType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ReturnType.
func (v ReturnType) IsValid() bool {
	for _, candidate := range validReturnTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseReturnType converts raw input into a ReturnType.
func ParseReturnType(value string) (ReturnType, error) {
	for _, candidate := range validReturnTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return type %q", value)
}
