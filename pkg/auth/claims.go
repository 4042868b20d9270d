package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// Principal is the verified caller handed to every settlement operation.
type Principal struct {
	UserID   uuid.UUID       `json:"user_id"`
	Role     enums.ActorRole `json:"role"`
	VendorID *uuid.UUID      `json:"vendor_id,omitempty"`
}

// System is the principal used by gateway callbacks and background jobs.
func System() Principal {
	return Principal{Role: enums.ActorRoleSystem}
}

// IsOperator reports whether the principal may bypass vendor restrictions.
func (p Principal) IsOperator() bool {
	return p.Role.IsOperator()
}

// OwnsVendor reports whether the principal acts for the given vendor.
func (p Principal) OwnsVendor(vendorID uuid.UUID) bool {
	return p.Role == enums.ActorRoleVendor && p.VendorID != nil && *p.VendorID == vendorID
}

// UserRef returns the user id as a pointer, nil for the system principal.
func (p Principal) UserRef() *uuid.UUID {
	if p.UserID == uuid.Nil {
		return nil
	}
	id := p.UserID
	return &id
}

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	Role     enums.ActorRole
	VendorID *uuid.UUID
	JTI      string
}

// AccessTokenClaims represents the typed JWT issued by the identity service.
type AccessTokenClaims struct {
	UserID   uuid.UUID       `json:"user_id"`
	Role     enums.ActorRole `json:"role"`
	VendorID *uuid.UUID      `json:"vendor_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the settlement principal.
func (c AccessTokenClaims) Principal() Principal {
	return Principal{UserID: c.UserID, Role: c.Role, VendorID: c.VendorID}
}
