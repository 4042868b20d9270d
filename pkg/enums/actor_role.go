package enums

import "fmt"

// ActorRole identifies who performed an action against the settlement core.
type ActorRole string

const (
	ActorRoleCustomer   ActorRole = "customer"
	ActorRoleVendor     ActorRole = "vendor"
	ActorRoleAdmin      ActorRole = "admin"
	ActorRoleSuperAdmin ActorRole = "super_admin"
	ActorRoleSystem     ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleCustomer,
	ActorRoleVendor,
	ActorRoleAdmin,
	ActorRoleSuperAdmin,
	ActorRoleSystem,
}

// String implements fmt.Stringer.
func (v ActorRole) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ActorRole.
func (v ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into a ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}

// IsOperator reports whether the role belongs to marketplace administration.
func (v ActorRole) IsOperator() bool {
	return v == ActorRoleAdmin || v == ActorRoleSuperAdmin
}
