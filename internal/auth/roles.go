package auth

// Role represents a market party role.
type Role string

const (
	// RoleMSB is the metering point operator, the only party allowed to
	// submit and update formulas.
	RoleMSB Role = "MSB"
	// RoleNB is a distribution grid operator.
	RoleNB Role = "NB"
	// RoleUNB is a transmission grid operator.
	RoleUNB Role = "UNB"
	// RoleHubOperator runs the data hub itself.
	RoleHubOperator Role = "HUB_OPERATOR"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleMSB, RoleNB, RoleUNB, RoleHubOperator:
		return Role(value), true
	default:
		return "", false
	}
}

// RoleAllowed returns true when role is in the allowed set. An empty set
// admits every valid role.
func RoleAllowed(role Role, allowed []Role) bool {
	if _, ok := NormalizeRole(string(role)); !ok {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}
