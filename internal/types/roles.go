package types

import "strings"

// Role is a capability checked by the authorization gate.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleConfirmer Role = "confirmer"
	RoleIssuer    Role = "issuer"
)

// RoleResolver names the same capability as RoleConfirmer: the principal that
// settles sales also resolves refunds.
const RoleResolver = RoleConfirmer

// ParseRole normalizes a role name. "resolver" maps to the confirmer role.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "owner":
		return RoleOwner, true
	case "confirmer", "resolver":
		return RoleConfirmer, true
	case "issuer":
		return RoleIssuer, true
	default:
		return "", false
	}
}
