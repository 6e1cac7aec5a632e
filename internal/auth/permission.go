// Package auth provides token issuance and verification, the role
// hierarchy, account persistence, and live identity resolution.
package auth

import "errors"

// Role is a caller privilege level. Roles form a strict hierarchy:
// guest < player < operator.
type Role int

const (
	// RoleGuest is an unauthenticated caller.
	RoleGuest Role = iota
	// RolePlayer is an authenticated player.
	RolePlayer
	// RoleOperator is a privileged administrator or trusted service.
	RoleOperator
)

// String returns the lowercase role name.
func (r Role) String() string {
	switch r {
	case RoleGuest:
		return "guest"
	case RolePlayer:
		return "player"
	case RoleOperator:
		return "operator"
	}
	return "unknown"
}

// ParseRole converts a role name to a Role.
//
// Postcondition: Returns the Role, or ErrInvalidRole for unknown names.
func ParseRole(name string) (Role, error) {
	switch name {
	case "guest":
		return RoleGuest, nil
	case "player":
		return RolePlayer, nil
	case "operator":
		return RoleOperator, nil
	}
	return RoleGuest, ErrInvalidRole
}

// ErrInvalidRole is returned when an unrecognised role name is supplied.
var ErrInvalidRole = errors.New("invalid role")

// CheckPermission reports whether actual satisfies required.
// Operator-required operations accept only operators; lower
// requirements accept any role at or above them.
func CheckPermission(required, actual Role) bool {
	return actual >= required
}
