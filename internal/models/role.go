package models

import "strings"

// Role is a privilege tier inside a single family.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleAdult Role = "ADULT"
	RoleChild Role = "CHILD"
)

// rank orders roles for authorization. Unknown roles rank zero.
func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleAdult:
		return 2
	case RoleChild:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r.rank() > 0
}

// HasAtLeast reports whether r grants at least the privileges of minimum.
// An unknown role never satisfies any minimum, and no role satisfies an unknown minimum.
func (r Role) HasAtLeast(minimum Role) bool {
	if !r.Valid() || !minimum.Valid() {
		return false
	}
	return r.rank() >= minimum.rank()
}

func (r Role) String() string {
	return string(r)
}

// ParseRole converts user input to a Role, ignoring case and surrounding whitespace.
func ParseRole(s string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", false
	}
	return role, true
}
