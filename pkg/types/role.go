package types

import (
	"fmt"
	"strings"
)

// Role selects which side of a link-discovery run a query configuration
// describes.
type Role int

const (
	// RoleSource is the dataset whose geometries are matched from.
	RoleSource Role = iota + 1

	// RoleTarget is the dataset whose geometries are matched against.
	RoleTarget
)

// Roles lists every valid role in configuration order.
var Roles = []Role{RoleSource, RoleTarget}

// String returns the lower-case role name used in config files and logs.
func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleTarget:
		return "target"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r == RoleSource || r == RoleTarget
}

// ParseRole converts a role name into a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "source":
		return RoleSource, nil
	case "target":
		return RoleTarget, nil
	default:
		return 0, fmt.Errorf("%w: %q (must be source or target)", ErrInvalidRole, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
