package types

import "errors"

var (
	// ErrInvalidRole is returned when a role name is neither source nor target
	ErrInvalidRole = errors.New("invalid role")

	// ErrSchemaMismatch is returned when two tables with different column sets are concatenated
	ErrSchemaMismatch = errors.New("column sets differ")
)
