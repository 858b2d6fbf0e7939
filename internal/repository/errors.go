package repository

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when a transition commit carries a
	// stale version token. Never resolved by overwriting.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicateSlug is returned when a consent type slug already exists.
	ErrDuplicateSlug = errors.New("consent type slug already exists")
)
