package homes

import "errors"

// Domain errors for the homes package.
var (
	// ErrNotFound is returned when a home has never synced.
	ErrNotFound = errors.New("homes: not found")

	// ErrInvalidSnapshot is returned for a sync payload that cannot be stored.
	ErrInvalidSnapshot = errors.New("homes: invalid snapshot")

	// ErrInvalidKind is returned for an unknown item kind.
	ErrInvalidKind = errors.New("homes: invalid item kind")
)
