package directory

import "errors"

var (
	// ErrEntryNotFound is returned when no host is recorded for a moniker.
	ErrEntryNotFound = errors.New("directory: entry not found")

	// ErrInvalidEntry is returned when a moniker or host fails validation.
	ErrInvalidEntry = errors.New("directory: invalid entry")

	// ErrOutranked is returned when a lower-precedence source tries to
	// replace an entry, such as discovery overriding a config seed.
	ErrOutranked = errors.New("directory: entry owned by a higher-precedence source")
)
