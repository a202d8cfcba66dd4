package facts

import "errors"

// Domain errors for fact persistence.
var (
	ErrNotFound       = errors.New("fact not found")
	ErrDuplicate      = errors.New("fact already exists")
	ErrStale          = errors.New("fact was modified concurrently")
	ErrSourceNotFound = errors.New("fact source not found")
)
