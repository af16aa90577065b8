package toggle

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingReference marks a master identifier that resolved to nothing.
	ErrMissingReference = errors.New("missing reference")

	// ErrMalformedSelector marks a selector the query mechanism rejected.
	ErrMalformedSelector = errors.New("malformed selector")
)

// MissingMasterError is returned when no element carries the master identifier.
type MissingMasterError struct {
	ID string
}

func (e *MissingMasterError) Error() string {
	return fmt.Sprintf("no element with id %q", e.ID)
}

func (e *MissingMasterError) Unwrap() error {
	return ErrMissingReference
}

// SelectorError is returned by Tree implementations when a selector does not
// parse. Err carries the query engine's own diagnostic.
type SelectorError struct {
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid selector %q", e.Selector)
	}
	return fmt.Sprintf("invalid selector %q: %v", e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedSelector}
	}
	return []error{ErrMalformedSelector, e.Err}
}
