package resolver

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField reports a record without a required field.
	ErrMissingField = errors.New("missing required field")
	// ErrDuplicateCode reports two records sharing the same code.
	ErrDuplicateCode = errors.New("duplicate code")
	// ErrInvalidRecord reports a record whose values are out of range or malformed.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrNotFound is matched by NotFoundError.
	ErrNotFound = errors.New("code not found")
	// ErrCollaboratorUnavailable wraps failures of the approximate-match or embedding capability.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrInvalidLimit reports a search limit below one.
	ErrInvalidLimit = errors.New("limit must be at least 1")
)

// LoadError describes malformed or unreadable terminology data.
type LoadError struct {
	Source string
	// Record is the 1-based row or record number, zero when the whole source failed.
	Record int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Record > 0 {
		return fmt.Sprintf("load %s: record %d: %v", e.Source, e.Record, e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func loadErrorf(source string, record int, sentinel error, format string, args ...any) *LoadError {
	return &LoadError{
		Source: source,
		Record: record,
		Err:    fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}

// NotFoundError reports a source code absent from the Lexicon.
type NotFoundError struct {
	Code string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("source code %q not found", e.Code)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
