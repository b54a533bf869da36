package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed or incomplete input
	ErrValidation = errors.New("validation error")
	// ErrStaleReading marks a reading or snapshot that would move a counter backwards
	ErrStaleReading = errors.New("stale reading")
	// ErrDuplicatePeriod marks an observation older than the latest stored period
	ErrDuplicatePeriod = errors.New("duplicate period")
	// ErrAlreadyExists marks a create for a period that already has a summary
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidTimeRange marks an unknown symbolic range or an inverted window
	ErrInvalidTimeRange = errors.New("invalid time range")
	// ErrInvalidYear marks a year outside 1900..current year
	ErrInvalidYear = errors.New("invalid year")
	// ErrNotFound marks a missing summary or account
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a lost conditional write
	ErrConflict = errors.New("concurrent modification")
)

// StaleReadingError names both counter values of a rejected reading
type StaleReadingError struct {
	AccountID string
	Last      float64
	Provided  float64
	Reason    string
}

func (e *StaleReadingError) Error() string {
	return fmt.Sprintf("stale reading for account %s: %s (last recorded: %g, provided: %g)",
		e.AccountID, e.Reason, e.Last, e.Provided)
}

// Is lets errors.Is match ErrStaleReading
func (e *StaleReadingError) Is(target error) bool {
	return target == ErrStaleReading
}

// Validationf builds an ErrValidation with context
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
