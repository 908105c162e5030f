package utils

import (
	"errors"
	"fmt"
)

// Error kinds raised during problem setup. Call sites wrap these with context
// using fmt.Errorf("...: %w", ErrX) and callers test with errors.Is.
var (
	// ErrConfiguration reports a malformed problem description, such as a
	// non-positive extent or an odd extent when a coarser level is requested.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvariantViolation reports storage that is missing after a
	// successful allocation, or internal bookkeeping that disagrees.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrUseAfterFree reports an operation on a deallocated structure.
	ErrUseAfterFree = errors.New("use after free")
)

// Configf wraps ErrConfiguration with a formatted message
func Configf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Invariantf wraps ErrInvariantViolation with a formatted message
func Invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// UseAfterFreef wraps ErrUseAfterFree with a formatted message
func UseAfterFreef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUseAfterFree, fmt.Sprintf(format, args...))
}

// Must panics on a non-nil error. Setup failures are fatal at the point of
// detection, so drivers use this instead of threading partial hierarchies.
func Must(err error) {
	if err != nil {
		panic(err)
	}
}
