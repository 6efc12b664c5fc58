package services

import "errors"

var (
	// ErrInsufficientData is returned when too few samples or bars are
	// available. Callers treat it as "not available" and move on.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrMissingChannel is returned when a requested channel is absent.
	ErrMissingChannel = errors.New("missing channel")
	// ErrMalformedInput is returned for input that must never be simulated
	// (non-monotonic timestamps, invalid prices, bad parameters).
	ErrMalformedInput = errors.New("malformed input")
)

// IsNotAvailable reports whether err means a result could not be produced
// from the available data, as opposed to a caller error.
func IsNotAvailable(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrMissingChannel)
}
