package pkg

import (
	"errors"
	"fmt"
)

// Sentinel errors for the device collaborators. Callers classify failures with
// errors.Is; wrapped variants carry call-site context.
var (
	// ErrDeviceUnreachable covers timeouts, connection refusals and malformed
	// responses from the device API. Transient: retried on the next tick.
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrAuthExpired indicates the device session token is no longer valid.
	// Transient: the client re-authenticates and the next tick retries.
	ErrAuthExpired = errors.New("device session expired")

	// ErrUnsupportedBand indicates the device rejected a requested band. The
	// band is excluded from the current campaign only, never permanently.
	ErrUnsupportedBand = errors.New("unsupported band")
)

// IsTransient reports whether err is a single-shot I/O failure that the
// polling loop absorbs as a gap rather than a fault.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDeviceUnreachable) || errors.Is(err, ErrAuthExpired)
}

// UnsupportedBandError wraps ErrUnsupportedBand with the rejected band.
func UnsupportedBandError(band string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedBand, band)
}
