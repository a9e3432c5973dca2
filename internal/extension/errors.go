package extension

import (
	"errors"
	"fmt"
)

// Sentinel errors for lifecycle operations.
var (
	// ErrUnknownExtension is returned for a slug the controller does not
	// track.
	ErrUnknownExtension = errors.New("unknown extension")

	// ErrActivationInFlight is returned when an activation is requested
	// for a slug whose previous activation has not finished. Requests
	// are rejected, not queued.
	ErrActivationInFlight = errors.New("activation already in flight")

	// ErrInvalidTransition is returned when an operation is not legal in
	// the extension's current lifecycle state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrQuarantined is returned when an operation targets a quarantined
	// extension without an administrator reset first.
	ErrQuarantined = errors.New("extension is quarantined")

	// ErrScanFailed is returned when the security scan found violations.
	ErrScanFailed = errors.New("security scan failed")

	// ErrControllerClosed is returned for operations after Close.
	ErrControllerClosed = errors.New("controller is closed")
)

// ManifestError reports a malformed or unsafe manifest. It is fatal to
// the install attempt and causes no state change.
type ManifestError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ManifestError) Error() string {
	return fmt.Sprintf("invalid manifest %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ManifestError) Unwrap() error {
	return e.Err
}

func manifestErr(path string, format string, args ...any) *ManifestError {
	return &ManifestError{Path: path, Err: fmt.Errorf(format, args...)}
}
