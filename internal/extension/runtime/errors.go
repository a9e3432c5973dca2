package runtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for executor lifecycle.
var (
	// ErrExecutorClosed is returned when a call is submitted after the
	// executor shut down.
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrNoSuchFunction is returned when the extension does not define
	// the requested global function.
	ErrNoSuchFunction = errors.New("extension does not define function")
)

// ExtensionError wraps a failure that originated inside extension code,
// attributing it to the extension so host-level handling can log and
// contain it without treating it as a host fault.
type ExtensionError struct {
	Slug string
	Err  error
}

// Error implements the error interface.
func (e *ExtensionError) Error() string {
	return fmt.Sprintf("extension %q: %v", e.Slug, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExtensionError) Unwrap() error {
	return e.Err
}

// wrapExtension attributes an error to the extension, passing nil
// through unchanged.
func wrapExtension(slug string, err error) error {
	if err == nil {
		return nil
	}
	return &ExtensionError{Slug: slug, Err: err}
}
