// internal/device/errors.go
package device

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnreachable indicates the adb transport lost contact with the
	// device. This is fatal for the task that owns the session: no further
	// dispatch is possible.
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrCaptureTimeout indicates a UI state capture stalled. Callers retry
	// with backoff, bounded by the configured maximum attempt count.
	ErrCaptureTimeout = errors.New("ui capture timed out")

	// ErrSessionClosed is returned when an operation is attempted on a session
	// that has already been released.
	ErrSessionClosed = errors.New("device session closed")
)

// DispatchRejectedError reports a malformed action, such as tap coordinates
// outside the captured screen bounds. It is an input error, recoverable by
// re-deriving the action, and never signals transport loss.
type DispatchRejectedError struct {
	Reason string
}

func (e *DispatchRejectedError) Error() string {
	return fmt.Sprintf("dispatch rejected: %s", e.Reason)
}

// rejectedf builds a DispatchRejectedError from a format string.
func rejectedf(format string, args ...interface{}) error {
	return &DispatchRejectedError{Reason: fmt.Sprintf(format, args...)}
}

// IsDispatchRejected reports whether err is (or wraps) a rejection.
func IsDispatchRejected(err error) bool {
	var dr *DispatchRejectedError
	return errors.As(err, &dr)
}
