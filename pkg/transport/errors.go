package transport

import (
	"errors"
	"fmt"
)

// Transport errors
var (
	// ErrDisconnected indicates the device vanished from the link.
	// Any error wrapping it is fatal to the connection.
	ErrDisconnected = errors.New("device disconnected")

	// ErrNoDevice indicates enumeration found no matching device.
	ErrNoDevice = errors.New("no matching device found")

	// ErrBulkTooLong indicates a tunnel bulk write above the 16-byte
	// per-call protocol limit.
	ErrBulkTooLong = errors.New("tunnel bulk write exceeds 16 bytes")
)

// IOError is a transient link failure: a stall, an overrun, or a busy
// endpoint. The transfer did not complete but the device is still there;
// the operation can be resubmitted.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("transient i/o failure during %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable transport failure.
func IsTransient(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
