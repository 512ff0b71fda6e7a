package panda

import (
	"errors"
	"fmt"
)

// Device errors
var (
	// ErrDeviceNotFound indicates enumeration found no matching device
	// and the caller asked not to wait for one.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrReconnectFailed indicates the bounded reconnect loop exhausted
	// all attempts without the device reappearing.
	ErrReconnectFailed = errors.New("reconnect failed after all attempts")

	// ErrNotConnected indicates an operation was issued on a device
	// whose connection has been torn down.
	ErrNotConnected = errors.New("device is not connected")

	// ErrKlineEcho indicates the kline echo readback did not match the
	// transmitted bytes.
	ErrKlineEcho = errors.New("kline echo mismatch")
)

// IntegrityError is a fatal identity or state check failure: a serial
// hash that does not verify, or a flash status probe without the
// bootstub magic. It is never retried; it means either corrupted state
// or the wrong device mode, and both need a human.
type IntegrityError struct {
	What     string
	Expected []byte
	Actual   []byte
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s integrity check failed: expected %x, got %x", e.What, e.Expected, e.Actual)
}

// PreconditionError is raised before any side effect when an operation's
// entry conditions do not hold, e.g. flashing outside bootstub mode.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition not met: %s", e.Op, e.Reason)
}
