// Package transport abstracts the point-to-point byte channel to a panda
// device. Two implementations exist: direct USB (gousb) and a TCP tunnel
// used when the device is reached over WiFi. Everything above this package
// talks to the Handle interface and never knows which variant is active.
package transport

import "time"

// Handle is the capability contract every transport variant satisfies.
// All operations block until the transfer completes or the timeout fires.
// A timeout of zero means the variant's default.
//
// Failures are either transient (an *IOError: link busy, stall, overrun)
// or fatal (wrapping ErrDisconnected: the device is gone). Callers decide
// retry policy; the transport itself never retries.
type Handle interface {
	// ControlWrite performs a control transfer carrying data to the device.
	ControlWrite(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)

	// ControlRead performs a control transfer reading up to length bytes.
	// The returned slice holds exactly the bytes the device produced,
	// which may be shorter than length.
	ControlRead(requestType, request uint8, value, index uint16, length int, timeout time.Duration) ([]byte, error)

	// BulkWrite writes data to an OUT endpoint and reports how many bytes
	// the device accepted. A short count without error is a partial write;
	// the caller resubmits the remainder.
	BulkWrite(endpoint uint8, data []byte, timeout time.Duration) (int, error)

	// BulkRead reads up to length bytes from an IN endpoint.
	BulkRead(endpoint uint8, length int, timeout time.Duration) ([]byte, error)

	// Close releases the underlying channel. The handle is unusable after.
	Close() error
}

// USB request type bytes for vendor transfers, device recipient.
const (
	RequestTypeIn  = 0xc0 // device to host
	RequestTypeOut = 0x40 // host to device
)

// DefaultTimeout applies when a caller passes a zero timeout.
const DefaultTimeout = 1000 * time.Millisecond
