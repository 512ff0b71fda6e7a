package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Defaults for the WiFi-attached device.
const (
	WifiAddr = "192.168.0.10:1337"

	// WifiBulkLimit is the per-call payload cap of the tunnel protocol.
	// Larger writes must be chunked by the caller.
	WifiBulkLimit = 16
)

// Wifi tunnels the four transfer primitives over a single TCP socket.
//
// Request wire format, all fields little-endian:
//
//	uint16 reserved (0), uint16 reserved (0),
//	uint8 requestType, uint8 request,
//	uint16 value, uint16 index, uint16 expected length,
//	payload
//
// Bulk transfers use a short form: uint16 endpoint, uint16 length, payload.
// Every request is answered with a uint32 little-endian length prefix
// followed by that many bytes.
type Wifi struct {
	conn net.Conn
}

// DialWifi connects the tunnel. addr may be empty for the default.
func DialWifi(addr string) (*Wifi, error) {
	if addr == "" {
		addr = WifiAddr
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial tunnel %s: %w", addr, err)
	}
	return &Wifi{conn: conn}, nil
}

// NewWifi wraps an already-established connection. Used by tests.
func NewWifi(conn net.Conn) *Wifi {
	return &Wifi{conn: conn}
}

// ControlWrite implements Handle. The tunnel carries no payload on
// control writes; the device ignores it, so it is sent as a zero-length
// control read.
func (w *Wifi) ControlWrite(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	_, err := w.ControlRead(requestType, request, value, index, 0, timeout)
	return len(data), err
}

// ControlRead implements Handle.
func (w *Wifi) ControlRead(requestType, request uint8, value, index uint16, length int, timeout time.Duration) ([]byte, error) {
	hdr := make([]byte, 12)
	// reserved uint16 pair stays zero
	hdr[4] = requestType
	hdr[5] = request
	binary.LittleEndian.PutUint16(hdr[6:8], value)
	binary.LittleEndian.PutUint16(hdr[8:10], index)
	binary.LittleEndian.PutUint16(hdr[10:12], uint16(length))
	return w.roundTrip(hdr, timeout)
}

// BulkWrite implements Handle. Writes above WifiBulkLimit are rejected
// to match the tunnel protocol.
func (w *Wifi) BulkWrite(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	if len(data) > WifiBulkLimit {
		return 0, ErrBulkTooLong
	}
	req := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint16(req[0:2], uint16(endpoint))
	binary.LittleEndian.PutUint16(req[2:4], uint16(len(data)))
	copy(req[4:], data)
	if _, err := w.roundTrip(req, timeout); err != nil {
		return 0, err
	}
	return len(data), nil
}

// BulkRead implements Handle.
func (w *Wifi) BulkRead(endpoint uint8, length int, timeout time.Duration) ([]byte, error) {
	req := make([]byte, 4)
	binary.LittleEndian.PutUint16(req[0:2], uint16(endpoint))
	return w.roundTrip(req, timeout)
}

// Close implements Handle.
func (w *Wifi) Close() error {
	return w.conn.Close()
}

func (w *Wifi) roundTrip(req []byte, timeout time.Duration) ([]byte, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if err := w.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("tunnel deadline: %w", err)
	}
	if _, err := w.conn.Write(req); err != nil {
		return nil, classifyNetError("tunnel write", err)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(w.conn, lenBuf[:]); err != nil {
		return nil, classifyNetError("tunnel read", err)
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(w.conn, payload); err != nil {
		return nil, classifyNetError("tunnel read", err)
	}
	return payload, nil
}

// classifyNetError maps socket failures onto the transport taxonomy.
// A timeout is transient; a closed or reset connection means the link
// to the device is gone.
func classifyNetError(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &IOError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %v: %w", op, err, ErrDisconnected)
}
