package panda

import (
	"bytes"
	"fmt"

	"github.com/herlein/gopanda/pkg/transport"
)

// SerialRead drains a multiplexed serial port's device-side buffer:
// repeated 64-byte control reads until a zero-length reply signals the
// buffer is empty.
func (d *Device) SerialRead(port uint16) ([]byte, error) {
	out := []byte{}
	for {
		chunk, err := d.controlRead(ReqSerialRead, port, 0, serialReadChunk)
		if err != nil {
			return nil, fmt.Errorf("serial read port %d: %w", port, err)
		}
		if len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
	}
}

// SerialWrite sends data to a multiplexed serial port. Each bulk write
// carries the port number as a leading byte followed by up to 32 bytes
// of payload. Returns the number of payload bytes accepted.
func (d *Device) SerialWrite(port uint8, data []byte) (int, error) {
	if d.handle == nil {
		return 0, ErrNotConnected
	}
	written := 0
	for off := 0; off < len(data); off += serialWriteChunk {
		end := off + serialWriteChunk
		if end > len(data) {
			end = len(data)
		}
		packet := append([]byte{port}, data[off:end]...)
		n, err := d.handle.BulkWrite(transport.EndpointSerial, packet, 0)
		if err != nil {
			return written, fmt.Errorf("serial write port %d: %w", port, err)
		}
		if n > 0 {
			written += n - 1 // don't count the port byte
		}
	}
	return written, nil
}

// SerialClear drains both ring buffers of a serial port as though they
// had been read.
func (d *Device) SerialClear(port uint16) error {
	return d.controlWrite(ReqSerialClear, port, 0)
}

// klineLineSelect encodes which diagnostic lines an operation drives.
func klineLineSelect(op string, k, l bool) (uint16, error) {
	if !k && !l {
		return 0, &PreconditionError{Op: op, Reason: "neither k-line nor l-line selected"}
	}
	if k && l {
		return 2, nil
	}
	if l {
		return 1, nil
	}
	return 0, nil
}

// KlineWakeup pulses the selected diagnostic lines low to wake the
// target ECU.
func (d *Device) KlineWakeup(k, l bool) error {
	sel, err := klineLineSelect("kline wakeup", k, l)
	if err != nil {
		return err
	}
	return d.controlWrite(ReqKlineWakeup, sel, 0)
}

// Kline5Baud performs a 5-baud initialization toward the given target
// address on the selected lines.
func (d *Device) Kline5Baud(addr uint16, k, l bool) error {
	sel, err := klineLineSelect("kline 5 baud", k, l)
	if err != nil {
		return err
	}
	return d.controlWrite(ReqKline5Baud, sel, addr)
}

// KlineDrain empties the kline receive buffer and returns whatever was
// pending.
func (d *Device) KlineDrain(bus uint16) ([]byte, error) {
	out := []byte{}
	for {
		chunk, err := d.controlRead(ReqSerialRead, bus, 0, serialReadChunk)
		if err != nil {
			return nil, fmt.Errorf("kline drain bus %d: %w", bus, err)
		}
		if len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
	}
}

// klineLowLevelRecv blocks until exactly count echoed bytes arrive.
func (d *Device) klineLowLevelRecv(count int, bus uint16) ([]byte, error) {
	echo := []byte{}
	for len(echo) < count {
		chunk, err := d.controlRead(ReqSerialRead, bus, 0, count-len(echo))
		if err != nil {
			return nil, fmt.Errorf("kline recv bus %d: %w", bus, err)
		}
		echo = append(echo, chunk...)
	}
	return echo, nil
}

// KlineSend transmits a kline message on the given bus, optionally
// appending the one-byte modular checksum. The single-wire bus echoes
// every transmitted byte; each chunk's echo is read back and verified,
// and a mismatch fails with ErrKlineEcho.
func (d *Device) KlineSend(msg []byte, bus uint16, checksum bool) error {
	if d.handle == nil {
		return ErrNotConnected
	}
	if _, err := d.KlineDrain(bus); err != nil {
		return err
	}
	if checksum {
		msg = append(append([]byte{}, msg...), klineChecksum(msg))
	}
	for off := 0; off < len(msg); off += klineChunk {
		end := off + klineChunk
		if end > len(msg) {
			end = len(msg)
		}
		chunk := msg[off:end]
		packet := append([]byte{byte(bus)}, chunk...)
		if _, err := d.handle.BulkWrite(transport.EndpointSerial, packet, 0); err != nil {
			return fmt.Errorf("kline send bus %d: %w", bus, err)
		}
		echo, err := d.klineLowLevelRecv(len(chunk), bus)
		if err != nil {
			return err
		}
		if !bytes.Equal(echo, chunk) {
			return fmt.Errorf("bus %d offset %d: sent %x, echoed %x: %w", bus, off, chunk, echo, ErrKlineEcho)
		}
	}
	return nil
}

// KlineRecv reads one kline message: a fixed-length header whose last
// byte is the payload length, then the payload plus its checksum byte.
func (d *Device) KlineRecv(bus uint16, headerLen int) ([]byte, error) {
	if headerLen < 1 {
		return nil, &PreconditionError{Op: "kline recv", Reason: "header length must be at least 1"}
	}
	msg, err := d.klineLowLevelRecv(headerLen, bus)
	if err != nil {
		return nil, err
	}
	body, err := d.klineLowLevelRecv(int(msg[len(msg)-1])+1, bus)
	if err != nil {
		return nil, err
	}
	return append(msg, body...), nil
}

func klineChecksum(msg []byte) byte {
	var sum int
	for _, b := range msg {
		sum += int(b)
	}
	return byte(sum % 0x100)
}
