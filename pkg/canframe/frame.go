// Package canframe encodes and decodes the 16-byte wire record the
// device uses for CAN bus frames on every transport. The codec is pure
// and stateless; it knows nothing about endpoints or retries.
//
// Record layout, both words little-endian:
//
//	word 0: packed identifier
//	        extended: address<<3 | 0x04 (extended) | 0x01 (transmit)
//	        standard: address<<21 | 0x01 (transmit)
//	word 1: bits 0-3 payload length, bits 4-11 bus index,
//	        bits 16-31 device frame counter (receive direction only)
//	bytes 8-15: payload, zero-padded
package canframe

import (
	"encoding/binary"
	"fmt"
)

// RecordSize is the fixed length of one encoded frame on the wire.
const RecordSize = 16

// MaxDataLen is the classic CAN payload limit.
const MaxDataLen = 8

// ExtendedThreshold is the first address that no longer fits in an
// 11-bit standard identifier.
const ExtendedThreshold = 0x800

// MaxAddress is the largest 29-bit extended identifier.
const MaxAddress = 1<<29 - 1

const (
	flagTransmit = 0x01
	flagExtended = 0x04
)

// Frame is one CAN bus frame. Counter is only meaningful on frames
// produced by Decode: it is the device's monotonically increasing
// 16-bit receive counter and is not encoded on transmit.
type Frame struct {
	Address  uint32
	Bus      uint8
	Data     []byte
	Extended bool
	Counter  uint16
}

// Encode packs f into its 16-byte wire record. The extended bit is set
// when the address requires it or when the caller asked for it
// explicitly; the explicit flag is honored even below the 29-bit
// threshold. Payloads above MaxDataLen and addresses above MaxAddress
// are rejected.
func Encode(f Frame) ([RecordSize]byte, error) {
	var rec [RecordSize]byte
	if len(f.Data) > MaxDataLen {
		return rec, fmt.Errorf("payload length %d exceeds %d bytes", len(f.Data), MaxDataLen)
	}
	if f.Address > MaxAddress {
		return rec, fmt.Errorf("address 0x%x exceeds 29 bits", f.Address)
	}

	var rir uint32
	if f.Extended || f.Address >= ExtendedThreshold {
		rir = f.Address<<3 | flagExtended | flagTransmit
	} else {
		rir = f.Address<<21 | flagTransmit
	}
	binary.LittleEndian.PutUint32(rec[0:4], rir)
	binary.LittleEndian.PutUint32(rec[4:8], uint32(len(f.Data))|uint32(f.Bus)<<4)
	copy(rec[8:], f.Data)
	return rec, nil
}

// Decode splits buf into consecutive 16-byte records and decodes each
// one independently. The extended flag is derived purely from the bit
// pattern. A trailing partial record (buf not a multiple of 16) is
// silently dropped; the device firmware relies on that behavior, so it
// is part of the contract rather than input validation to tighten.
func Decode(buf []byte) []Frame {
	frames := make([]Frame, 0, len(buf)/RecordSize)
	for off := 0; off+RecordSize <= len(buf); off += RecordSize {
		rec := buf[off : off+RecordSize]
		rir := binary.LittleEndian.Uint32(rec[0:4])
		info := binary.LittleEndian.Uint32(rec[4:8])

		f := Frame{
			Bus:     uint8(info >> 4),
			Counter: uint16(info >> 16),
		}
		if rir&flagExtended != 0 {
			f.Address = rir >> 3
			f.Extended = true
		} else {
			f.Address = rir >> 21
		}
		dataLen := int(info & 0xf)
		if dataLen > MaxDataLen {
			dataLen = MaxDataLen
		}
		f.Data = append([]byte(nil), rec[8:8+dataLen]...)
		frames = append(frames, f)
	}
	return frames
}
