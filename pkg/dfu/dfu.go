// Package dfu talks to the ST system bootloader, the last-resort
// recovery path when neither firmware stage will enumerate. It defines
// the client contract, the serial-number mapping between USB space and
// DFU space, and a USB implementation that rewrites the bootstub.
package dfu

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// McuType is the microcontroller family of a device, derived from its
// hardware type. The DFU serial derivation differs per family.
type McuType int

const (
	McuUnknown McuType = iota
	McuF2
	McuF4
	McuH7
)

func (m McuType) String() string {
	switch m {
	case McuF2:
		return "F2"
	case McuF4:
		return "F4"
	case McuH7:
		return "H7"
	}
	return "unknown"
}

// Client is the external DFU component. List enumerates the DFU-space
// serials of devices currently stuck in the bootloader; Recover drives
// a raw bootstub write to the named one.
type Client interface {
	List() ([]string, error)
	Recover(serial string) error
}

// SerialFromUSB derives the serial a device will present in DFU mode
// from the serial it presents in normal operation. The USB serial is
// the MCU's 96-bit unique ID as 12 hex-encoded bytes; the bootloader
// reports a folded form of the same ID.
func SerialFromUSB(usbSerial string, mcu McuType) (string, error) {
	raw, err := hex.DecodeString(usbSerial)
	if err != nil || len(raw) != 12 {
		return "", fmt.Errorf("malformed USB serial %q", usbSerial)
	}

	var uid [6]uint16
	for i := range uid {
		uid[i] = binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
	}

	var folded [3]uint16
	folded[0] = uid[1] + uid[5]
	folded[1] = uid[0] + uid[4]
	folded[2] = uid[3]
	if mcu != McuH7 {
		folded[1] += 0xa
	}

	out := make([]byte, 6)
	binary.BigEndian.PutUint16(out[0:2], folded[0])
	binary.BigEndian.PutUint16(out[2:4], folded[1])
	binary.BigEndian.PutUint16(out[4:6], folded[2])
	return strings.ToUpper(hex.EncodeToString(out)), nil
}
