// Package panda drives the panda CAN interface over a transport.Handle:
// it maps every device capability onto its control-transfer request code
// or bulk endpoint, and owns the connect / reset / flash / recover state
// machine that survives a physically unreliable link.
package panda

import (
	"errors"
	"fmt"
	"time"

	"github.com/herlein/gopanda/pkg/dfu"
	"github.com/herlein/gopanda/pkg/transport"
)

// ConnectionState is where the connection currently stands in the
// firmware stack. Only the recovery paths in this file mutate it.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	ConnectedApplication
	ConnectedBootstub
	BootloaderDFU
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectedApplication:
		return "application"
	case ConnectedBootstub:
		return "bootstub"
	case BootloaderDFU:
		return "dfu"
	}
	return "disconnected"
}

// Outcome classifies a best-effort recovery step so callers inspect the
// result instead of relying on suppressed failures.
type Outcome int

const (
	Recovered Outcome = iota
	RetryableFailure
	FatalFailure
)

func (o Outcome) String() string {
	switch o {
	case Recovered:
		return "recovered"
	case RetryableFailure:
		return "retryable failure"
	}
	return "fatal failure"
}

// DeviceInfo describes one enumerated device without opening it.
type DeviceInfo struct {
	Serial   string
	Bootstub bool
}

// Discover enumerates connected devices. The scan is the only side
// effect; nothing is claimed or opened afterwards.
func Discover() ([]DeviceInfo, error) {
	usbInfos, err := transport.ListUSB()
	if err != nil {
		return nil, err
	}
	infos := make([]DeviceInfo, 0, len(usbInfos))
	for _, ui := range usbInfos {
		infos = append(infos, DeviceInfo{Serial: ui.Serial, Bootstub: ui.Bootstub})
	}
	return infos, nil
}

// Device is one exclusively-owned connection to a panda. All operations
// are synchronous and blocking; concurrent use from multiple goroutines
// must be serialized by the caller.
type Device struct {
	cfg    config
	handle transport.Handle
	serial string
	wifi   bool
	state  ConnectionState
	hwType HardwareType
	mcu    dfu.McuType
}

// Open discovers, connects and identifies a device. With no options it
// opens the first USB match; see the With* options for serial
// filtering, the WiFi tunnel, retry policies, logging and DFU.
func Open(opts ...Option) (*Device, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	d := &Device{cfg: cfg, state: Disconnected}
	if err := d.Connect(false); err != nil {
		return nil, err
	}
	return d, nil
}

// Connect establishes the transport and binds the connection state to
// whichever firmware stage answered. When wait is true, enumeration is
// polled indefinitely until a match appears; otherwise a missing device
// fails immediately with ErrDeviceNotFound.
func (d *Device) Connect(wait bool) error {
	if d.handle != nil {
		d.Close()
	}

	if d.cfg.wifi {
		tunnel, err := transport.DialWifi(d.cfg.wifiAddr)
		if err != nil {
			return err
		}
		d.handle = tunnel
		d.wifi = true
		d.serial = d.cfg.serial
		d.state = ConnectedApplication
		d.cfg.logger.Info("connected over wifi tunnel")
	} else {
		for {
			handle, serial, bootstub, err := d.cfg.open(d.cfg.serial)
			if err == nil {
				d.handle = handle
				d.serial = serial
				if bootstub {
					d.state = ConnectedBootstub
				} else {
					d.state = ConnectedApplication
				}
				break
			}
			if !errors.Is(err, transport.ErrNoDevice) {
				return fmt.Errorf("failed to open device: %w", err)
			}
			if !wait {
				return ErrDeviceNotFound
			}
			time.Sleep(d.cfg.scanInterval)
		}
		d.cfg.logger.Info("connected", "serial", d.serial, "state", d.state.String())
	}

	// Bind the immutable identity. The hardware type query works in
	// both firmware stages, and recovery needs the MCU family to derive
	// the right DFU-space serial, so an unidentifiable device is not a
	// usable connection.
	hwType, err := d.GetHardwareType()
	if err != nil {
		d.Close()
		return fmt.Errorf("failed to identify device: %w", err)
	}
	d.hwType = hwType
	d.mcu = McuFor(hwType)
	return nil
}

// McuFor maps a hardware type to its MCU family.
func McuFor(hw HardwareType) dfu.McuType {
	switch hw {
	case HwPedal:
		return dfu.McuF2
	case HwWhite, HwGrey, HwBlack, HwUno, HwDos:
		return dfu.McuF4
	case HwRed:
		return dfu.McuH7
	}
	return dfu.McuUnknown
}

// Serial returns the device-assigned USB serial bound at connect time.
func (d *Device) Serial() string { return d.serial }

// State returns the current connection state.
func (d *Device) State() ConnectionState { return d.state }

// IsWifi reports whether the connection runs over the TCP tunnel.
func (d *Device) IsWifi() bool { return d.wifi }

// Hardware returns the board revision bound at connect time.
func (d *Device) Hardware() HardwareType { return d.hwType }

// Mcu returns the MCU family derived from the hardware type.
func (d *Device) Mcu() dfu.McuType { return d.mcu }

// Close tears the connection down. The Device can be reused via Connect.
func (d *Device) Close() error {
	if d.handle == nil {
		return nil
	}
	err := d.handle.Close()
	d.handle = nil
	d.state = Disconnected
	return err
}

// Reset reboots the device. enterBootstub reboots into the first-stage
// flasher, enterBootloader into the DFU bootloader. A bootloader entry
// leaves the connection torn down for external DFU discovery; the other
// paths reconnect with bounded retry. The reset write itself is
// best-effort: the device may drop off the bus before acknowledging.
func (d *Device) Reset(enterBootstub, enterBootloader bool) error {
	if d.handle == nil {
		return ErrNotConnected
	}

	var err error
	switch {
	case enterBootloader:
		_, err = d.handle.ControlWrite(transport.RequestTypeIn, ReqEnterBootMode, 0, 0, nil, 0)
	case enterBootstub:
		_, err = d.handle.ControlWrite(transport.RequestTypeIn, ReqEnterBootMode, 1, 0, nil, 0)
	default:
		_, err = d.handle.ControlWrite(transport.RequestTypeIn, ReqReset, 0, 0, nil, 0)
	}
	if err != nil {
		d.cfg.logger.Debug("reset write not acknowledged", "err", err)
	}

	if enterBootloader {
		d.Close()
		d.state = BootloaderDFU
		return nil
	}
	return d.Reconnect()
}

// Reconnect closes the connection and retries Connect under the
// configured reconnect policy. Each failed attempt first tries a
// best-effort DFU recovery, whose own failure never aborts the loop;
// its outcome is logged so nothing is silently lost. Exhausting the
// policy is fatal.
func (d *Device) Reconnect() error {
	d.Close()
	time.Sleep(d.cfg.reconnect.Backoff(0))

	for attempt := 1; d.cfg.reconnect.MaxAttempts <= 0 || attempt <= d.cfg.reconnect.MaxAttempts; attempt++ {
		if err := d.Connect(false); err == nil {
			return nil
		}
		d.cfg.logger.Info("reconnecting", "attempt", attempt)

		outcome := d.tryDFURecover()
		d.cfg.logger.Debug("recovery attempt", "outcome", outcome.String())

		time.Sleep(d.cfg.reconnect.Backoff(attempt))
	}
	return ErrReconnectFailed
}

// tryDFURecover derives the DFU-space serial of this device and asks
// the external DFU client to recover it. It reports how the attempt
// went but never fails the caller.
func (d *Device) tryDFURecover() Outcome {
	if d.cfg.dfuClient == nil || d.serial == "" {
		return RetryableFailure
	}
	dfuSerial, err := dfu.SerialFromUSB(d.serial, d.mcu)
	if err != nil {
		d.cfg.logger.Debug("dfu serial derivation failed", "err", err)
		return FatalFailure
	}
	if err := d.cfg.dfuClient.Recover(dfuSerial); err != nil {
		d.cfg.logger.Debug("dfu recover failed", "serial", dfuSerial, "err", err)
		return RetryableFailure
	}
	return Recovered
}

// controlWrite issues a zero-payload OUT control transfer, the shape of
// almost every configuration setter.
func (d *Device) controlWrite(request uint8, value, index uint16) error {
	if d.handle == nil {
		return ErrNotConnected
	}
	_, err := d.handle.ControlWrite(transport.RequestTypeOut, request, value, index, nil, 0)
	if err != nil {
		return fmt.Errorf("control 0x%02x: %w", request, err)
	}
	return nil
}

// controlRead issues an IN control transfer of up to length bytes.
func (d *Device) controlRead(request uint8, value, index uint16, length int) ([]byte, error) {
	if d.handle == nil {
		return nil, ErrNotConnected
	}
	dat, err := d.handle.ControlRead(transport.RequestTypeIn, request, value, index, length, 0)
	if err != nil {
		return nil, fmt.Errorf("control 0x%02x: %w", request, err)
	}
	return dat, nil
}
