package panda

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"time"
)

// GetVersion returns the firmware version string of whichever stage is
// running.
func (d *Device) GetVersion() (string, error) {
	dat, err := d.controlRead(ReqVersion, 0, 0, 0x40)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(dat, 0); i >= 0 {
		dat = dat[:i]
	}
	return string(dat), nil
}

// GetHardwareType queries the board revision byte.
func (d *Device) GetHardwareType() (HardwareType, error) {
	dat, err := d.controlRead(ReqHwType, 0, 0, 0x40)
	if err != nil {
		return HwUnknown, err
	}
	if len(dat) < 1 {
		return HwUnknown, fmt.Errorf("empty hardware type reply")
	}
	hw := HardwareType(dat[0])
	switch hw {
	case HwWhite, HwGrey, HwBlack, HwPedal, HwUno, HwDos, HwRed:
		return hw, nil
	}
	return HwUnknown, nil
}

// GetDeviceSerial reads the flash-stored serial pair and verifies its
// integrity tag: the last 4 bytes of the 32-byte reply must equal the
// first 4 bytes of the SHA-1 digest of the preceding 28. A mismatch is
// fatal, never retried.
func (d *Device) GetDeviceSerial() (serial, paired string, err error) {
	dat, err := d.controlRead(ReqSerial, 0, 0, 0x20)
	if err != nil {
		return "", "", err
	}
	if len(dat) != 0x20 {
		return "", "", fmt.Errorf("serial reply is %d bytes, want 32", len(dat))
	}
	if err := verifySerial(dat); err != nil {
		return "", "", err
	}
	return string(dat[0:0x10]), string(dat[0x10 : 0x10+10]), nil
}

// verifySerial checks the SHA-1 tag on a 32-byte serial reply.
func verifySerial(dat []byte) error {
	digest := sha1.Sum(dat[0:0x1c])
	if !bytes.Equal(dat[0x1c:0x20], digest[0:4]) {
		return &IntegrityError{What: "serial", Expected: digest[0:4], Actual: dat[0x1c:0x20]}
	}
	return nil
}

// GetSecret reads the 16-byte device secret.
func (d *Device) GetSecret() ([]byte, error) {
	return d.controlRead(ReqSerial, 1, 0, 0x10)
}

// GetSignature reads back the 128-byte signature of the flashed
// firmware, in two 64-byte halves.
func (d *Device) GetSignature() ([]byte, error) {
	part1, err := d.controlRead(ReqSignature1, 0, 0, 0x40)
	if err != nil {
		return nil, err
	}
	part2, err := d.controlRead(ReqSignature2, 0, 0, 0x40)
	if err != nil {
		return nil, err
	}
	return append(part1, part2...), nil
}

// SetSafetyMode selects the in-firmware safety policy. Unless the
// caller opts out via disableChecks=false, heartbeat enforcement and
// power save are also switched off: changing modes outside the normal
// heartbeat loop must not trip the watchdog.
func (d *Device) SetSafetyMode(mode SafetyMode, disableChecks bool) error {
	if err := d.controlWrite(ReqSafetyMode, uint16(mode), 0); err != nil {
		return err
	}
	if disableChecks {
		if err := d.SetHeartbeatDisabled(); err != nil {
			return err
		}
		if err := d.SetPowerSave(false); err != nil {
			return err
		}
	}
	return nil
}

// SendHeartbeat tells the firmware the host is alive. Also re-enables
// heartbeat enforcement if it was disabled.
func (d *Device) SendHeartbeat() error {
	return d.controlWrite(ReqHeartbeat, 0, 0)
}

// SetHeartbeatDisabled switches heartbeat enforcement off until the
// next heartbeat arrives.
func (d *Device) SetHeartbeatDisabled() error {
	return d.controlWrite(ReqDisableHeartbeat, 0, 0)
}

// SetUsbPower toggles downstream USB power.
func (d *Device) SetUsbPower(on bool) error {
	return d.controlWrite(ReqUsbPower, boolVal(on), 0)
}

// SetPowerSave toggles the firmware's power-save state.
func (d *Device) SetPowerSave(enabled bool) error {
	return d.controlWrite(ReqPowerSave, boolVal(enabled), 0)
}

// SetEspPower toggles power to the on-board WiFi/GPS module.
func (d *Device) SetEspPower(on bool) error {
	return d.controlWrite(ReqEspPower, boolVal(on), 0)
}

// EspReset pulses the module reset line. bootMode selects its boot
// strap.
func (d *Device) EspReset(bootMode uint16) error {
	if err := d.controlWrite(ReqEspReset, bootMode, 0); err != nil {
		return err
	}
	time.Sleep(200 * time.Millisecond)
	return nil
}

// SetCanSpeed configures the nominal bit rate of a bus in kbps.
func (d *Device) SetCanSpeed(bus uint16, kbps float64) error {
	return d.controlWrite(ReqCanSpeed, bus, uint16(kbps*10))
}

// SetCanDataSpeed configures the CAN FD data-phase bit rate of a bus in
// kbps.
func (d *Device) SetCanDataSpeed(bus uint16, kbps float64) error {
	return d.controlWrite(ReqCanDataSpeed, bus, uint16(kbps*10))
}

// SetCanLoopback switches loopback mode for all buses.
func (d *Device) SetCanLoopback(enable bool) error {
	return d.controlWrite(ReqCanLoopback, boolVal(enable), 0)
}

// SetCanEnable drives a bus transceiver's enable pin.
func (d *Device) SetCanEnable(bus uint16, enable bool) error {
	return d.controlWrite(ReqCanEnable, bus, boolVal(enable))
}

// SetCanForwarding mirrors traffic from one bus onto another.
func (d *Device) SetCanForwarding(fromBus, toBus uint16) error {
	return d.controlWrite(ReqCanForwarding, fromBus, toBus)
}

// SetObd switches the OBD-II port multiplexer.
func (d *Device) SetObd(obd bool) error {
	return d.controlWrite(ReqObdMux, boolVal(obd), 0)
}

// SetGmlan routes the GMLAN transceiver to the given bus, or detaches
// it when bus is 0.
func (d *Device) SetGmlan(bus uint16) error {
	if bus == 0 {
		return d.controlWrite(ReqObdMux, 0, 0)
	}
	if bus != GmlanCan2 && bus != GmlanCan3 {
		return &PreconditionError{Op: "set gmlan", Reason: fmt.Sprintf("bus %d has no GMLAN transceiver", bus)}
	}
	return d.controlWrite(ReqObdMux, 1, bus)
}

// SetUartBaud configures a UART's baud rate.
func (d *Device) SetUartBaud(uart uint16, rate int) error {
	return d.controlWrite(ReqUartBaud, uart, uint16(rate/300))
}

// SetUartParity configures a UART's parity: 0 off, 1 even, 2 odd.
func (d *Device) SetUartParity(uart, parity uint16) error {
	return d.controlWrite(ReqUartParity, uart, parity)
}

// SetUartCallback installs or removes the firmware-side UART handler.
func (d *Device) SetUartCallback(uart uint16, install bool) error {
	return d.controlWrite(ReqUartCallback, uart, boolVal(install))
}

// SetClockSourceMode configures the timing output mode.
func (d *Device) SetClockSourceMode(mode uint16) error {
	return d.controlWrite(ReqClockSource, mode, 0)
}

// SetIrPower sets infrared LED output, 0-100 percent.
func (d *Device) SetIrPower(percentage uint16) error {
	return d.controlWrite(ReqIrPower, percentage, 0)
}

// SetFanPower sets fan output, 0-100 percent.
func (d *Device) SetFanPower(percentage uint16) error {
	return d.controlWrite(ReqFanPower, percentage, 0)
}

// GetFanRpm reads the measured fan speed.
func (d *Device) GetFanRpm() (uint16, error) {
	dat, err := d.controlRead(ReqFanRpm, 0, 0, 2)
	if err != nil {
		return 0, err
	}
	if len(dat) < 2 {
		return 0, fmt.Errorf("short fan rpm reply")
	}
	return binary.LittleEndian.Uint16(dat[0:2]), nil
}

// SetPhonePower toggles power to the phone connector.
func (d *Device) SetPhonePower(enabled bool) error {
	return d.controlWrite(ReqPhonePower, boolVal(enabled), 0)
}

// SetSiren toggles the siren.
func (d *Device) SetSiren(enabled bool) error {
	return d.controlWrite(ReqSiren, boolVal(enabled), 0)
}

// SetGreenLed toggles the debug LED.
func (d *Device) SetGreenLed(enabled bool) error {
	return d.controlWrite(ReqGreenLed, boolVal(enabled), 0)
}

// GetRTC reads the device's real-time clock.
func (d *Device) GetRTC() (time.Time, error) {
	dat, err := d.controlRead(ReqRtcGet, 0, 0, 8)
	if err != nil {
		return time.Time{}, err
	}
	if len(dat) != 8 {
		return time.Time{}, fmt.Errorf("rtc reply is %d bytes, want 8", len(dat))
	}
	year := int(binary.LittleEndian.Uint16(dat[0:2]))
	// dat[4] is the weekday, redundant with the date
	return time.Date(year, time.Month(dat[2]), int(dat[3]),
		int(dat[5]), int(dat[6]), int(dat[7]), 0, time.UTC), nil
}

// SetRTC writes the device's real-time clock, one field per transfer.
func (d *Device) SetRTC(t time.Time) error {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // ISO weekday, Monday = 1
	}
	fields := []struct {
		req   uint8
		value uint16
	}{
		{ReqRtcYear, uint16(t.Year())},
		{ReqRtcMonth, uint16(t.Month())},
		{ReqRtcDay, uint16(t.Day())},
		{ReqRtcWeekday, uint16(weekday)},
		{ReqRtcHour, uint16(t.Hour())},
		{ReqRtcMinute, uint16(t.Minute())},
		{ReqRtcSecond, uint16(t.Second())},
	}
	for _, f := range fields {
		if err := d.controlWrite(f.req, f.value, 0); err != nil {
			return err
		}
	}
	return nil
}

func boolVal(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
