package panda

import (
	"encoding/binary"
	"fmt"
)

// healthPacketSize is the fixed reply length of the health query.
const healthPacketSize = 44

// HealthSnapshot is the device-reported point-in-time status. Produced
// fresh on every Health call, never cached.
type HealthSnapshot struct {
	Uptime  uint32
	Voltage uint32
	Current uint32

	CanRxErrs     uint32
	CanSendErrs   uint32
	CanFwdErrs    uint32
	GmlanSendErrs uint32
	Faults        uint32

	IgnitionLine           bool
	IgnitionCan            bool
	ControlsAllowed        bool
	GasInterceptorDetected bool

	CarHarnessStatus uint8
	UsbPowerMode     uint8
	SafetyMode       SafetyMode
	SafetyParam      uint16
	FaultStatus      uint8
	PowerSaveEnabled bool
	HeartbeatLost    bool
}

// Health queries the device's health snapshot.
func (d *Device) Health() (*HealthSnapshot, error) {
	dat, err := d.controlRead(ReqHealth, 0, 0, healthPacketSize)
	if err != nil {
		return nil, err
	}
	return parseHealth(dat)
}

func parseHealth(dat []byte) (*HealthSnapshot, error) {
	if len(dat) != healthPacketSize {
		return nil, fmt.Errorf("health reply is %d bytes, want %d", len(dat), healthPacketSize)
	}
	h := &HealthSnapshot{
		Uptime:        binary.LittleEndian.Uint32(dat[0:4]),
		Voltage:       binary.LittleEndian.Uint32(dat[4:8]),
		Current:       binary.LittleEndian.Uint32(dat[8:12]),
		CanRxErrs:     binary.LittleEndian.Uint32(dat[12:16]),
		CanSendErrs:   binary.LittleEndian.Uint32(dat[16:20]),
		CanFwdErrs:    binary.LittleEndian.Uint32(dat[20:24]),
		GmlanSendErrs: binary.LittleEndian.Uint32(dat[24:28]),
		Faults:        binary.LittleEndian.Uint32(dat[28:32]),

		IgnitionLine:           dat[32] != 0,
		IgnitionCan:            dat[33] != 0,
		ControlsAllowed:        dat[34] != 0,
		GasInterceptorDetected: dat[35] != 0,
		CarHarnessStatus:       dat[36],
		UsbPowerMode:           dat[37],
		SafetyMode:             SafetyMode(dat[38]),
		SafetyParam:            binary.LittleEndian.Uint16(dat[39:41]),
		FaultStatus:            dat[41],
		PowerSaveEnabled:       dat[42] != 0,
		HeartbeatLost:          dat[43] != 0,
	}
	return h, nil
}
