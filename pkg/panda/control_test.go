package panda

import (
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func serialReply(serial, paired string) []byte {
	dat := make([]byte, 0x20)
	copy(dat[0:0x10], serial)
	copy(dat[0x10:0x1c], paired)
	digest := sha1.Sum(dat[0:0x1c])
	copy(dat[0x1c:0x20], digest[0:4])
	return dat
}

func TestGetDeviceSerialVerifiesHash(t *testing.T) {
	h := newFakeHandle()
	h.reply(ReqSerial, 0, serialReply("0102030405060708", "abcdefghij"))
	d := testDevice(h, ConnectedApplication)

	serial, paired, err := d.GetDeviceSerial()
	if err != nil {
		t.Fatalf("GetDeviceSerial failed: %v", err)
	}
	if serial != "0102030405060708" {
		t.Errorf("serial = %q, want 0102030405060708", serial)
	}
	if paired != "abcdefghij" {
		t.Errorf("paired = %q, want abcdefghij", paired)
	}
}

func TestGetDeviceSerialRejectsAnyMutation(t *testing.T) {
	base := serialReply("0102030405060708", "abcdefghij")
	for i := 0; i < 0x1c; i++ {
		mutated := append([]byte(nil), base...)
		mutated[i] ^= 0x01

		h := newFakeHandle()
		h.reply(ReqSerial, 0, mutated)
		d := testDevice(h, ConnectedApplication)

		_, _, err := d.GetDeviceSerial()
		var integrityErr *IntegrityError
		if !errors.As(err, &integrityErr) {
			t.Fatalf("mutating byte %d: err = %v, want IntegrityError", i, err)
		}
	}
}

func TestParseHealth(t *testing.T) {
	dat := make([]byte, healthPacketSize)
	binary.LittleEndian.PutUint32(dat[0:4], 3600)       // uptime
	binary.LittleEndian.PutUint32(dat[4:8], 12500)      // voltage
	binary.LittleEndian.PutUint32(dat[8:12], 420)       // current
	binary.LittleEndian.PutUint32(dat[12:16], 7)        // can rx errs
	binary.LittleEndian.PutUint32(dat[16:20], 3)        // can send errs
	binary.LittleEndian.PutUint32(dat[20:24], 1)        // can fwd errs
	binary.LittleEndian.PutUint32(dat[24:28], 0)        // gmlan send errs
	binary.LittleEndian.PutUint32(dat[28:32], 0x80)     // faults
	dat[32] = 1                                         // ignition line
	dat[33] = 0                                         // ignition can
	dat[34] = 1                                         // controls allowed
	dat[35] = 0                                         // gas interceptor
	dat[36] = 2                                         // harness status
	dat[37] = 1                                         // usb power mode
	dat[38] = byte(SafetyAllOutput)                     // safety mode
	binary.LittleEndian.PutUint16(dat[39:41], 0x1234)   // safety param
	dat[41] = 1                                         // fault status
	dat[42] = 0                                         // power save
	dat[43] = 1                                         // heartbeat lost

	h, err := parseHealth(dat)
	if err != nil {
		t.Fatalf("parseHealth failed: %v", err)
	}
	if h.Uptime != 3600 || h.Voltage != 12500 || h.Current != 420 {
		t.Errorf("power fields = %d/%d/%d", h.Uptime, h.Voltage, h.Current)
	}
	if h.CanRxErrs != 7 || h.CanSendErrs != 3 || h.CanFwdErrs != 1 || h.GmlanSendErrs != 0 {
		t.Errorf("error counters = %d/%d/%d/%d", h.CanRxErrs, h.CanSendErrs, h.CanFwdErrs, h.GmlanSendErrs)
	}
	if h.Faults != 0x80 || h.FaultStatus != 1 {
		t.Errorf("faults = 0x%x status %d", h.Faults, h.FaultStatus)
	}
	if !h.IgnitionLine || h.IgnitionCan || !h.ControlsAllowed || h.GasInterceptorDetected {
		t.Errorf("flag fields wrong: %+v", h)
	}
	if h.CarHarnessStatus != 2 || h.UsbPowerMode != 1 {
		t.Errorf("harness/usb = %d/%d", h.CarHarnessStatus, h.UsbPowerMode)
	}
	if h.SafetyMode != SafetyAllOutput || h.SafetyParam != 0x1234 {
		t.Errorf("safety = %d param 0x%x", h.SafetyMode, h.SafetyParam)
	}
	if h.PowerSaveEnabled || !h.HeartbeatLost {
		t.Errorf("power save/heartbeat flags wrong: %+v", h)
	}
}

func TestParseHealthRejectsShortReply(t *testing.T) {
	if _, err := parseHealth(make([]byte, healthPacketSize-1)); err == nil {
		t.Fatal("parseHealth accepted a short reply")
	}
}

func TestSetSafetyModeDisablesChecksByDefault(t *testing.T) {
	h := newFakeHandle()
	d := testDevice(h, ConnectedApplication)

	if err := d.SetSafetyMode(SafetyElm327, true); err != nil {
		t.Fatalf("SetSafetyMode failed: %v", err)
	}
	want := []uint8{ReqSafetyMode, ReqDisableHeartbeat, ReqPowerSave}
	got := h.controlWriteRequests()
	if len(got) != len(want) {
		t.Fatalf("control writes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("control write %d = 0x%02x, want 0x%02x", i, got[i], want[i])
		}
	}
	if h.controlWrites[0].value != uint16(SafetyElm327) {
		t.Errorf("safety mode value = %d, want %d", h.controlWrites[0].value, SafetyElm327)
	}
	if h.controlWrites[2].value != 0 {
		t.Errorf("power save value = %d, want 0", h.controlWrites[2].value)
	}
}

func TestSetSafetyModeOptOut(t *testing.T) {
	h := newFakeHandle()
	d := testDevice(h, ConnectedApplication)

	if err := d.SetSafetyMode(SafetySilent, false); err != nil {
		t.Fatalf("SetSafetyMode failed: %v", err)
	}
	if len(h.controlWrites) != 1 || h.controlWrites[0].request != ReqSafetyMode {
		t.Errorf("control writes = %+v, want only the mode selector", h.controlWrites)
	}
}

func TestGetVersionTrimsNul(t *testing.T) {
	h := newFakeHandle()
	h.reply(ReqVersion, 0, append([]byte("v1.2.3-release"), 0, 0, 0))
	d := testDevice(h, ConnectedApplication)

	version, err := d.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if version != "v1.2.3-release" {
		t.Errorf("version = %q", version)
	}
}

func TestRtcRoundTripFieldOrder(t *testing.T) {
	h := newFakeHandle()
	d := testDevice(h, ConnectedApplication)

	when := time.Date(2021, time.June, 15, 10, 30, 45, 0, time.UTC) // a Tuesday
	if err := d.SetRTC(when); err != nil {
		t.Fatalf("SetRTC failed: %v", err)
	}
	want := []struct {
		req   uint8
		value uint16
	}{
		{ReqRtcYear, 2021}, {ReqRtcMonth, 6}, {ReqRtcDay, 15}, {ReqRtcWeekday, 2},
		{ReqRtcHour, 10}, {ReqRtcMinute, 30}, {ReqRtcSecond, 45},
	}
	if len(h.controlWrites) != len(want) {
		t.Fatalf("device saw %d writes, want %d", len(h.controlWrites), len(want))
	}
	for i, w := range want {
		if h.controlWrites[i].request != w.req || h.controlWrites[i].value != w.value {
			t.Errorf("write %d = %+v, want req 0x%02x value %d", i, h.controlWrites[i], w.req, w.value)
		}
	}

	reply := make([]byte, 8)
	binary.LittleEndian.PutUint16(reply[0:2], 2021)
	reply[2], reply[3], reply[4], reply[5], reply[6], reply[7] = 6, 15, 2, 10, 30, 45
	h.reply(ReqRtcGet, 0, reply)

	got, err := d.GetRTC()
	if err != nil {
		t.Fatalf("GetRTC failed: %v", err)
	}
	if !got.Equal(when) {
		t.Errorf("GetRTC = %v, want %v", got, when)
	}
}

func TestGmlanRejectsInvalidBus(t *testing.T) {
	d := testDevice(newFakeHandle(), ConnectedApplication)
	err := d.SetGmlan(5)
	var preErr *PreconditionError
	if !errors.As(err, &preErr) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
}
