package panda

import "time"

// Control transfer request codes. These are a bit-exact contract with
// the device firmware; do not renumber.
const (
	// Mode transitions
	ReqEnterBootMode = 0xd1 // value=0 bootloader, value=1 bootstub
	ReqReset         = 0xd8 // soft reset

	// Identity and status
	ReqSerial     = 0xd0 // index 0: serial + SHA-1 tag (32B), index 1: secret (16B)
	ReqHealth     = 0xd2 // health snapshot, 44B
	ReqSignature1 = 0xd3 // firmware signature, first half (64B)
	ReqSignature2 = 0xd4 // firmware signature, second half (64B)
	ReqVersion    = 0xd6 // version string, up to 64B UTF-8
	ReqHwType     = 0xc1 // hardware type byte

	// Bootstub flash sequence
	ReqFlashStatus = 0xb0 // 12B status, magic at bytes 4..8
	ReqFlashUnlock = 0xb1
	ReqFlashErase  = 0xb2 // value = sector index

	// Safety and watchdog
	ReqSafetyMode       = 0xdc // value = mode
	ReqHeartbeat        = 0xf3
	ReqDisableHeartbeat = 0xf8

	// CAN configuration
	ReqCanForwarding = 0xdd // value = from bus, index = to bus
	ReqCanSpeed      = 0xde // value = bus, index = speed * 10 kbps
	ReqCanDataSpeed  = 0xf9 // value = bus, index = speed * 10 kbps (FD data phase)
	ReqCanLoopback   = 0xe5 // value = enable
	ReqCanEnable     = 0xf4 // value = bus, index = transceiver enable
	ReqCanClear      = 0xf1 // value = bus tx queue, 0xffff = global rx queue
	ReqObdMux        = 0xdb // OBD/GMLAN multiplexer

	// Serial / UART / kline
	ReqSerialRead   = 0xe0 // value = port, repeated 64B reads until empty
	ReqSerialClear  = 0xf2 // value = port
	ReqUartBaud     = 0xe4 // value = uart, index = rate / 300
	ReqUartParity   = 0xe2 // value = uart, index = 0 off / 1 even / 2 odd
	ReqUartCallback = 0xe3 // value = uart, index = install
	ReqKlineWakeup  = 0xf0 // value = line select
	ReqKline5Baud   = 0xf4 // value = line select, index = address

	// Power and peripherals
	ReqUsbPower    = 0xe6
	ReqPowerSave   = 0xe7
	ReqEspPower    = 0xd9
	ReqEspReset    = 0xda // value = boot mode
	ReqIrPower     = 0xb0 // application mode only; bootstub uses the code for flash status
	ReqFanPower    = 0xb1
	ReqFanRpm      = 0xb2 // 2B reply
	ReqPhonePower  = 0xb3
	ReqSiren       = 0xf6
	ReqGreenLed    = 0xf7
	ReqClockSource = 0xf5

	// RTC, one call per field
	ReqRtcGet     = 0xa0 // 8B reply
	ReqRtcYear    = 0xa1
	ReqRtcMonth   = 0xa2
	ReqRtcDay     = 0xa3
	ReqRtcWeekday = 0xa4
	ReqRtcHour    = 0xa5
	ReqRtcMinute  = 0xa6
	ReqRtcSecond  = 0xa7
)

// HardwareType is the device-reported board revision.
type HardwareType byte

const (
	HwUnknown HardwareType = 0x00
	HwWhite   HardwareType = 0x01
	HwGrey    HardwareType = 0x02
	HwBlack   HardwareType = 0x03
	HwPedal   HardwareType = 0x04
	HwUno     HardwareType = 0x05
	HwDos     HardwareType = 0x06
	HwRed     HardwareType = 0x07
)

func (h HardwareType) String() string {
	switch h {
	case HwWhite:
		return "white"
	case HwGrey:
		return "grey"
	case HwBlack:
		return "black"
	case HwPedal:
		return "pedal"
	case HwUno:
		return "uno"
	case HwDos:
		return "dos"
	case HwRed:
		return "red"
	}
	return "unknown"
}

// SafetyMode selects the in-firmware policy that accepts or rejects
// outgoing frames. The policy itself lives in the firmware; the host
// only transports the selector.
type SafetyMode uint16

const (
	SafetySilent    SafetyMode = 0
	SafetyElm327    SafetyMode = 3
	SafetyAllOutput SafetyMode = 17
	SafetyNoOutput  SafetyMode = 19
)

// Serial port indices for the multiplexed UART channels.
const (
	SerialDebug = 0
	SerialEsp   = 1
	SerialLin1  = 2
	SerialLin2  = 3
)

// OBD/GMLAN multiplexer targets.
const (
	GmlanCan2 = 1
	GmlanCan3 = 2
)

// Clock source modes.
const (
	ClockSourceDisabled     = 0
	ClockSourceFreeRunning  = 1
	ClockSourceExternalSync = 2
)

// CanSendTimeout bounds a single bulk write during CAN send. The device
// NAKs writes under bus congestion and libusb resubmits until this
// expires; the send loop then resubmits the remainder itself.
const CanSendTimeout = 10 * time.Millisecond

// canRecvRecords is how many 16-byte records one bulk read requests.
const canRecvRecords = 256

// serialReadChunk is the fixed control-read size for serial data;
// a zero-length reply terminates the read loop.
const serialReadChunk = 0x40

// serialWriteChunk caps the payload after the port-number byte on each
// bulk write.
const serialWriteChunk = 0x20

// klineChunk caps one kline transmit unit (payload after the bus byte).
const klineChunk = 0xf
