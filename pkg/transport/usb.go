package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// USB device identifiers. The device enumerates with one of two product
// IDs depending on which firmware stage is running.
const (
	VendorID             = 0xbbaa
	ProductIDApplication = 0xddcc // normal firmware
	ProductIDBootstub    = 0xddee // first-stage flasher
)

// Bulk endpoint numbers.
const (
	EndpointCanRead  = 1 // IN: CAN records
	EndpointSerial   = 2 // OUT: serial/kline mux, flash payload in bootstub mode
	EndpointCanWrite = 3 // OUT: CAN records
)

// USBDeviceInfo describes one enumerated device without opening it.
type USBDeviceInfo struct {
	Serial   string
	Bootstub bool
}

// USB is the direct libusb-backed transport.
type USB struct {
	usbContext   *gousb.Context
	usbDevice    *gousb.Device
	usbConfig    *gousb.Config
	usbInterface *gousb.Interface
	epCanIn      *gousb.InEndpoint
	epSerialOut  *gousb.OutEndpoint
	epCanOut     *gousb.OutEndpoint

	Serial   string
	Bootstub bool
}

func isDeviceDesc(desc *gousb.DeviceDesc) bool {
	return desc.Vendor == gousb.ID(VendorID) &&
		(desc.Product == gousb.ID(ProductIDApplication) || desc.Product == gousb.ID(ProductIDBootstub))
}

// ListUSB enumerates all connected devices without claiming any of them.
// The scan itself is the only side effect.
func ListUSB() ([]USBDeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(isDeviceDesc)
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	infos := []USBDeviceInfo{}
	for _, dev := range devs {
		serial, serr := dev.SerialNumber()
		if serr == nil {
			infos = append(infos, USBDeviceInfo{
				Serial:   serial,
				Bootstub: dev.Desc.Product == gousb.ID(ProductIDBootstub),
			})
		}
		dev.Close()
	}
	return infos, nil
}

// OpenUSB opens the first matching device, or the one with the given
// serial when serial is non-empty. Returns ErrNoDevice when nothing
// matches.
func OpenUSB(serial string) (*USB, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(isDeviceDesc)
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	var picked *gousb.Device
	for _, dev := range devs {
		if picked != nil {
			dev.Close()
			continue
		}
		thisSerial, serr := dev.SerialNumber()
		if serr != nil || (serial != "" && thisSerial != serial) {
			dev.Close()
			continue
		}
		picked = dev
	}
	if picked == nil {
		ctx.Close()
		return nil, ErrNoDevice
	}

	usb, err := wrapUSBDevice(ctx, picked)
	if err != nil {
		picked.Close()
		ctx.Close()
		return nil, err
	}
	return usb, nil
}

func wrapUSBDevice(ctx *gousb.Context, dev *gousb.Device) (*USB, error) {
	serial, _ := dev.SerialNumber()

	dev.SetAutoDetach(true)

	config, err := dev.Config(1)
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	iface, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		return nil, fmt.Errorf("failed to claim interface: %w", err)
	}

	epCanIn, err := iface.InEndpoint(EndpointCanRead)
	if err != nil {
		iface.Close()
		config.Close()
		return nil, fmt.Errorf("failed to get CAN IN endpoint: %w", err)
	}

	epSerialOut, err := iface.OutEndpoint(EndpointSerial)
	if err != nil {
		iface.Close()
		config.Close()
		return nil, fmt.Errorf("failed to get serial OUT endpoint: %w", err)
	}

	epCanOut, err := iface.OutEndpoint(EndpointCanWrite)
	if err != nil {
		iface.Close()
		config.Close()
		return nil, fmt.Errorf("failed to get CAN OUT endpoint: %w", err)
	}

	return &USB{
		usbContext:   ctx,
		usbDevice:    dev,
		usbConfig:    config,
		usbInterface: iface,
		epCanIn:      epCanIn,
		epSerialOut:  epSerialOut,
		epCanOut:     epCanOut,
		Serial:       serial,
		Bootstub:     dev.Desc.Product == gousb.ID(ProductIDBootstub),
	}, nil
}

// ControlWrite implements Handle.
func (u *USB) ControlWrite(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	u.usbDevice.ControlTimeout = timeout
	n, err := u.usbDevice.Control(requestType, request, value, index, data)
	if err != nil {
		return n, classifyUSBError("control write", err)
	}
	return n, nil
}

// ControlRead implements Handle.
func (u *USB) ControlRead(requestType, request uint8, value, index uint16, length int, timeout time.Duration) ([]byte, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	u.usbDevice.ControlTimeout = timeout
	buf := make([]byte, length)
	n, err := u.usbDevice.Control(requestType, request, value, index, buf)
	if err != nil {
		return nil, classifyUSBError("control read", err)
	}
	return buf[:n], nil
}

// BulkWrite implements Handle.
func (u *USB) BulkWrite(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	ep, err := u.outEndpoint(endpoint)
	if err != nil {
		return 0, err
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := ep.WriteContext(ctx, data)
	if err != nil {
		return n, classifyUSBError("bulk write", err)
	}
	return n, nil
}

// BulkRead implements Handle.
func (u *USB) BulkRead(endpoint uint8, length int, timeout time.Duration) ([]byte, error) {
	if endpoint != EndpointCanRead {
		return nil, fmt.Errorf("no IN endpoint %d", endpoint)
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	buf := make([]byte, length)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := u.epCanIn.ReadContext(ctx, buf)
	if err != nil {
		return nil, classifyUSBError("bulk read", err)
	}
	return buf[:n], nil
}

func (u *USB) outEndpoint(endpoint uint8) (*gousb.OutEndpoint, error) {
	switch endpoint {
	case EndpointSerial:
		return u.epSerialOut, nil
	case EndpointCanWrite:
		return u.epCanOut, nil
	}
	return nil, fmt.Errorf("no OUT endpoint %d", endpoint)
}

// Close implements Handle.
func (u *USB) Close() error {
	if u.usbInterface != nil {
		u.usbInterface.Close()
	}
	if u.usbConfig != nil {
		u.usbConfig.Close()
	}
	var err error
	if u.usbDevice != nil {
		err = u.usbDevice.Close()
	}
	if u.usbContext != nil {
		u.usbContext.Close()
	}
	return err
}

// classifyUSBError sorts libusb failures into the transient/fatal
// taxonomy. Stalls, overruns and busy endpoints can be resubmitted;
// a vanished device cannot.
func classifyUSBError(op string, err error) error {
	var libErr gousb.Error
	if errors.As(err, &libErr) {
		switch libErr {
		case gousb.ErrorNoDevice, gousb.ErrorNotFound, gousb.ErrorAccess:
			return fmt.Errorf("%s: %v: %w", op, err, ErrDisconnected)
		case gousb.ErrorPipe, gousb.ErrorOverflow, gousb.ErrorBusy, gousb.ErrorIO, gousb.ErrorTimeout, gousb.ErrorInterrupted:
			return &IOError{Op: op, Err: err}
		}
	}
	var status gousb.TransferStatus
	if errors.As(err, &status) {
		switch status {
		case gousb.TransferNoDevice:
			return fmt.Errorf("%s: %v: %w", op, err, ErrDisconnected)
		case gousb.TransferStall, gousb.TransferOverflow, gousb.TransferError, gousb.TransferTimedOut, gousb.TransferCancelled:
			return &IOError{Op: op, Err: err}
		}
	}
	// Context deadline from our own timeout wrapper.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &IOError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
