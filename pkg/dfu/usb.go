package dfu

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gousb"
)

// The ST system bootloader enumerates with a fixed identity regardless
// of the application firmware.
const (
	dfuVendorID  = 0x0483 // STMicroelectronics
	dfuProductID = 0xdf11 // DFU bootloader
)

// DFU class requests, sent to interface 0 with the class request types.
const (
	dfuDnload    = 1
	dfuGetStatus = 3
	dfuClrStatus = 4
	dfuAbort     = 6

	dfuRequestOut = 0x21
	dfuRequestIn  = 0xa1
)

// Relevant states from the 6-byte status reply.
const (
	dfuStateUploadIdle = 0x09
	dfuStateError      = 0x0a
)

// mcuLayout holds the flash geometry the bootloader needs for a
// bootstub write: where the bootstub lives, which application sector
// must be wiped so a half-written device cannot boot into stale code,
// and the transfer block size the bootloader accepts.
type mcuLayout struct {
	bootstubAddress uint32
	appAddress      uint32
	blockSize       int
	imageName       string
}

func layoutFor(mcu McuType) mcuLayout {
	if mcu == McuH7 {
		return mcuLayout{
			bootstubAddress: 0x08000000,
			appAddress:      0x08020000,
			blockSize:       0x400,
			imageName:       "bootstub.panda_h7.bin",
		}
	}
	return mcuLayout{
		bootstubAddress: 0x08000000,
		appAddress:      0x08004000,
		blockSize:       0x800,
		imageName:       "bootstub.panda.bin",
	}
}

// USBClient drives the ST system bootloader over USB. It implements
// Client.
type USBClient struct {
	// Mcu selects the flash layout and bundled bootstub image. It can
	// be set after construction, once the device has been identified.
	Mcu McuType

	// InstallRoot is the directory holding the bundled firmware
	// images, laid out as <root>/board/obj/<image>.
	InstallRoot string
}

// List enumerates the serials of all devices currently sitting in the
// bootloader. Nothing is claimed.
func (c *USBClient) List() ([]string, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(dfuVendorID) && desc.Product == gousb.ID(dfuProductID)
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("failed to enumerate bootloader devices: %w", err)
	}

	serials := []string{}
	for _, dev := range devs {
		serial, serr := dev.SerialNumber()
		if serr == nil {
			serials = append(serials, serial)
		}
		dev.Close()
	}
	return serials, nil
}

// Recover writes the bundled bootstub image to the named bootloader
// device. Afterwards the device leaves the bootloader and enumerates
// as a bootstub, ready for a normal application flash.
func (c *USBClient) Recover(serial string) error {
	layout := layoutFor(c.Mcu)

	path := filepath.Join(c.InstallRoot, "board", "obj", layout.imageName)
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read bootstub image: %w", err)
	}

	sess, err := openDFU(serial)
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.clearStatus(); err != nil {
		return err
	}
	// Wipe the application sector first so an interrupted write cannot
	// leave old application code bootable behind a new bootstub.
	if err := sess.erase(layout.appAddress); err != nil {
		return err
	}
	if err := sess.erase(layout.bootstubAddress); err != nil {
		return err
	}
	if err := sess.program(layout.bootstubAddress, code, layout.blockSize); err != nil {
		return err
	}
	return sess.leave(layout.bootstubAddress)
}

// dfuSession is one claimed bootloader device.
type dfuSession struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
}

func openDFU(serial string) (*dfuSession, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(dfuVendorID) && desc.Product == gousb.ID(dfuProductID)
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("failed to enumerate bootloader devices: %w", err)
	}

	var picked *gousb.Device
	for _, dev := range devs {
		if picked != nil {
			dev.Close()
			continue
		}
		thisSerial, serr := dev.SerialNumber()
		if serr != nil || thisSerial != serial {
			dev.Close()
			continue
		}
		picked = dev
	}
	if picked == nil {
		ctx.Close()
		return nil, fmt.Errorf("bootloader device %s not found", serial)
	}

	picked.SetAutoDetach(true)
	picked.ControlTimeout = 5 * time.Second

	cfg, err := picked.Config(1)
	if err != nil {
		picked.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to select configuration: %w", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		picked.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to claim interface: %w", err)
	}

	return &dfuSession{ctx: ctx, dev: picked, cfg: cfg, intf: intf}, nil
}

func (s *dfuSession) close() {
	s.intf.Close()
	s.cfg.Close()
	s.dev.Close()
	s.ctx.Close()
}

func (s *dfuSession) dnload(block uint16, data []byte) error {
	_, err := s.dev.Control(dfuRequestOut, dfuDnload, block, 0, data)
	if err != nil {
		return fmt.Errorf("bootloader download block %d: %w", block, err)
	}
	return nil
}

// status reads the 6-byte status reply and returns the state field.
// The read itself completes any pending flash operation, so callers
// poll it after every download.
func (s *dfuSession) status() (byte, error) {
	dat := make([]byte, 6)
	if _, err := s.dev.Control(dfuRequestIn, dfuGetStatus, 0, 0, dat); err != nil {
		return 0, fmt.Errorf("bootloader status: %w", err)
	}
	return dat[4], nil
}

// waitDone polls until the pending operation has been executed.
func (s *dfuSession) waitDone() error {
	for i := 0; i < 2; i++ {
		if _, err := s.status(); err != nil {
			return err
		}
	}
	return nil
}

func (s *dfuSession) clearStatus() error {
	state, err := s.status()
	if err != nil {
		return err
	}
	switch state {
	case dfuStateError:
		if _, err := s.dev.Control(dfuRequestOut, dfuClrStatus, 0, 0, nil); err != nil {
			return fmt.Errorf("bootloader clear status: %w", err)
		}
	case dfuStateUploadIdle:
		if _, err := s.dev.Control(dfuRequestOut, dfuAbort, 0, 0, nil); err != nil {
			return fmt.Errorf("bootloader abort: %w", err)
		}
	}
	return nil
}

// erase issues the vendor erase command for the sector containing the
// address.
func (s *dfuSession) erase(address uint32) error {
	cmd := make([]byte, 5)
	cmd[0] = 0x41
	binary.LittleEndian.PutUint32(cmd[1:], address)
	if err := s.dnload(0, cmd); err != nil {
		return err
	}
	return s.waitDone()
}

// setAddress points the bootloader's write cursor at the address.
func (s *dfuSession) setAddress(address uint32) error {
	cmd := make([]byte, 5)
	cmd[0] = 0x21
	binary.LittleEndian.PutUint32(cmd[1:], address)
	if err := s.dnload(0, cmd); err != nil {
		return err
	}
	return s.waitDone()
}

// program writes code to flash starting at address, one block per
// download request. Data blocks use block numbers starting at 2; 0 and
// 1 are reserved for commands.
func (s *dfuSession) program(address uint32, code []byte, blockSize int) error {
	if err := s.setAddress(address); err != nil {
		return err
	}
	for i := 0; len(code) > 0; i++ {
		n := blockSize
		if n > len(code) {
			n = len(code)
		}
		if err := s.dnload(uint16(2+i), code[:n]); err != nil {
			return err
		}
		if err := s.waitDone(); err != nil {
			return err
		}
		code = code[n:]
	}
	return nil
}

// leave starts execution at the address. The zero-length download
// triggers manifestation; the device drops off the bus, so the
// trailing status read is allowed to fail.
func (s *dfuSession) leave(address uint32) error {
	if err := s.setAddress(address); err != nil {
		return err
	}
	if err := s.dnload(2, nil); err != nil {
		return err
	}
	s.status()
	return nil
}
