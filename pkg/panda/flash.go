package panda

import (
	"bytes"
	"fmt"
	"time"

	"github.com/herlein/gopanda/pkg/dfu"
	"github.com/herlein/gopanda/pkg/transport"
)

// flashMagic is the tag the bootstub plants in its flash status reply.
// Its absence means no flashable bootstub is listening and nothing
// destructive may be issued.
var flashMagic = []byte{0xde, 0xad, 0xd0, 0x0d}

// flashSectors are the application sectors erased before writing.
var flashSectors = []uint16{1, 2, 3}

// flashChunk is the fixed bulk-write unit during flashing.
const flashChunk = 0x10

// Flash writes a firmware image. The device must be in, or is first
// driven into, bootstub mode. The sequence is: probe the bootstub's
// status magic, unlock, erase the application sectors, stream the image
// in 16-byte chunks over the serial endpoint (the device does no CAN
// work in bootstub mode, so the endpoint is free), then reset. Every
// step's failure aborts the whole flash; only the final reset write
// tolerates an I/O error, since the device may reboot before replying.
func (d *Device) Flash(img *Image, reconnect bool) error {
	if img == nil || len(img.Code) == 0 {
		return &PreconditionError{Op: "flash", Reason: "empty firmware image"}
	}
	if d.handle == nil {
		return ErrNotConnected
	}

	if d.state == ConnectedApplication {
		if version, err := d.GetVersion(); err == nil {
			d.cfg.logger.Info("flash: current version", "version", version)
		}
		if err := d.Reset(true, false); err != nil {
			return fmt.Errorf("flash: failed to enter bootstub: %w", err)
		}
	}
	if d.state != ConnectedBootstub {
		return &PreconditionError{Op: "flash", Reason: fmt.Sprintf("device is in %s mode, not bootstub", d.state)}
	}

	if version, err := d.GetVersion(); err == nil {
		d.cfg.logger.Info("flash: bootstub version", "version", version)
	}

	// Confirm a flashable bootstub is actually present before anything
	// destructive.
	status, err := d.controlRead(ReqFlashStatus, 0, 0, 0xc)
	if err != nil {
		return fmt.Errorf("flash: status probe: %w", err)
	}
	if len(status) < 8 || !bytes.Equal(status[4:8], flashMagic) {
		actual := status
		if len(status) >= 8 {
			actual = status[4:8]
		}
		return &IntegrityError{What: "flash status magic", Expected: flashMagic, Actual: actual}
	}

	d.cfg.logger.Info("flash: unlocking")
	if _, err := d.handle.ControlWrite(transport.RequestTypeIn, ReqFlashUnlock, 0, 0, nil, 0); err != nil {
		return fmt.Errorf("flash: unlock: %w", err)
	}

	d.cfg.logger.Info("flash: erasing", "sectors", len(flashSectors))
	for _, sector := range flashSectors {
		if _, err := d.handle.ControlWrite(transport.RequestTypeIn, ReqFlashErase, sector, 0, nil, 0); err != nil {
			return fmt.Errorf("flash: erase sector %d: %w", sector, err)
		}
	}

	d.cfg.logger.Info("flash: writing", "bytes", len(img.Code))
	for off := 0; off < len(img.Code); off += flashChunk {
		end := off + flashChunk
		if end > len(img.Code) {
			end = len(img.Code)
		}
		if err := d.bulkWriteAll(transport.EndpointSerial, img.Code[off:end]); err != nil {
			return fmt.Errorf("flash: write at 0x%x: %w", off, err)
		}
	}

	d.cfg.logger.Info("flash: resetting")
	if _, err := d.handle.ControlWrite(transport.RequestTypeIn, ReqReset, 0, 0, nil, 0); err != nil {
		// The device may already be rebooting into the new firmware.
		d.cfg.logger.Debug("flash: reset write not acknowledged", "err", err)
	}

	if reconnect {
		return d.Reconnect()
	}
	return nil
}

// bulkWriteAll submits data until the device has accepted every byte,
// resubmitting the remainder on partial writes and transient errors.
func (d *Device) bulkWriteAll(endpoint uint8, data []byte) error {
	remainder := data
	for len(remainder) > 0 {
		n, err := d.handle.BulkWrite(endpoint, remainder, 0)
		if err != nil {
			if transport.IsTransient(err) {
				d.cfg.logger.Debug("bulk write overrun, resubmitting", "remaining", len(remainder))
				continue
			}
			return err
		}
		remainder = remainder[n:]
	}
	return nil
}

// Recover drives the full failure-recovery path: force bootstub, then
// the DFU bootloader, wait for the external DFU component to see the
// device, have it rewrite the bootstub, reconnect with wait semantics,
// and reflash the default firmware image. Returns (false, nil) when the
// device never appeared in DFU space within timeout.
func (d *Device) Recover(timeout time.Duration) (bool, error) {
	if d.cfg.dfuClient == nil {
		return false, &PreconditionError{Op: "recover", Reason: "no DFU client configured"}
	}

	if err := d.Reset(true, false); err != nil {
		return false, fmt.Errorf("recover: failed to enter bootstub: %w", err)
	}
	if err := d.Reset(false, true); err != nil {
		return false, fmt.Errorf("recover: failed to enter bootloader: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		serials, err := d.cfg.dfuClient.List()
		if err != nil {
			return false, fmt.Errorf("recover: dfu enumeration: %w", err)
		}
		if len(serials) > 0 {
			break
		}
		if timeout > 0 && time.Now().After(deadline) {
			d.cfg.logger.Error("recover: timed out waiting for DFU device")
			return false, nil
		}
		d.cfg.logger.Info("recover: waiting for DFU device")
		time.Sleep(100 * time.Millisecond)
	}

	dfuSerial, err := dfu.SerialFromUSB(d.serial, d.mcu)
	if err != nil {
		return false, fmt.Errorf("recover: %w", err)
	}
	if err := d.cfg.dfuClient.Recover(dfuSerial); err != nil {
		return false, fmt.Errorf("recover: dfu recover: %w", err)
	}

	if err := d.Connect(true); err != nil {
		return false, fmt.Errorf("recover: reconnect: %w", err)
	}

	img, err := LoadImage(DefaultImagePath(d.cfg.installRoot, d.mcu))
	if err != nil {
		return false, fmt.Errorf("recover: %w", err)
	}
	if err := d.Flash(img, true); err != nil {
		return false, err
	}
	return true, nil
}
