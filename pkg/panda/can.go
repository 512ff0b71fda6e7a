package panda

import (
	"fmt"
	"time"

	"github.com/herlein/gopanda/pkg/canframe"
	"github.com/herlein/gopanda/pkg/transport"
)

// CanRxClearBus is the CanClear argument that drains the global receive
// queue instead of one bus's transmit queue.
const CanRxClearBus = 0xffff

// CanSend queues one frame for transmission.
func (d *Device) CanSend(address uint32, data []byte, bus uint8) error {
	return d.CanSendMany([]canframe.Frame{{Address: address, Data: data, Bus: bus}}, CanSendTimeout)
}

// CanSendMany queues an ordered batch of frames.
//
// On USB, the encoded records are concatenated and submitted in a loop:
// the device may accept fewer bytes than offered, in which case only
// the unsent remainder is resubmitted; a transient overrun resubmits
// the whole remainder after logging. Transient failures are governed by
// the CAN retry policy: the production default retries without bound,
// a positive MaxAttempts surfaces the last transient error once
// exhausted. Accepted bytes reset the failure count.
//
// On the WiFi tunnel, frames go one record per call; the tunnel's
// 16-byte bulk cap makes batching pointless there.
func (d *Device) CanSendMany(frames []canframe.Frame, timeout time.Duration) error {
	if d.handle == nil {
		return ErrNotConnected
	}

	records := make([]byte, 0, len(frames)*canframe.RecordSize)
	for _, f := range frames {
		rec, err := canframe.Encode(f)
		if err != nil {
			return fmt.Errorf("can send: %w", err)
		}
		records = append(records, rec[:]...)
	}

	if d.wifi {
		for off := 0; off < len(records); off += canframe.RecordSize {
			if err := d.wifiSendRecord(records[off : off+canframe.RecordSize]); err != nil {
				return err
			}
		}
		return nil
	}

	remainder := records
	failures := 0
	for len(remainder) > 0 {
		n, err := d.handle.BulkWrite(transport.EndpointCanWrite, remainder, timeout)
		if err != nil {
			if !transport.IsTransient(err) {
				return fmt.Errorf("can send: %w", err)
			}
			failures++
			if d.cfg.canRetry.MaxAttempts > 0 && failures >= d.cfg.canRetry.MaxAttempts {
				return fmt.Errorf("can send: retries exhausted: %w", err)
			}
			d.cfg.logger.Info("can send overrun, resubmitting", "remaining", len(remainder))
			continue
		}
		failures = 0
		remainder = remainder[n:]
		if len(remainder) > 0 {
			d.cfg.logger.Info("can partial send, resubmitting", "remaining", len(remainder))
		}
	}
	return nil
}

func (d *Device) wifiSendRecord(rec []byte) error {
	for attempt := 1; ; attempt++ {
		_, err := d.handle.BulkWrite(transport.EndpointCanWrite, rec, 0)
		if err == nil {
			return nil
		}
		if !transport.IsTransient(err) {
			return fmt.Errorf("can send: %w", err)
		}
		if d.cfg.canRetry.MaxAttempts > 0 && attempt >= d.cfg.canRetry.MaxAttempts {
			return fmt.Errorf("can send: retries exhausted: %w", err)
		}
		d.cfg.logger.Info("can send overrun, resubmitting")
	}
}

// CanRecv drains the device's receive queue and decodes everything
// buffered. Transient overruns are retried under the CAN retry policy
// after a brief pause; the production default retries without bound
// and never surfaces a transient error, so a caller that needs an
// upper bound installs a bounded policy or imposes its own deadline.
func (d *Device) CanRecv() ([]canframe.Frame, error) {
	if d.handle == nil {
		return nil, ErrNotConnected
	}
	for attempt := 1; ; attempt++ {
		dat, err := d.handle.BulkRead(transport.EndpointCanRead, canRecvRecords*canframe.RecordSize, 0)
		if err == nil {
			return canframe.Decode(dat), nil
		}
		if !transport.IsTransient(err) {
			return nil, fmt.Errorf("can recv: %w", err)
		}
		if d.cfg.canRetry.MaxAttempts > 0 && attempt >= d.cfg.canRetry.MaxAttempts {
			return nil, fmt.Errorf("can recv: retries exhausted: %w", err)
		}
		d.cfg.logger.Info("can recv overrun, retrying", "attempt", attempt)
		time.Sleep(d.cfg.canRetry.Backoff(attempt))
	}
}

// CanClear drains a device-side CAN queue as though it had been read:
// a bus number clears that bus's transmit queue, CanRxClearBus clears
// the global receive queue.
func (d *Device) CanClear(bus uint16) error {
	return d.controlWrite(ReqCanClear, bus, 0)
}
