package panda

import (
	"time"

	"github.com/herlein/gopanda/pkg/transport"
)

// controlOp records one control transfer the device saw.
type controlOp struct {
	requestType uint8
	request     uint8
	value       uint16
	index       uint16
}

// bulkResult scripts the outcome of one BulkWrite call.
type bulkResult struct {
	n   int
	err error
}

type replyKey struct {
	request uint8
	value   uint16
}

// fakeHandle simulates the device at the transport boundary. Control
// read replies are scripted per (request, value) as a FIFO of payloads;
// bulk writes can be scripted to return partial counts or transient
// errors before falling back to accepting everything.
type fakeHandle struct {
	controlWrites []controlOp
	controlReads  []controlOp

	replies map[replyKey][][]byte

	writeScript  []bulkResult
	bulkWrites   [][]byte
	bulkWriteEps []uint8

	readScript []bulkResult
	readData   []byte

	closed int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{replies: map[replyKey][][]byte{}}
}

// reply queues one control-read payload for (request, value).
func (f *fakeHandle) reply(request uint8, value uint16, payload []byte) {
	k := replyKey{request, value}
	f.replies[k] = append(f.replies[k], payload)
}

func (f *fakeHandle) ControlWrite(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	f.controlWrites = append(f.controlWrites, controlOp{requestType, request, value, index})
	return len(data), nil
}

func (f *fakeHandle) ControlRead(requestType, request uint8, value, index uint16, length int, timeout time.Duration) ([]byte, error) {
	f.controlReads = append(f.controlReads, controlOp{requestType, request, value, index})
	k := replyKey{request, value}
	queue := f.replies[k]
	if len(queue) == 0 {
		return []byte{}, nil
	}
	payload := queue[0]
	f.replies[k] = queue[1:]
	if len(payload) > length {
		payload = payload[:length]
	}
	return payload, nil
}

func (f *fakeHandle) BulkWrite(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	f.bulkWrites = append(f.bulkWrites, append([]byte(nil), data...))
	f.bulkWriteEps = append(f.bulkWriteEps, endpoint)
	if len(f.writeScript) > 0 {
		res := f.writeScript[0]
		f.writeScript = f.writeScript[1:]
		return res.n, res.err
	}
	return len(data), nil
}

func (f *fakeHandle) BulkRead(endpoint uint8, length int, timeout time.Duration) ([]byte, error) {
	if len(f.readScript) > 0 {
		res := f.readScript[0]
		f.readScript = f.readScript[1:]
		if res.err != nil {
			return nil, res.err
		}
	}
	dat := f.readData
	f.readData = nil
	if len(dat) > length {
		dat = dat[:length]
	}
	return dat, nil
}

func (f *fakeHandle) Close() error {
	f.closed++
	return nil
}

// controlWriteRequests flattens the recorded write request codes.
func (f *fakeHandle) controlWriteRequests() []uint8 {
	reqs := make([]uint8, len(f.controlWrites))
	for i, op := range f.controlWrites {
		reqs[i] = op.request
	}
	return reqs
}

// fakeDFU is a scripted external DFU client.
type fakeDFU struct {
	serials    []string
	listErr    error
	listCalls  int
	recovered  []string
	recoverErr error
}

func (f *fakeDFU) List() ([]string, error) {
	f.listCalls++
	return f.serials, f.listErr
}

func (f *fakeDFU) Recover(serial string) error {
	f.recovered = append(f.recovered, serial)
	return f.recoverErr
}

// fastPolicy is a test retry policy with no sleeping.
func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: FixedBackoff(0)}
}

// testDevice builds a connected Device around a fake handle without
// touching real hardware.
func testDevice(h transport.Handle, state ConnectionState, opts ...Option) *Device {
	cfg := defaultConfig()
	cfg.reconnect = fastPolicy(15)
	cfg.canRetry = fastPolicy(0)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Device{
		cfg:    cfg,
		handle: h,
		serial: "0102030405060708090a0b0c",
		state:  state,
	}
}
