package canframe

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		f    Frame
	}{
		{"standard short payload", Frame{Address: 0x500, Bus: 0, Data: []byte{0x01, 0x02}}},
		{"standard empty payload", Frame{Address: 0x7ff, Bus: 2, Data: nil}},
		{"standard full payload", Frame{Address: 0x123, Bus: 1, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}},
		{"extended by address", Frame{Address: 0x18da10f1, Bus: 1, Data: nil}},
		{"extended max address", Frame{Address: 0x1fffffff, Bus: 15, Data: []byte{0xff}}},
		{"boundary address", Frame{Address: 0x800, Bus: 3, Data: []byte{0xaa}}},
		{"virtual bus", Frame{Address: 0x42, Bus: 128, Data: []byte{0x10}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := Encode(tc.f)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			frames := Decode(rec[:])
			if len(frames) != 1 {
				t.Fatalf("Decode returned %d frames, want 1", len(frames))
			}
			got := frames[0]
			if got.Address != tc.f.Address {
				t.Errorf("Address = 0x%x, want 0x%x", got.Address, tc.f.Address)
			}
			if got.Bus != tc.f.Bus {
				t.Errorf("Bus = %d, want %d", got.Bus, tc.f.Bus)
			}
			if !bytes.Equal(got.Data, tc.f.Data) && len(got.Data)+len(tc.f.Data) > 0 {
				t.Errorf("Data = %x, want %x", got.Data, tc.f.Data)
			}
			wantExtended := tc.f.Address >= ExtendedThreshold
			if got.Extended != wantExtended {
				t.Errorf("Extended = %v, want %v", got.Extended, wantExtended)
			}
		})
	}
}

func TestStandardScenario(t *testing.T) {
	rec, err := Encode(Frame{Address: 0x500, Bus: 0, Data: []byte{0x01, 0x02}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	frames := Decode(rec[:])
	if len(frames) != 1 {
		t.Fatalf("Decode returned %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Address != 0x500 || f.Extended {
		t.Errorf("got address 0x%x extended=%v, want standard 0x500", f.Address, f.Extended)
	}
	if f.Bus != 0 {
		t.Errorf("Bus = %d, want 0", f.Bus)
	}
	if !bytes.Equal(f.Data, []byte{0x01, 0x02}) {
		t.Errorf("Data = %x, want 0102", f.Data)
	}
}

func TestExtendedScenario(t *testing.T) {
	rec, err := Encode(Frame{Address: 0x18da10f1, Bus: 1, Data: []byte{}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	frames := Decode(rec[:])
	if len(frames) != 1 {
		t.Fatalf("Decode returned %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Address != 0x18da10f1 || !f.Extended {
		t.Errorf("got address 0x%x extended=%v, want extended 0x18da10f1", f.Address, f.Extended)
	}
	if f.Bus != 1 || len(f.Data) != 0 {
		t.Errorf("got bus=%d data=%x, want bus 1, empty payload", f.Bus, f.Data)
	}
}

// The encoder honors an explicit extended request below 0x800, but the
// decoder derives the flag purely from the bit pattern, so the frame
// comes back extended. The asymmetry is part of the wire contract.
func TestExplicitExtendedBelowThreshold(t *testing.T) {
	rec, err := Encode(Frame{Address: 0x123, Extended: true, Data: []byte{0x01}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	rir := binary.LittleEndian.Uint32(rec[0:4])
	if rir&0x04 == 0 {
		t.Fatal("encoder did not honor the explicit extended flag")
	}
	if rir>>3 != 0x123 {
		t.Errorf("packed address = 0x%x, want 0x123 in extended position", rir>>3)
	}

	frames := Decode(rec[:])
	if len(frames) != 1 {
		t.Fatalf("Decode returned %d frames, want 1", len(frames))
	}
	if !frames[0].Extended || frames[0].Address != 0x123 {
		t.Errorf("decoded extended=%v address=0x%x, want extended 0x123", frames[0].Extended, frames[0].Address)
	}
}

func TestDecodeNeverExtendsStandardAddresses(t *testing.T) {
	for _, addr := range []uint32{0x000, 0x001, 0x500, 0x7ff} {
		rec, err := Encode(Frame{Address: addr, Data: []byte{0x01}})
		if err != nil {
			t.Fatalf("Encode(0x%x) failed: %v", addr, err)
		}
		frames := Decode(rec[:])
		if frames[0].Extended {
			t.Errorf("address 0x%x decoded with extended flag set", addr)
		}
	}
}

func TestDecodeDropsTrailingPartialRecord(t *testing.T) {
	recA, _ := Encode(Frame{Address: 0x100, Data: []byte{0x11}})
	recB, _ := Encode(Frame{Address: 0x200, Data: []byte{0x22}})

	buf := append(recA[:], recB[:]...)
	buf = append(buf, 0xde, 0xad, 0xbe) // trailing partial record

	frames := Decode(buf)
	if len(frames) != 2 {
		t.Fatalf("Decode returned %d frames, want 2", len(frames))
	}
	if frames[0].Address != 0x100 || frames[1].Address != 0x200 {
		t.Errorf("got addresses 0x%x, 0x%x; want 0x100, 0x200", frames[0].Address, frames[1].Address)
	}
}

func TestDecodeShortBufferYieldsNothing(t *testing.T) {
	if frames := Decode(make([]byte, RecordSize-1)); len(frames) != 0 {
		t.Errorf("Decode of a sub-record buffer returned %d frames", len(frames))
	}
	if frames := Decode(nil); len(frames) != 0 {
		t.Errorf("Decode of nil returned %d frames", len(frames))
	}
}

func TestDecodeExtractsReceiveCounter(t *testing.T) {
	rec, _ := Encode(Frame{Address: 0x321, Bus: 2, Data: []byte{0x01, 0x02, 0x03}})
	// The device stamps the counter into bits 16-31 of word 1 on the
	// receive path.
	info := binary.LittleEndian.Uint32(rec[4:8])
	binary.LittleEndian.PutUint32(rec[4:8], info|0xbeef<<16)

	frames := Decode(rec[:])
	if len(frames) != 1 {
		t.Fatalf("Decode returned %d frames, want 1", len(frames))
	}
	if frames[0].Counter != 0xbeef {
		t.Errorf("Counter = 0x%x, want 0xbeef", frames[0].Counter)
	}
	if frames[0].Bus != 2 || frames[0].Address != 0x321 {
		t.Errorf("counter bits leaked into bus/address: bus=%d address=0x%x", frames[0].Bus, frames[0].Address)
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Frame{Address: 0x100, Data: make([]byte, 9)})
	if err == nil {
		t.Fatal("Encode accepted a 9-byte payload")
	}
}

func TestEncodeRejectsOversizedAddress(t *testing.T) {
	for _, addr := range []uint32{MaxAddress + 1, 0xffffffff} {
		if _, err := Encode(Frame{Address: addr}); err == nil {
			t.Errorf("Encode accepted address 0x%x above 29 bits", addr)
		}
	}
	// The largest valid address still encodes.
	if _, err := Encode(Frame{Address: MaxAddress}); err != nil {
		t.Errorf("Encode rejected the maximum 29-bit address: %v", err)
	}
}

func TestEncodedRecordIsZeroPadded(t *testing.T) {
	rec, _ := Encode(Frame{Address: 0x100, Data: []byte{0xaa, 0xbb}})
	for i := 10; i < RecordSize; i++ {
		if rec[i] != 0 {
			t.Fatalf("byte %d = 0x%02x, want zero padding", i, rec[i])
		}
	}
}
