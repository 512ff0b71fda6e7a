package panda

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/herlein/gopanda/pkg/dfu"
)

func writeTempImage(t *testing.T, name string, code []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, code, 0o644); err != nil {
		t.Fatalf("failed to write temp image: %v", err)
	}
	return path
}

func TestLoadImageRawBinary(t *testing.T) {
	code := make([]byte, 512)
	for i := range code {
		code[i] = byte(i * 3)
	}
	path := writeTempImage(t, "fw.bin.signed", code)

	img, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if !bytes.Equal(img.Code, code) {
		t.Error("Code does not match the file contents")
	}
	if !bytes.Equal(img.Signature, code[len(code)-SignatureSize:]) {
		t.Error("Signature is not the trailing 128 bytes")
	}
}

func TestReadSignatureSeeksFromEnd(t *testing.T) {
	code := make([]byte, 1024)
	for i := range code {
		code[i] = byte(i)
	}
	path := writeTempImage(t, "fw.bin", code)

	sig, err := ReadSignature(path)
	if err != nil {
		t.Fatalf("ReadSignature failed: %v", err)
	}
	if len(sig) != SignatureSize {
		t.Fatalf("signature is %d bytes, want %d", len(sig), SignatureSize)
	}
	if !bytes.Equal(sig, code[len(code)-SignatureSize:]) {
		t.Error("signature does not match the file tail")
	}
}

func TestLoadImageIntelHex(t *testing.T) {
	// Two records at 0x08004000, sixteen bytes each, contiguous.
	hex := ":020000040800F2\r\n" +
		":10400000000102030405060708090A0B0C0D0E0F38\r\n" +
		":10401000101112131415161718191A1B1C1D1E1F28\r\n" +
		":00000001FF\r\n"
	path := writeTempImage(t, "fw.hex", []byte(hex))

	img, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	want := make([]byte, 32)
	for i := range want {
		want[i] = byte(i)
	}
	if !bytes.Equal(img.Code, want) {
		t.Errorf("Code = %x, want %x", img.Code, want)
	}
}

func TestDefaultImagePathPerMcu(t *testing.T) {
	f4 := DefaultImagePath("/opt/fw", dfu.McuF4)
	h7 := DefaultImagePath("/opt/fw", dfu.McuH7)
	if f4 == h7 {
		t.Error("F4 and H7 resolve to the same image")
	}
	if filepath.Dir(f4) != filepath.Join("/opt/fw", "board", "obj") {
		t.Errorf("image dir = %s", filepath.Dir(f4))
	}
}

func TestLoadImageMissingFile(t *testing.T) {
	if _, err := LoadImage(filepath.Join(t.TempDir(), "nope.bin")); err == nil {
		t.Fatal("LoadImage succeeded on a missing file")
	}
}
