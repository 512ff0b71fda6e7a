package panda

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"

	"github.com/herlein/gopanda/pkg/dfu"
)

// SignatureSize is the fixed length of the trailing firmware signature.
const SignatureSize = 128

// Default image file names under <installRoot>/board/obj. Signed builds
// carry the signature as their last 128 bytes.
const (
	defaultImageName   = "panda.bin.signed"
	defaultImageNameH7 = "panda_h7.bin.signed"
)

// Image is a firmware image ready to flash. Code is the full byte
// stream written to the device; Signature is its trailing 128 bytes,
// kept separately for verification against the device's readback.
type Image struct {
	Code      []byte
	Signature []byte
}

// LoadImage reads a firmware image from disk. Intel HEX files
// (.hex extension) are flattened to a contiguous binary; anything else
// is read raw. The signature is taken from the end of the resulting
// byte stream.
func LoadImage(path string) (*Image, error) {
	var code []byte
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		flat, err := flattenHex(path)
		if err != nil {
			return nil, err
		}
		code = flat
	} else {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", path, err)
		}
		code = raw
	}

	img := &Image{Code: code}
	if len(code) >= SignatureSize {
		img.Signature = code[len(code)-SignatureSize:]
	}
	return img, nil
}

// ReadSignature reads only the trailing signature of an image file via
// a seek from the end, independent of the bytes streamed during
// flashing.
func ReadSignature(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(-SignatureSize, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("image %s is too short for a signature: %w", path, err)
	}
	sig := make([]byte, SignatureSize)
	if _, err := io.ReadFull(f, sig); err != nil {
		return nil, fmt.Errorf("failed to read signature of %s: %w", path, err)
	}
	return sig, nil
}

// DefaultImagePath resolves the default firmware image for an MCU
// family under an install root.
func DefaultImagePath(installRoot string, mcu dfu.McuType) string {
	name := defaultImageName
	if mcu == dfu.McuH7 {
		name = defaultImageNameH7
	}
	return filepath.Join(installRoot, "board", "obj", name)
}

// flattenHex parses an Intel HEX file and lays its data segments out
// contiguously, filling gaps with erased-flash 0xff.
func flattenHex(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return nil, fmt.Errorf("failed to parse hex image %s: %w", path, err)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, fmt.Errorf("hex image %s contains no data", path)
	}

	base := segments[0].Address
	end := base
	for _, seg := range segments {
		if seg.Address < base {
			base = seg.Address
		}
		if segEnd := seg.Address + uint32(len(seg.Data)); segEnd > end {
			end = segEnd
		}
	}

	flat := make([]byte, end-base)
	for i := range flat {
		flat[i] = 0xff
	}
	for _, seg := range segments {
		copy(flat[seg.Address-base:], seg.Data)
	}
	return flat, nil
}
