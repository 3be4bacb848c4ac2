package container

import (
	"bytes"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the frame magic of a zstd-compressed stream.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ReadFile loads and parses a container image from disk. Images stored as
// zstd frames are decompressed transparently.
func ReadFile(path string) (*Container, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read container: %w", err)
	}
	image, err := Decompress(raw)
	if err != nil {
		return nil, err
	}
	return Parse(image)
}

// Decompress returns raw unchanged unless it starts with a zstd frame, in
// which case the decoded image is returned.
func Decompress(raw []byte) ([]byte, error) {
	if !bytes.HasPrefix(raw, zstdMagic) {
		return raw, nil
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxImageSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()

	image, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress container: %w", err)
	}
	return image, nil
}

// Compress encodes image as a single zstd frame.
func Compress(image []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(image, nil), nil
}
