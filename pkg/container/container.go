// Package container reads rBPF container images.
//
// A container image is a flat byte buffer holding a fixed 32-byte header
// followed contiguously by the initial data section, the read-only data
// section and the instruction stream:
//
//	magic | version | flags | data_len | bss_len | rodata_len | text_len | functions
//	data[data_len] | rodata[rodata_len] | text[text_len]
//
// All header fields are little-endian uint32 values. The bss section has no
// bytes in the image; it is zero-filled when an instance is set up.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/femtovm/internal/types"
)

// Magic is the header magic number ("rBPF").
const Magic = uint32(0x72425046)

// HeaderSize is the encoded size of Header.
const HeaderSize = 32

// MaxImageSize bounds the size of an accepted image.
const MaxImageSize = 16 * 1024 * 1024

// Container errors.
var (
	ErrBadMagic  = errors.New("bad container magic")
	ErrTruncated = errors.New("container truncated")
	ErrTooLarge  = errors.New("container too large")
)

// Header is the fixed container header.
type Header struct {
	Magic     uint32
	Version   uint32
	Flags     uint32
	DataLen   uint32
	BssLen    uint32
	RodataLen uint32
	TextLen   uint32
	Functions uint32
}

// ParseHeader decodes the header at the start of b without validating it.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(b), HeaderSize)
	}
	le := binary.LittleEndian
	return Header{
		Magic:     le.Uint32(b[0:]),
		Version:   le.Uint32(b[4:]),
		Flags:     le.Uint32(b[8:]),
		DataLen:   le.Uint32(b[12:]),
		BssLen:    le.Uint32(b[16:]),
		RodataLen: le.Uint32(b[20:]),
		TextLen:   le.Uint32(b[24:]),
		Functions: le.Uint32(b[28:]),
	}, nil
}

// Encode appends the little-endian encoding of h to b.
func (h Header) Encode(b []byte) []byte {
	le := binary.LittleEndian
	b = le.AppendUint32(b, h.Magic)
	b = le.AppendUint32(b, h.Version)
	b = le.AppendUint32(b, h.Flags)
	b = le.AppendUint32(b, h.DataLen)
	b = le.AppendUint32(b, h.BssLen)
	b = le.AppendUint32(b, h.RodataLen)
	b = le.AppendUint32(b, h.TextLen)
	b = le.AppendUint32(b, h.Functions)
	return b
}

// MutableLen returns the size of the data+bss segment rounded up to 4 bytes.
func (h Header) MutableLen() uint64 {
	n := uint64(h.DataLen) + uint64(h.BssLen)
	return (n + 3) &^ 3
}

// Container is a parsed, immutable container image.
type Container struct {
	image  []byte
	header Header

	data   []byte
	rodata []byte
	text   []byte
}

// Parse validates the header of image and slices out its sections.
// The image is referenced, not copied; callers must not modify it afterwards.
func Parse(image []byte) (*Container, error) {
	if len(image) > MaxImageSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(image), MaxImageSize)
	}
	h, err := ParseHeader(image)
	if err != nil {
		return nil, err
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, h.Magic)
	}

	dataStart := uint64(HeaderSize)
	rodataStart := dataStart + uint64(h.DataLen)
	textStart := rodataStart + uint64(h.RodataLen)
	end := textStart + uint64(h.TextLen)
	if end > uint64(len(image)) {
		return nil, fmt.Errorf("%w: sections need %d bytes, image has %d", ErrTruncated, end, len(image))
	}

	return &Container{
		image:  image,
		header: h,
		data:   image[dataStart:rodataStart:rodataStart],
		rodata: image[rodataStart:textStart:textStart],
		text:   image[textStart:end:end],
	}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(image []byte) *Container {
	c, err := Parse(image)
	if err != nil {
		panic(fmt.Sprintf("container: %v", err))
	}
	return c
}

// Header returns the container header.
func (c *Container) Header() Header { return c.header }

// Data returns the initial data section.
func (c *Container) Data() []byte { return c.data }

// Rodata returns the read-only data section.
func (c *Container) Rodata() []byte { return c.rodata }

// Text returns the instruction stream.
func (c *Container) Text() []byte { return c.text }

// Bytes returns the raw image.
func (c *Container) Bytes() []byte { return c.image }

// Len returns the image length in bytes.
func (c *Container) Len() int { return len(c.image) }

// Digest returns the BLAKE3 hash of the raw image.
func (c *Container) Digest() types.Digest {
	return types.Digest(blake3.Sum256(c.image))
}
