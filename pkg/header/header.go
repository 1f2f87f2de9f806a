// Package header reads and writes the fixed 128-byte prefix of texture
// container files.
//
// Layout (little-endian):
//
//	0x00  FileHeader     36 bytes  magic, header length, data length (x2), reserved
//	0x24  TextureHeader  28 bytes  three magics, header length, version, block lengths
//	0x40  Tag            20 bytes  fixed ASCII tag
//	0x54  FormatBlock    44 bytes  dimensions, array size, pixel format, mips
//	0x80  payload
//
// Containers are written by several tools that do not fully agree with each
// other. Redundant fields are cross-checked and disagreements are reported
// as diagnostics; decoding continues with the primary copy.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/goopsie/texresolve/pkg/texture"
)

// Size is the fixed binary size of a container header.
const Size = 128

const (
	fileHeaderSize    = 36
	textureHeaderSize = 28
	tagSize           = 20
	formatBlockSize   = 44

	fileHeaderOffset    = 0x00
	textureHeaderOffset = fileHeaderOffset + fileHeaderSize   // 0x24
	tagOffset           = textureHeaderOffset + textureHeaderSize // 0x40
	formatBlockOffset   = tagOffset + tagSize                 // 0x54
)

// Magic bytes identifying a headered container.
var Magic = [4]byte{0x54, 0x45, 0x58, 0x31} // "TEX1"

// TextureMagic is the constant triple opening the texture header.
var TextureMagic = [3]uint32{0x54585452, 0x00000003, 0x00000001}

// Tag is the fixed ASCII tag between the texture header and the format block.
var Tag = [tagSize]byte{'T', 'e', 'x', 't', 'u', 'r', 'e', 'F', 'o', 'r', 'm', 'a', 't', 'H', 'e', 'a', 'd', 'e', 'r', 0}

const (
	// HeaderLength is stored at 0x04 and repeated at 0x30.
	HeaderLength = Size
	// Version is the only supported texture header version.
	Version = 1
	// FormatBlockLength is stored at 0x3C.
	FormatBlockLength = formatBlockSize
	// BlockLength is stored at 0x38; always FormatBlockLength + 4.
	BlockLength = FormatBlockLength + 4
)

// ErrMalformed is returned for headers whose format block cannot describe a texture.
var ErrMalformed = errors.New("malformed container header")

// FileHeader is the leading 36 bytes of a container.
type FileHeader struct {
	Magic          [4]byte  // +0x00
	HeaderLength   uint32   // +0x04
	DataLength     uint32   // +0x08: payload length, primary copy
	Reserved0      [8]byte  // +0x0C
	DataLengthCopy uint32   // +0x14
	Reserved1      [12]byte // +0x18
}

// TextureHeader follows the file header.
type TextureHeader struct {
	Magic             [3]uint32 // +0x24
	HeaderLength      uint32    // +0x30
	Version           uint32    // +0x34
	BlockLength       uint32    // +0x38
	FormatBlockLength uint32    // +0x3C
}

// FormatBlock describes the texture stored in the payload.
type FormatBlock struct {
	Width           uint16   // +0x54
	Height          uint16   // +0x56
	HighResWidth    uint16   // +0x58: zero when there is no high-res tier
	HighResHeight   uint16   // +0x5A
	ArraySize       uint32   // +0x5C
	PixelFormat     uint32   // +0x60: DXGI_FORMAT, primary copy
	PixelFormatCopy uint32   // +0x64
	PlaneFlags      uint8    // +0x68
	Mipmaps         uint8    // +0x69
	HighResMipmaps  uint8    // +0x6A
	Reserved        [21]byte // +0x6B
}

// HasHighRes reports whether the block declares a high-res tier.
func (b *FormatBlock) HasHighRes() bool {
	return b.HighResWidth != 0 && b.HighResHeight != 0
}

// Header is a decoded container prefix.
type Header struct {
	File    FileHeader
	Texture TextureHeader
	Tag     [tagSize]byte
	Block   FormatBlock

	// Diagnostics collects the structural warnings found while decoding.
	Diagnostics []Diagnostic
}

// Diagnostic is a non-fatal structural warning tagged with a stable field name.
type Diagnostic struct {
	Field   string
	Message string
}

func (d Diagnostic) String() string {
	return d.Field + ": " + d.Message
}

// Validate checks that the header can describe a texture at all.
func (h *Header) Validate() error {
	if h.File.Magic != Magic {
		return fmt.Errorf("invalid magic: expected %x, got %x", Magic, h.File.Magic)
	}
	if h.Block.Width == 0 || h.Block.Height == 0 {
		return fmt.Errorf("%w: zero standard dimensions %dx%d", ErrMalformed, h.Block.Width, h.Block.Height)
	}
	if h.Block.ArraySize == 0 {
		return fmt.Errorf("%w: zero array size", ErrMalformed)
	}
	if (h.Block.HighResWidth == 0) != (h.Block.HighResHeight == 0) {
		return fmt.Errorf("%w: partial high-res dimensions %dx%d", ErrMalformed, h.Block.HighResWidth, h.Block.HighResHeight)
	}

	pf := texture.PixelFormat(h.Block.PixelFormat)
	if !pf.Known() {
		return nil
	}
	if texture.ExpectedSize(pf, int(h.Block.Width), int(h.Block.Height), int(h.Block.ArraySize), h.Block.Mipmaps) == 0 {
		return fmt.Errorf("%w: standard tier %dx%d x%d: %w", ErrMalformed, h.Block.Width, h.Block.Height, h.Block.ArraySize, texture.ErrUnrepresentable)
	}
	if h.Block.HasHighRes() &&
		texture.ExpectedSize(pf, int(h.Block.HighResWidth), int(h.Block.HighResHeight), int(h.Block.ArraySize), h.Block.HighResMipmaps) == 0 {
		return fmt.Errorf("%w: high-res tier %dx%d x%d: %w", ErrMalformed, h.Block.HighResWidth, h.Block.HighResHeight, h.Block.ArraySize, texture.ErrUnrepresentable)
	}
	return nil
}

// MarshalBinary encodes the header to binary format.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	h.EncodeTo(buf)
	return buf, nil
}

// EncodeTo writes the header to the given buffer.
// The buffer must be at least Size bytes.
func (h *Header) EncodeTo(buf []byte) {
	le := binary.LittleEndian

	copy(buf[0x00:0x04], h.File.Magic[:])
	le.PutUint32(buf[0x04:0x08], h.File.HeaderLength)
	le.PutUint32(buf[0x08:0x0C], h.File.DataLength)
	copy(buf[0x0C:0x14], h.File.Reserved0[:])
	le.PutUint32(buf[0x14:0x18], h.File.DataLengthCopy)
	copy(buf[0x18:0x24], h.File.Reserved1[:])

	for i, m := range h.Texture.Magic {
		le.PutUint32(buf[0x24+4*i:0x28+4*i], m)
	}
	le.PutUint32(buf[0x30:0x34], h.Texture.HeaderLength)
	le.PutUint32(buf[0x34:0x38], h.Texture.Version)
	le.PutUint32(buf[0x38:0x3C], h.Texture.BlockLength)
	le.PutUint32(buf[0x3C:0x40], h.Texture.FormatBlockLength)

	copy(buf[tagOffset:formatBlockOffset], h.Tag[:])

	le.PutUint16(buf[0x54:0x56], h.Block.Width)
	le.PutUint16(buf[0x56:0x58], h.Block.Height)
	le.PutUint16(buf[0x58:0x5A], h.Block.HighResWidth)
	le.PutUint16(buf[0x5A:0x5C], h.Block.HighResHeight)
	le.PutUint32(buf[0x5C:0x60], h.Block.ArraySize)
	le.PutUint32(buf[0x60:0x64], h.Block.PixelFormat)
	le.PutUint32(buf[0x64:0x68], h.Block.PixelFormatCopy)
	buf[0x68] = h.Block.PlaneFlags
	buf[0x69] = h.Block.Mipmaps
	buf[0x6A] = h.Block.HighResMipmaps
	copy(buf[0x6B:Size], h.Block.Reserved[:])
}

// UnmarshalBinary decodes the header from binary format.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < Size {
		return fmt.Errorf("header data too short: need %d, got %d", Size, len(data))
	}
	h.DecodeFrom(data)
	return h.Validate()
}

// DecodeFrom reads the header from the given buffer.
// Does not validate - use UnmarshalBinary for validation.
func (h *Header) DecodeFrom(data []byte) {
	le := binary.LittleEndian

	copy(h.File.Magic[:], data[0x00:0x04])
	h.File.HeaderLength = le.Uint32(data[0x04:0x08])
	h.File.DataLength = le.Uint32(data[0x08:0x0C])
	copy(h.File.Reserved0[:], data[0x0C:0x14])
	h.File.DataLengthCopy = le.Uint32(data[0x14:0x18])
	copy(h.File.Reserved1[:], data[0x18:0x24])

	for i := range h.Texture.Magic {
		h.Texture.Magic[i] = le.Uint32(data[0x24+4*i : 0x28+4*i])
	}
	h.Texture.HeaderLength = le.Uint32(data[0x30:0x34])
	h.Texture.Version = le.Uint32(data[0x34:0x38])
	h.Texture.BlockLength = le.Uint32(data[0x38:0x3C])
	h.Texture.FormatBlockLength = le.Uint32(data[0x3C:0x40])

	copy(h.Tag[:], data[tagOffset:formatBlockOffset])

	h.Block.Width = le.Uint16(data[0x54:0x56])
	h.Block.Height = le.Uint16(data[0x56:0x58])
	h.Block.HighResWidth = le.Uint16(data[0x58:0x5A])
	h.Block.HighResHeight = le.Uint16(data[0x5A:0x5C])
	h.Block.ArraySize = le.Uint32(data[0x5C:0x60])
	h.Block.PixelFormat = le.Uint32(data[0x60:0x64])
	h.Block.PixelFormatCopy = le.Uint32(data[0x64:0x68])
	h.Block.PlaneFlags = data[0x68]
	h.Block.Mipmaps = data[0x69]
	h.Block.HighResMipmaps = data[0x6A]
	copy(h.Block.Reserved[:], data[0x6B:Size])
}

// New returns a well-formed header with every constant field filled in.
func New(block FormatBlock, dataLength uint32) *Header {
	block.PixelFormatCopy = block.PixelFormat
	return &Header{
		File: FileHeader{
			Magic:          Magic,
			HeaderLength:   HeaderLength,
			DataLength:     dataLength,
			DataLengthCopy: dataLength,
		},
		Texture: TextureHeader{
			Magic:             TextureMagic,
			HeaderLength:      HeaderLength,
			Version:           Version,
			BlockLength:       BlockLength,
			FormatBlockLength: FormatBlockLength,
		},
		Tag:   Tag,
		Block: block,
	}
}
