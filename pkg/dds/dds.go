// Package dds reads and writes DirectDraw Surface headers.
//
// Image-side groups carry no container header; when the image is a DDS
// file its header still names the pixel format, dimensions, mip count and
// array size. Decompressed output is wrapped in a DX10 DDS header so it can
// be opened by ordinary tools.
package dds

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/goopsie/texresolve/pkg/texture"
)

const (
	// Magic is "DDS " read as a little-endian uint32.
	Magic = 0x20534444

	headerSize      = 124
	pixelFormatSize = 32
	dx10HeaderSize  = 20

	// DataOffsetLegacy is where pixel data starts without a DX10 header.
	DataOffsetLegacy = 4 + headerSize
	// DataOffsetDX10 is where pixel data starts with a DX10 header.
	DataOffsetDX10 = DataOffsetLegacy + dx10HeaderSize
)

// Header flags.
const (
	FlagCaps        = 0x00000001
	FlagHeight      = 0x00000002
	FlagWidth       = 0x00000004
	FlagPitch       = 0x00000008
	FlagPixelFormat = 0x00001000
	FlagMipMapCount = 0x00020000
	FlagLinearSize  = 0x00080000
	FlagDepth       = 0x00800000
)

// Pixel format flags.
const (
	PFAlphaPixels = 0x00000001
	PFAlpha       = 0x00000002
	PFFourCC      = 0x00000004
	PFRGB         = 0x00000040
	PFLuminance   = 0x00020000
)

const (
	capsComplex = 0x00000008
	capsTexture = 0x00001000
	capsMipMap  = 0x00400000

	resourceDimensionTexture2D = 3
)

// ErrNotDDS is returned when the magic does not match.
var ErrNotDDS = errors.New("not a DDS file")

// Header is the DDS_HEADER structure that follows the magic.
type Header struct {
	Size              uint32
	Flags             uint32
	Height            uint32
	Width             uint32
	PitchOrLinearSize uint32
	Depth             uint32
	MipMapCount       uint32
	Reserved1         [11]uint32
	PixelFormat       PixelFormat
	Caps              uint32
	Caps2             uint32
	Caps3             uint32
	Caps4             uint32
	Reserved2         uint32
}

// PixelFormat is the DDS_PIXELFORMAT structure.
type PixelFormat struct {
	Size        uint32
	Flags       uint32
	FourCC      [4]byte
	RGBBitCount uint32
	RBitMask    uint32
	GBitMask    uint32
	BBitMask    uint32
	ABitMask    uint32
}

// DX10Header is the DDS_HEADER_DXT10 extension.
type DX10Header struct {
	DXGIFormat        uint32
	ResourceDimension uint32
	MiscFlag          uint32
	ArraySize         uint32
	MiscFlags2        uint32
}

// Info is the texture described by a DDS header.
type Info struct {
	Width      int
	Height     int
	MipLevels  uint8
	ArraySize  int
	Format     texture.PixelFormat
	DataOffset int
}

// Dimensions returns the top-level dimensions and mip count.
func (i *Info) Dimensions() texture.Dimensions {
	return texture.Dimensions{Width: i.Width, Height: i.Height, Mipmaps: i.MipLevels}
}

// Read parses the magic, header and optional DX10 extension from r.
func Read(r io.Reader) (*Info, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: magic 0x%08x", ErrNotDDS, magic)
	}

	var header Header
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header.Size != headerSize {
		return nil, fmt.Errorf("invalid header size %d", header.Size)
	}

	info := &Info{
		Width:      int(header.Width),
		Height:     int(header.Height),
		MipLevels:  uint8(min(max(header.MipMapCount, 1), 255)),
		ArraySize:  1,
		DataOffset: DataOffsetLegacy,
	}

	pf := header.PixelFormat
	switch {
	case pf.Flags&PFFourCC != 0 && string(pf.FourCC[:]) == "DX10":
		var dx10 DX10Header
		if err := binary.Read(r, binary.LittleEndian, &dx10); err != nil {
			return nil, fmt.Errorf("read DX10 header: %w", err)
		}
		info.Format = texture.PixelFormat(dx10.DXGIFormat)
		info.ArraySize = int(max(dx10.ArraySize, 1))
		info.DataOffset = DataOffsetDX10
	case pf.Flags&PFFourCC != 0:
		format, err := formatFromFourCC(pf.FourCC)
		if err != nil {
			return nil, err
		}
		info.Format = format
	default:
		format, err := formatFromMasks(pf)
		if err != nil {
			return nil, err
		}
		info.Format = format
	}

	return info, nil
}

func formatFromFourCC(fourCC [4]byte) (texture.PixelFormat, error) {
	switch string(fourCC[:]) {
	case "DXT1":
		return texture.DXGI_FORMAT_BC1_UNORM, nil
	case "DXT2", "DXT3":
		return texture.DXGI_FORMAT_BC2_UNORM, nil
	case "DXT4", "DXT5":
		return texture.DXGI_FORMAT_BC3_UNORM, nil
	case "ATI1", "BC4U":
		return texture.DXGI_FORMAT_BC4_UNORM, nil
	case "BC4S":
		return texture.DXGI_FORMAT_BC4_SNORM, nil
	case "ATI2", "BC5U":
		return texture.DXGI_FORMAT_BC5_UNORM, nil
	case "BC5S":
		return texture.DXGI_FORMAT_BC5_SNORM, nil
	}
	return texture.DXGI_FORMAT_UNKNOWN, fmt.Errorf("unsupported fourCC %q", fourCC[:])
}

func formatFromMasks(pf PixelFormat) (texture.PixelFormat, error) {
	switch {
	case pf.RGBBitCount == 32 && pf.RBitMask == 0x000000ff && pf.GBitMask == 0x0000ff00 && pf.BBitMask == 0x00ff0000:
		return texture.DXGI_FORMAT_R8G8B8A8_UNORM, nil
	case pf.RGBBitCount == 32 && pf.RBitMask == 0x00ff0000 && pf.GBitMask == 0x0000ff00 && pf.BBitMask == 0x000000ff:
		return texture.DXGI_FORMAT_B8G8R8A8_UNORM, nil
	case pf.RGBBitCount == 16 && pf.RBitMask == 0x00ff && pf.GBitMask == 0xff00:
		return texture.DXGI_FORMAT_R8G8_UNORM, nil
	case pf.RGBBitCount == 8 && (pf.Flags&(PFLuminance|PFRGB) != 0):
		return texture.DXGI_FORMAT_R8_UNORM, nil
	}
	return texture.DXGI_FORMAT_UNKNOWN, fmt.Errorf("unsupported uncompressed layout: %d bits, masks %08x/%08x/%08x",
		pf.RGBBitCount, pf.RBitMask, pf.GBitMask, pf.BBitMask)
}

// linearSize is the byte size of the top mip of one array slice.
func linearSize(format texture.PixelFormat, width, height int) uint32 {
	if format.Compressed() {
		blockSize := 16
		if format.CompressionRatio() == 8 {
			blockSize = 8
		}
		return uint32(max(1, (width+3)/4) * max(1, (height+3)/4) * blockSize)
	}
	return uint32(width * format.BytesPerPixel())
}

// NewHeader builds the magic, DDS header and DX10 extension for one tier of f.
func NewHeader(f *texture.TextureFormat, highRes bool) ([]byte, error) {
	d, ok := f.Tier(highRes)
	if !ok {
		return nil, errors.New("format has no high-res tier")
	}
	if !f.PixelFormat.Known() {
		return nil, fmt.Errorf("unknown pixel format %s", f.PixelFormat)
	}

	mips := max(d.Mipmaps, 1)
	header := Header{
		Size:        headerSize,
		Flags:       FlagCaps | FlagHeight | FlagWidth | FlagPixelFormat,
		Height:      uint32(d.Height),
		Width:       uint32(d.Width),
		MipMapCount: uint32(mips),
		PixelFormat: PixelFormat{
			Size:   pixelFormatSize,
			Flags:  PFFourCC,
			FourCC: [4]byte{'D', 'X', '1', '0'},
		},
		Caps: capsTexture,
	}
	header.PitchOrLinearSize = linearSize(f.PixelFormat, d.Width, d.Height)
	if f.PixelFormat.Compressed() {
		header.Flags |= FlagLinearSize
	} else {
		header.Flags |= FlagPitch
	}
	if mips > 1 {
		header.Flags |= FlagMipMapCount
		header.Caps |= capsComplex | capsMipMap
	}

	dx10 := DX10Header{
		DXGIFormat:        uint32(f.PixelFormat),
		ResourceDimension: resourceDimensionTexture2D,
		ArraySize:         uint32(max(f.ArraySize, 1)),
	}

	var buf bytes.Buffer
	buf.Grow(DataOffsetDX10)
	binary.Write(&buf, binary.LittleEndian, uint32(Magic))
	binary.Write(&buf, binary.LittleEndian, &header)
	binary.Write(&buf, binary.LittleEndian, &dx10)
	return buf.Bytes(), nil
}

// Write wraps payload in a DX10 DDS file for one tier of f. The payload
// must be exactly the tier's expected size.
func Write(w io.Writer, f *texture.TextureFormat, highRes bool, payload []byte) error {
	d, ok := f.Tier(highRes)
	if !ok {
		return errors.New("format has no high-res tier")
	}
	if err := texture.CheckSize(f.TierSize(d), len(payload)); err != nil {
		return fmt.Errorf("dds payload: %w", err)
	}

	header, err := NewHeader(f, highRes)
	if err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}
