// Package texture provides the pixel format table and the size arithmetic
// shared by every part of the format resolver.
//
// Texture containers carry a DXGI_FORMAT code for their payload. The payload
// itself is one base level per array slice followed by a chain of mip levels,
// each a quarter the size of the one before it. Every "does this buffer have
// the right number of bytes" question is answered by ExpectedSize; declared
// sizes in headers and sidecar files are only ever cross-checked against it.
package texture

import "fmt"

// PixelFormat is a DXGI_FORMAT enum value.
type PixelFormat uint32

// DXGI_FORMAT constants for the formats seen in texture containers.
const (
	DXGI_FORMAT_UNKNOWN             PixelFormat = 0
	DXGI_FORMAT_R16G16B16A16_FLOAT  PixelFormat = 10
	DXGI_FORMAT_R11G11B10_FLOAT     PixelFormat = 26
	DXGI_FORMAT_R8G8B8A8_UNORM      PixelFormat = 28
	DXGI_FORMAT_R8G8B8A8_UNORM_SRGB PixelFormat = 29
	DXGI_FORMAT_R8G8_UNORM          PixelFormat = 49
	DXGI_FORMAT_R8_UNORM            PixelFormat = 61
	DXGI_FORMAT_BC1_UNORM           PixelFormat = 71
	DXGI_FORMAT_BC1_UNORM_SRGB      PixelFormat = 72
	DXGI_FORMAT_BC2_UNORM           PixelFormat = 74
	DXGI_FORMAT_BC2_UNORM_SRGB      PixelFormat = 75
	DXGI_FORMAT_BC3_UNORM           PixelFormat = 77
	DXGI_FORMAT_BC3_UNORM_SRGB      PixelFormat = 78
	DXGI_FORMAT_BC4_UNORM           PixelFormat = 80
	DXGI_FORMAT_BC4_SNORM           PixelFormat = 81
	DXGI_FORMAT_BC5_UNORM           PixelFormat = 83
	DXGI_FORMAT_BC5_SNORM           PixelFormat = 84
	DXGI_FORMAT_B8G8R8A8_UNORM      PixelFormat = 87
	DXGI_FORMAT_B8G8R8A8_UNORM_SRGB PixelFormat = 91
	DXGI_FORMAT_BC6H_UF16           PixelFormat = 95
	DXGI_FORMAT_BC6H_SF16           PixelFormat = 96
	DXGI_FORMAT_BC7_UNORM           PixelFormat = 98
	DXGI_FORMAT_BC7_UNORM_SRGB      PixelFormat = 99
)

// formatInfo describes the decoded pixel size and the block compression ratio.
// Block formats are described against 4 bytes per decoded pixel: BC1 and BC4
// store 8 bytes per 4x4 block (ratio 8), the rest 16 bytes per block (ratio 4).
type formatInfo struct {
	name             string
	bytesPerPixel    int
	compressionRatio int
	srgb             bool
}

var formats = map[PixelFormat]formatInfo{
	DXGI_FORMAT_R16G16B16A16_FLOAT:  {"R16G16B16A16_FLOAT", 8, 1, false},
	DXGI_FORMAT_R11G11B10_FLOAT:     {"R11G11B10_FLOAT", 4, 1, false},
	DXGI_FORMAT_R8G8B8A8_UNORM:      {"R8G8B8A8_UNORM", 4, 1, false},
	DXGI_FORMAT_R8G8B8A8_UNORM_SRGB: {"R8G8B8A8_UNORM_SRGB", 4, 1, true},
	DXGI_FORMAT_R8G8_UNORM:          {"R8G8_UNORM", 2, 1, false},
	DXGI_FORMAT_R8_UNORM:            {"R8_UNORM", 1, 1, false},
	DXGI_FORMAT_BC1_UNORM:           {"BC1_UNORM", 4, 8, false},
	DXGI_FORMAT_BC1_UNORM_SRGB:      {"BC1_UNORM_SRGB", 4, 8, true},
	DXGI_FORMAT_BC2_UNORM:           {"BC2_UNORM", 4, 4, false},
	DXGI_FORMAT_BC2_UNORM_SRGB:      {"BC2_UNORM_SRGB", 4, 4, true},
	DXGI_FORMAT_BC3_UNORM:           {"BC3_UNORM", 4, 4, false},
	DXGI_FORMAT_BC3_UNORM_SRGB:      {"BC3_UNORM_SRGB", 4, 4, true},
	DXGI_FORMAT_BC4_UNORM:           {"BC4_UNORM", 4, 8, false},
	DXGI_FORMAT_BC4_SNORM:           {"BC4_SNORM", 4, 8, false},
	DXGI_FORMAT_BC5_UNORM:           {"BC5_UNORM", 4, 4, false},
	DXGI_FORMAT_BC5_SNORM:           {"BC5_SNORM", 4, 4, false},
	DXGI_FORMAT_B8G8R8A8_UNORM:      {"B8G8R8A8_UNORM", 4, 1, false},
	DXGI_FORMAT_B8G8R8A8_UNORM_SRGB: {"B8G8R8A8_UNORM_SRGB", 4, 1, true},
	DXGI_FORMAT_BC6H_UF16:           {"BC6H_UF16", 4, 4, false},
	DXGI_FORMAT_BC6H_SF16:           {"BC6H_SF16", 4, 4, false},
	DXGI_FORMAT_BC7_UNORM:           {"BC7_UNORM", 4, 4, false},
	DXGI_FORMAT_BC7_UNORM_SRGB:      {"BC7_UNORM_SRGB", 4, 4, true},
}

// Known reports whether the size arithmetic for f is known.
func (f PixelFormat) Known() bool {
	_, ok := formats[f]
	return ok
}

// BytesPerPixel returns the decoded bytes per pixel, or 0 for unknown formats.
func (f PixelFormat) BytesPerPixel() int {
	return formats[f].bytesPerPixel
}

// CompressionRatio returns how many decoded bytes map to one stored byte.
// Unknown formats report 1.
func (f PixelFormat) CompressionRatio() int {
	if info, ok := formats[f]; ok {
		return info.compressionRatio
	}
	return 1
}

// Compressed reports whether f is a block compressed format.
func (f PixelFormat) Compressed() bool {
	return f.CompressionRatio() > 1
}

// SRGB reports whether f stores gamma encoded color.
func (f PixelFormat) SRGB() bool {
	return formats[f].srgb
}

// String returns a human-readable name for the format.
func (f PixelFormat) String() string {
	if info, ok := formats[f]; ok {
		return info.name
	}
	return fmt.Sprintf("UNKNOWN(0x%x)", uint32(f))
}
