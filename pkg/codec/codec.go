// Package codec is the boundary to the external texture codec.
//
// The pixel work itself (block compression, decompression, mip generation
// and resizing) belongs to a library behind the Native interface; Software
// is the implementation built into this module. This package owns native
// handles and checks the size of every buffer that crosses the boundary
// against texture.ExpectedSize.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goopsie/texresolve/pkg/texture"
)

// ErrUnsupported is returned for operations the selected backend cannot do.
var ErrUnsupported = errors.New("not supported by codec backend")

// ErrClosed is returned when a released handle is used.
var ErrClosed = errors.New("codec handle closed")

// Backend selects how images are loaded. It is chosen once from
// configuration.
type Backend int

const (
	// NativeCodec loads every image through the native library.
	NativeCodec Backend = iota
	// GenericDecoder reads image metadata with Go decoders. It cannot
	// transcode.
	GenericDecoder
)

func (b Backend) String() string {
	switch b {
	case NativeCodec:
		return "native"
	case GenericDecoder:
		return "generic"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend parses a backend name as written in configuration. An
// empty name selects GenericDecoder.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native":
		return NativeCodec, nil
	case "generic", "":
		return GenericDecoder, nil
	}
	return 0, fmt.Errorf("unknown codec backend %q", s)
}

// NativeHandle is an opaque handle owned by the native library.
type NativeHandle uintptr

// Request describes the texture a native operation works on.
type Request struct {
	Format    texture.PixelFormat
	Width     int
	Height    int
	ArraySize int
	Mipmaps   uint8
}

// Size returns ExpectedSize for the request.
func (r Request) Size() int {
	return texture.ExpectedSize(r.Format, r.Width, r.Height, r.ArraySize, r.Mipmaps)
}

// ImageInfo is what the codec reports about a loaded image.
type ImageInfo struct {
	Width     int
	Height    int
	MipCount  uint8
	ArraySize int
	Format    texture.PixelFormat
}

// Dimensions returns the top-level dimensions and mip count.
func (i ImageInfo) Dimensions() texture.Dimensions {
	return texture.Dimensions{Width: i.Width, Height: i.Height, Mipmaps: i.MipCount}
}

// Native is the external codec library.
//
// Compress takes pixels in DecodedFormat(req.Format) and returns req.Format
// blocks; Decompress is its inverse. GenerateMipmaps fills req.Mipmaps
// levels from a single top level. Resize scales a single level described
// by req to width x height.
type Native interface {
	Load(data []byte) (NativeHandle, error)
	Metadata(h NativeHandle) (ImageInfo, error)
	Release(h NativeHandle)

	Compress(req Request, pixels []byte) ([]byte, error)
	Decompress(req Request, data []byte) ([]byte, error)
	GenerateMipmaps(req Request, pixels []byte) ([]byte, error)
	Resize(req Request, pixels []byte, width, height int) ([]byte, error)
}

// Handle owns one native image handle. Close releases it exactly once and
// is safe to call from every exit path.
type Handle struct {
	native Native
	raw    NativeHandle
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

// Open loads data through n and takes ownership of the resulting handle.
func Open(n Native, data []byte) (*Handle, error) {
	raw, err := n.Load(data)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	return &Handle{native: n, raw: raw}, nil
}

// Metadata reports the loaded image's dimensions and format.
func (h *Handle) Metadata() (ImageInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ImageInfo{}, ErrClosed
	}
	return h.native.Metadata(h.raw)
}

// Close releases the native handle.
func (h *Handle) Close() error {
	h.once.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed = true
		h.native.Release(h.raw)
	})
	return nil
}

// DecodedFormat is the uncompressed format a block format decompresses to.
// Uncompressed formats decode to themselves.
func DecodedFormat(pf texture.PixelFormat) texture.PixelFormat {
	switch pf {
	case texture.DXGI_FORMAT_BC4_UNORM, texture.DXGI_FORMAT_BC4_SNORM:
		return texture.DXGI_FORMAT_R8_UNORM
	case texture.DXGI_FORMAT_BC5_UNORM, texture.DXGI_FORMAT_BC5_SNORM:
		return texture.DXGI_FORMAT_R8G8_UNORM
	case texture.DXGI_FORMAT_BC6H_UF16, texture.DXGI_FORMAT_BC6H_SF16:
		return texture.DXGI_FORMAT_R16G16B16A16_FLOAT
	}
	if !pf.Compressed() {
		return pf
	}
	if pf.SRGB() {
		return texture.DXGI_FORMAT_R8G8B8A8_UNORM_SRGB
	}
	return texture.DXGI_FORMAT_R8G8B8A8_UNORM
}
